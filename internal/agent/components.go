// Package agent wires configuration into the audit pipeline and runs the
// long-lived watch mode around it.
package agent

import (
	"fmt"
	"io"
	"os"

	"github.com/stone-age-io/channel-validator/internal/audit"
	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"github.com/stone-age-io/channel-validator/internal/config"
	"github.com/stone-age-io/channel-validator/internal/logstore"
	"github.com/stone-age-io/channel-validator/internal/report"
	"github.com/stone-age-io/channel-validator/internal/validator"
	"go.uber.org/zap"
)

// Components is the audit pipeline built from a configuration
type Components struct {
	Session    *buildsys.Session
	Logs       logstore.Fetcher
	Aggregator *validator.Aggregator
	Auditor    *audit.Auditor
}

// NewComponents builds the hub session, log fetcher, aggregator and auditor
func NewComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	session, err := buildsys.NewSession(buildsys.Options{
		HubURL:     cfg.BuildSys.HubURL,
		Timeout:    cfg.BuildSys.Timeout,
		TaskMethod: cfg.BuildSys.TaskMethod,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create hub session: %w", err)
	}

	logs, err := logstore.New(logstore.Options{
		TopURL:    cfg.LogStore.TopURL,
		Timeout:   cfg.LogStore.Timeout,
		MaxBytes:  cfg.LogStore.MaxBytes,
		RateLimit: cfg.LogStore.RequestsPerSecond,
		Burst:     cfg.LogStore.Burst,
	}, logger)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to create log store: %w", err)
	}

	aggregator := validator.NewAggregator(logger, session, logs, validator.AggregatorOptions{
		TaskLimit:        cfg.BuildSys.TaskLimit,
		FetchConcurrency: cfg.LogStore.FetchConcurrency,
	})

	auditor := audit.NewAuditor(logger, session, aggregator, audit.Options{
		Concurrency:     cfg.Audit.Concurrency,
		IncludeDisabled: cfg.Audit.IncludeDisabled,
	})

	return &Components{
		Session:    session,
		Logs:       logs,
		Aggregator: aggregator,
		Auditor:    auditor,
	}, nil
}

// Close releases the hub session
func (c *Components) Close() {
	c.Session.Close()
}

// WriteReport renders r in the configured format to the configured output
// file, or to stdout when no file is set
func WriteReport(cfg config.ReportConfig, r *report.Report, stdout io.Writer) error {
	if cfg.Output == "" {
		if stdout == nil {
			stdout = os.Stdout
		}
		return report.Write(stdout, r, cfg.Format)
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := report.Write(f, r, cfg.Format); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}
