package agent

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stone-age-io/channel-validator/internal/config"
	natsclient "github.com/stone-age-io/channel-validator/internal/nats"
	"github.com/stone-age-io/channel-validator/internal/report"
	"github.com/stone-age-io/channel-validator/internal/scheduler"
	"go.uber.org/zap"
)

// Agent is the long-running watch mode: scheduled audits, report output
// and, when enabled, NATS publishing and remote commands
type Agent struct {
	config     *config.Config
	logger     *zap.Logger
	components *Components
	nats       *natsclient.Client
	scheduler  *scheduler.Scheduler
	handlers   *natsclient.CommandHandlers
	version    string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// New wires an agent from cfg. Nothing runs until Run.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Agent, error) {
	logger.Info("Starting channel-validator",
		zap.String("version", version),
		zap.String("hub", cfg.BuildSys.HubURL))

	components, err := NewComponents(cfg, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		config:     cfg,
		logger:     logger,
		components: components,
		version:    version,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	if cfg.NATS.Enabled {
		logger.Info("Connecting to NATS...")
		client, err := natsclient.NewClient(&cfg.NATS, logger)
		if err != nil {
			cancel()
			components.Close()
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		a.nats = client

		a.handlers = natsclient.NewCommandHandlers(ctx, logger, cfg.NATS.SubjectPrefix, components.Auditor, version, cfg.BuildSys.HubURL)
		if err := a.handlers.SubscribeAll(client); err != nil {
			cancel()
			client.Close()
			components.Close()
			return nil, fmt.Errorf("failed to subscribe to commands: %w", err)
		}
	}

	sched, err := scheduler.New(ctx, logger)
	if err != nil {
		a.closeConnections()
		return nil, err
	}
	if err := sched.Every("audit", cfg.Schedule.Interval, cfg.Schedule.RunOnStart, a.RunAudit); err != nil {
		a.closeConnections()
		return nil, err
	}
	a.scheduler = sched

	return a, nil
}

// RunAudit runs one audit of the configured channels and emits the report
func (a *Agent) RunAudit(ctx context.Context) error {
	res, err := a.components.Auditor.Run(ctx, a.config.Audit.Channels)
	if err != nil {
		return err
	}

	r := report.New(report.NewMeta(ctx, a.version, a.config.BuildSys.HubURL, a.logger), res.Channels)
	return a.emit(r)
}

// emit writes the report everywhere it is configured to go. Every sink is
// attempted; the first failure is returned.
func (a *Agent) emit(r *report.Report) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	// Watch mode only writes the report when a file is configured; stdout
	// belongs to the console log
	if a.config.Report.Output != "" {
		keep(WriteReport(a.config.Report, r, nil))
	}
	if a.config.Report.MetricsFile != "" {
		if err := report.WriteMetricsFile(a.config.Report.MetricsFile, r, time.Now()); err != nil {
			a.logger.Warn("Failed to write metrics file",
				zap.String("path", a.config.Report.MetricsFile),
				zap.Error(err))
			keep(err)
		}
	}
	if a.nats != nil {
		if err := natsclient.PublishReport(a.nats, a.config.NATS.SubjectPrefix, r, a.logger); err != nil {
			a.logger.Warn("Failed to publish report", zap.Error(err))
			keep(err)
		}
	}

	drifted := 0
	for _, ch := range r.Channels {
		if !ch.Consistent {
			drifted++
		}
	}
	a.logger.Info("Report emitted",
		zap.Int("channels", len(r.Channels)),
		zap.Int("drifted", drifted))

	return firstErr
}

// Run starts the scheduler and blocks until a shutdown signal or Stop
func (a *Agent) Run() error {
	defer close(a.done)

	a.scheduler.Start()

	a.logger.Info("Agent running",
		zap.Duration("interval", a.config.Schedule.Interval),
		zap.Bool("nats", a.nats != nil),
		zap.String("version", a.version))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		a.logger.Info("Received shutdown signal")
	case <-a.ctx.Done():
		a.logger.Info("Context cancelled")
	}

	return a.Shutdown()
}

// Stop asks Run to shut down and waits until it has
func (a *Agent) Stop() {
	a.cancel()
	<-a.done
}

// Shutdown gracefully shuts down the agent
func (a *Agent) Shutdown() error {
	a.logger.Info("Shutting down agent gracefully")

	// Cancel first so a running audit stops early
	a.cancel()

	if err := a.scheduler.Shutdown(); err != nil {
		a.logger.Error("Error shutting down scheduler", zap.Error(err))
	}

	if a.nats != nil {
		if err := a.nats.Flush(a.config.NATS.DrainTimeout); err != nil {
			a.logger.Warn("Reports not acknowledged before shutdown", zap.Error(err))
		}
		if err := a.nats.Drain(a.config.NATS.DrainTimeout); err != nil {
			a.logger.Error("Error draining NATS", zap.Error(err))
		}
	}

	a.components.Close()

	a.logger.Info("Agent shutdown complete")
	a.logger.Sync()
	return nil
}

func (a *Agent) closeConnections() {
	a.cancel()
	if a.nats != nil {
		a.nats.Close()
	}
	a.components.Close()
}
