// Package audit runs the full drift audit: collect channels, fingerprint
// their hosts with bounded parallelism and partition every channel into
// config groups.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/stone-age-io/channel-validator/internal/buildsys"
	"github.com/stone-age-io/channel-validator/internal/validator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Hub is the hub surface the auditor needs beyond the aggregator
type Hub interface {
	validator.ChannelLister
	GetHost(ctx context.Context, nameOrID string) (*buildsys.Host, error)
}

// Populator fingerprints a single host
type Populator interface {
	Populate(ctx context.Context, host *validator.Host) error
}

// Options configures an Auditor
type Options struct {
	// Concurrency caps how many hosts of a channel are fingerprinted at once
	Concurrency int

	// IncludeDisabled fingerprints and groups disabled hosts as well
	IncludeDisabled bool
}

// Result is the outcome of one audit run
type Result struct {
	Channels     []*validator.Channel
	Started      time.Time
	Finished     time.Time
	HostsAudited int
	HostErrors   int
}

// Auditor ties the collector, aggregator and checker together
type Auditor struct {
	hub       Hub
	populator Populator
	logger    *zap.Logger
	opts      Options
	stats     *Stats
}

// NewAuditor creates an auditor
func NewAuditor(logger *zap.Logger, hub Hub, populator Populator, opts Options) *Auditor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return &Auditor{
		hub:       hub,
		populator: populator,
		logger:    logger,
		opts:      opts,
		stats:     NewStats(),
	}
}

// Stats returns the auditor's run statistics
func (a *Auditor) Stats() *Stats {
	return a.stats
}

// Run audits the named channels, or every channel when names is empty.
// Collector errors abort the run. A host that cannot be fingerprinted is
// logged, counted and left without a fingerprint; its channel is still
// checked.
func (a *Auditor) Run(ctx context.Context, names []string) (*Result, error) {
	res := &Result{Started: time.Now()}

	a.logger.Info("Starting audit", zap.Strings("channels", names))

	channels, err := validator.CollectNamed(ctx, a.hub, names, a.logger)
	if err != nil {
		a.stats.RecordFailure(err)
		return nil, fmt.Errorf("failed to collect channels: %w", err)
	}

	for _, channel := range channels {
		audited, failed := a.AuditChannel(ctx, channel)
		res.HostsAudited += audited
		res.HostErrors += failed

		if err := ctx.Err(); err != nil {
			a.stats.RecordFailure(err)
			return nil, fmt.Errorf("audit interrupted: %w", err)
		}
	}

	res.Channels = channels
	res.Finished = time.Now()
	a.stats.RecordRun(res)

	a.logger.Info("Audit completed",
		zap.Int("channels", len(channels)),
		zap.Int("hosts_audited", res.HostsAudited),
		zap.Int("host_errors", res.HostErrors),
		zap.Duration("duration", res.Finished.Sub(res.Started)))

	return res, nil
}

// AuditChannel fingerprints the channel's hosts and sets its config groups.
// It returns how many hosts were fingerprinted and how many failed.
func (a *Auditor) AuditChannel(ctx context.Context, channel *validator.Channel) (audited, failed int) {
	hosts := channel.Hosts
	if !a.opts.IncludeDisabled {
		hosts = channel.EnabledHosts()
	}

	errs := make([]error, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)

	for i, host := range hosts {
		g.Go(func() error {
			// Per-host failures are recorded, not returned, so one bad host
			// does not cancel its siblings
			errs[i] = a.populator.Populate(gctx, host)
			return nil
		})
	}
	g.Wait()

	for i, err := range errs {
		if err != nil {
			failed++
			hosts[i].Error = err.Error()
			a.logger.Warn("Failed to fingerprint host",
				zap.String("channel", channel.Name),
				zap.String("host", hosts[i].Name),
				zap.Error(err))
			continue
		}
		audited++
	}

	channel.ConfigGroups = validator.Partition(hosts)

	a.logger.Debug("Checked channel",
		zap.String("channel", channel.Name),
		zap.Int("hosts", len(hosts)),
		zap.Int("groups", len(channel.ConfigGroups)))

	return audited, failed
}

// AuditHost fingerprints a single host looked up by name or numeric id
func (a *Auditor) AuditHost(ctx context.Context, nameOrID string) (*validator.Host, error) {
	record, err := a.hub.GetHost(ctx, nameOrID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up host %s: %w", nameOrID, err)
	}

	host := validator.NewHost(*record)
	if err := a.populator.Populate(ctx, host); err != nil {
		return nil, err
	}
	return host, nil
}
