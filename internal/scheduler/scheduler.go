// Package scheduler runs periodic jobs for watch mode on top of gocron.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler runs named jobs at fixed intervals. A job never overlaps
// itself: a run that is still going when the next one is due pushes that
// one back.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	ctx       context.Context
}

// New creates a stopped scheduler. Jobs receive ctx.
func New(ctx context.Context, logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger, ctx: ctx}, nil
}

// Every registers job to run every interval. With immediately set the
// first run starts as soon as the scheduler does.
func (s *Scheduler) Every(name string, interval time.Duration, immediately bool, job func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for %s: %v", name, interval)
	}

	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if immediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			s.run(name, job)
		}),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.logger.Info("Scheduled job",
		zap.String("job", name),
		zap.Duration("interval", interval),
		zap.Bool("immediately", immediately))
	return nil
}

func (s *Scheduler) run(name string, job func(ctx context.Context) error) {
	if s.ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.logger.Debug("Running job", zap.String("job", name))

	if err := job(s.ctx); err != nil {
		s.logger.Error("Job failed",
			zap.String("job", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	s.logger.Debug("Job completed",
		zap.String("job", name),
		zap.Duration("duration", time.Since(start)))
}

// Start begins running jobs
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Shutdown stops the scheduler and waits for running jobs to return
func (s *Scheduler) Shutdown() error {
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	return nil
}
