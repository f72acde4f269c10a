package cron

import (
	"cmp"
	"context"
	"fmt"
	"time"

	"github.com/dispatchly/dispatchly-backend/pkg/logger"
	"github.com/dispatchly/dispatchly-backend/pkg/metrics"
)

const (
	defaultInterval   = 5 * time.Minute
	defaultJobTimeout = 2 * time.Minute
)

// ServiceParams wires a Service. Interval and JobTimeout fall back to five
// and two minutes.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service executes registered jobs on a fixed cadence while holding the cluster lock.
type Service struct {
	ServiceParams
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("cron: logger required")
	case params.Lock == nil:
		return nil, fmt.Errorf("cron: lock required")
	}
	if params.Registry == nil {
		params.Registry = &Registry{}
	}
	params.Interval = cmp.Or(max(params.Interval, 0), defaultInterval)
	params.JobTimeout = cmp.Or(max(params.JobTimeout, 0), defaultJobTimeout)
	return &Service{ServiceParams: params}, nil
}

// Run fires a cycle immediately and then once per Interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil {
			s.Logger.Error(ctx, "cron.cycle_failed", err)
		}
		select {
		case <-ctx.Done():
			s.Logger.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs a single cycle. A cycle held by another replica is skipped without error.
func (s *Service) RunOnce(ctx context.Context) error {
	held, err := s.Lock.Acquire(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("cron lock: %w", err)
	case !held:
		s.Metrics.IncSkipped()
		s.Logger.Debug(ctx, "cron.cycle_skipped")
		return nil
	}
	defer s.release(ctx)

	for _, job := range s.Registry.Jobs() {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.runJob(ctx, job)
	}
	return nil
}

// release outlives cancellation so a shutdown mid-cycle still frees the lock.
func (s *Service) release(ctx context.Context) {
	if err := s.Lock.Release(context.WithoutCancel(ctx)); err != nil {
		s.Logger.Error(ctx, "cron.lock_release_failed", err)
	}
}

// runJob bounds each job by JobTimeout; a failure is logged and does not stop the cycle.
func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.Logger.WithField(ctx, "job", job.Name())
	jobCtx, cancel := context.WithTimeout(ctx, s.JobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(jobCtx)
	took := time.Since(start)
	s.Metrics.ObserveRun(job.Name(), took, err)

	ctx = s.Logger.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.Logger.Error(ctx, "cron.job_failed", err)
		return
	}
	s.Logger.Info(ctx, "cron.job_done")
}
