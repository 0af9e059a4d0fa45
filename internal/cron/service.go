package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/coinsacademy/topup-backend/pkg/logger"
	"github.com/coinsacademy/topup-backend/pkg/metrics"
)

const defaultInterval = 15 * time.Second

var errLeadershipLost = errors.New("cron lock lost mid-cycle")

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service ticks every interval and, when it holds the leader lock, runs each
// registered job in order.
type Service struct {
	logg     *logger.Logger
	jobs     []Job
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	s := &Service{
		logg:     params.Logger,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if params.Registry != nil {
		s.jobs = params.Registry.Jobs()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	return s, nil
}

// Run blocks until ctx is canceled. The first cycle starts immediately.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	leader, err := s.lock.Acquire(ctx)
	if err != nil {
		return err
	}
	if !leader {
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		// Release even when ctx was canceled so the next leader need not wait out the TTL.
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron lock release failed", err)
		}
	}()

	for i, job := range s.jobs {
		if ctx.Err() != nil {
			return nil
		}
		if i > 0 {
			held, err := s.lock.Refresh(ctx)
			if err != nil {
				return err
			}
			if !held {
				return fmt.Errorf("before %s: %w", job.Name(), errLeadershipLost)
			}
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	start := time.Now()
	err := safeRun(jobCtx, job)
	took := time.Since(start)
	s.metrics.Observe(name, took, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		return
	}
	s.logg.Debug(jobCtx, "cron job finished")
}

// safeRun keeps one misbehaving job from taking down the worker.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", job.Name(), rec, debug.Stack())
		}
	}()
	return job.Run(ctx)
}
