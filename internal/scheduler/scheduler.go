// Package scheduler implements C12: a runner for periodic background jobs
// that do not overlap with themselves and never cancel the loop on failure
// (spec §4.8). The package defines no jobs of its own; callers supply them
// through Register, and cmd/sentryd registers none, so no sanctions, label
// or threat-feed resync runs on a schedule.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jackdawsentry/sentry-core/internal/platform/logging"
	"github.com/jackdawsentry/sentry-core/internal/platform/metrics"
)

// Job is one periodic task. Either Interval (fixed-period ticking) or
// CronExpr (a standard 5-field cron expression) must be set; CronExpr
// takes precedence when both are.
type Job struct {
	Name         string
	InitialDelay time.Duration
	Interval     time.Duration
	CronExpr     string
	Run          func(ctx context.Context) error
}

func (j Job) nextAfter(parser cron.Parser, from time.Time) (time.Time, error) {
	if j.CronExpr != "" {
		schedule, err := parser.Parse(j.CronExpr)
		if err != nil {
			return time.Time{}, err
		}
		return schedule.Next(from), nil
	}
	return from.Add(j.Interval), nil
}

// Scheduler runs registered Jobs in their own goroutines.
type Scheduler struct {
	logger *logging.Logger
	metrics *metrics.Metrics
	parser cron.Parser

	mu      sync.Mutex
	jobs    []Job
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

func New(m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		logger:  logging.New("scheduler", "info", "json"),
		metrics: m,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches every registered job's run loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		jobCtx, cancel := context.WithCancel(ctx)
		s.cancels = append(s.cancels, cancel)
		s.wg.Add(1)
		go s.runJob(jobCtx, job)
	}
}

// Stop cancels every job and waits up to grace for in-flight runs to
// observe cancellation and return (spec §4.8 shutdown semantics).
func (s *Scheduler) Stop(grace time.Duration) {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("scheduler shutdown grace period elapsed with jobs still running")
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(job.InitialDelay):
		}
	}

	var running atomic.Bool
	next, err := job.nextAfter(s.parser, time.Now())
	if err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{"job": job.Name}).Error("invalid job schedule")
		return
	}

	for {
		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if !running.CompareAndSwap(false, true) {
			s.logger.WithFields(map[string]interface{}{"job": job.Name}).Warn("previous run still executing, deferring this tick")
		} else {
			s.execute(ctx, job, &running)
		}

		var nextErr error
		next, nextErr = job.nextAfter(s.parser, time.Now())
		if nextErr != nil {
			s.logger.WithError(nextErr).WithFields(map[string]interface{}{"job": job.Name}).Error("invalid job schedule")
			return
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job, running *atomic.Bool) {
	defer running.Store(false)

	start := time.Now()
	err := job.Run(ctx)
	duration := time.Since(start)

	fields := map[string]interface{}{"job": job.Name, "duration_ms": duration.Milliseconds()}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("scheduled job failed")
		if s.metrics != nil {
			s.metrics.RecordError("scheduler", "job_failure", job.Name)
		}
		return
	}
	s.logger.WithFields(fields).Info("scheduled job completed")
}
