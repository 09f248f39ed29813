// Package scheduler triggers collection and backfill on cron schedules for
// `scout serve`. At most one job runs at a time; a tick that finds another
// job running is skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Config holds standard five-field cron specs (descriptors such as
// "@hourly" or "@every 30m" are accepted). An empty spec disables the job.
type Config struct {
	CollectCron  string
	BackfillCron string
}

type entry struct {
	name  string
	sched cron.Schedule
	job   Job
}

// Scheduler runs the configured jobs until its context ends.
type Scheduler struct {
	entries []entry
	mu      sync.Mutex
	logger  *slog.Logger
}

// New validates the specs. A nil job disables its entry.
func New(cfg Config, collect, backfill Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{logger: logger}
	for _, e := range []struct {
		name, spec string
		job        Job
	}{
		{"collect", cfg.CollectCron, collect},
		{"backfill", cfg.BackfillCron, backfill},
	} {
		if e.spec == "" || e.job == nil {
			continue
		}
		sched, err := cron.ParseStandard(e.spec)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %s spec %q: %w", e.name, e.spec, err)
		}
		s.entries = append(s.entries, entry{name: e.name, sched: sched, job: e.job})
	}
	return s, nil
}

// Len is the number of enabled jobs.
func (s *Scheduler) Len() int { return len(s.entries) }

// Run blocks until ctx is cancelled, then waits for a running job to
// return.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})), cron.WithLogger(cronLogger{s.logger}))
	for _, e := range s.entries {
		c.Schedule(e.sched, cron.FuncJob(func() { s.Do(ctx, e.name, e.job) }))
		s.logger.Info("scheduler: job scheduled", "job", e.name, "next", e.sched.Next(time.Now()))
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler: stopped")
}

// Do runs job unless another one holds the run slot. ran is false when it
// was skipped.
func (s *Scheduler) Do(ctx context.Context, name string, job Job) (ran bool, err error) {
	if !s.mu.TryLock() {
		s.logger.Warn("scheduler: skipped, another job is running", "job", name)
		return false, nil
	}
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	start := time.Now()
	s.logger.Info("scheduler: job start", "job", name)
	err = job(ctx)
	if err != nil {
		s.logger.Error("scheduler: job failed", "job", name, "duration", time.Since(start), "error", err)
	} else {
		s.logger.Info("scheduler: job done", "job", name, "duration", time.Since(start))
	}
	return true, err
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.l.Debug("scheduler: cron "+msg, kv...) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error("scheduler: cron "+msg, append(kv, "error", err)...)
}
