// Package scheduler runs recurring maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/radiarr/internal/observability"
)

// Parser accepts standard five-field expressions, an optional leading seconds
// field and descriptors such as "@every 30s".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is a scheduled unit of work. It receives the scheduler's context.
type Job func(ctx context.Context)

// Scheduler runs named jobs on cron schedules. A job still running when its
// next activation fires is skipped, and a panicking job is logged and
// recovered.
type Scheduler struct {
	mu sync.Mutex

	cron   *cron.Cron
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. logger may be nil.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "scheduler")
	cl := cronLogger{logger: logger}
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
}

// Add registers job under name on the given schedule.
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		start := time.Now()
		job(ctx)
		s.logger.Debug("scheduled job finished",
			slog.String("job", name),
			slog.Duration("duration", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	s.logger.Info("scheduled job", slog.String("job", name), slog.String("schedule", spec))
	return nil
}

// Start begins running jobs until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	context.AfterFunc(s.ctx, func() { s.cron.Stop() })
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// NextRun returns when the first registered job fires next.
func (s *Scheduler) NextRun() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// ParseCron validates a cron expression and returns its next run after now.
func ParseCron(expr string, now time.Time) (time.Time, error) {
	schedule, err := Parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(now), nil
}

// ValidateCron validates a cron expression.
func ValidateCron(expr string) error {
	_, err := Parser.Parse(expr)
	return err
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	observability.WithError(l.logger, err).Error(msg, keysAndValues...)
}
