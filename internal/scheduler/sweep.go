package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/radiarr/internal/metrics"
	"github.com/jmylchreest/radiarr/internal/repository"
)

// SweepResult counts what one sweep removed.
type SweepResult struct {
	ExpiredLeases int64
	StaleSessions int64
}

// Sweeper clears ownership leases and session rows left behind by
// deployments that stopped health-checking them.
type Sweeper struct {
	stations     repository.StationRepository
	sessions     repository.MediaSessionRepository
	leaseTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// NewSweeper creates a sweeper treating anything older than leaseTimeout as
// abandoned.
func NewSweeper(stations repository.StationRepository, sessions repository.MediaSessionRepository, leaseTimeout time.Duration) *Sweeper {
	return &Sweeper{
		stations:     stations,
		sessions:     sessions,
		leaseTimeout: leaseTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Sweeper) WithLogger(logger *slog.Logger) *Sweeper {
	s.logger = logger
	return s
}

// Sweep removes expired leases and stale session rows.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	before := s.now().UTC().Add(-s.leaseTimeout)

	var errs []error
	leases, err := s.stations.ClearExpiredOwnership(ctx, before)
	if err != nil {
		errs = append(errs, fmt.Errorf("clearing expired leases: %w", err))
	}
	result.ExpiredLeases = leases

	rows, err := s.sessions.DeleteStale(ctx, before)
	if err != nil {
		errs = append(errs, fmt.Errorf("deleting stale sessions: %w", err))
	}
	result.StaleSessions = rows

	metrics.SweepRemoved.WithLabelValues("lease").Add(float64(leases))
	metrics.SweepRemoved.WithLabelValues("session").Add(float64(rows))
	return result, errors.Join(errs...)
}

// Job adapts Sweep for the scheduler, logging the outcome.
func (s *Sweeper) Job() Job {
	return func(ctx context.Context) {
		result, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("ownership sweep failed", slog.String("error", err.Error()))
		}
		if result.ExpiredLeases > 0 || result.StaleSessions > 0 {
			s.logger.Info("ownership sweep removed abandoned state",
				slog.Int64("expired_leases", result.ExpiredLeases),
				slog.Int64("stale_sessions", result.StaleSessions),
			)
		}
	}
}
