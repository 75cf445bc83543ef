// Package cleanup deactivates expired sessions and purges old inactive
// ones. Running it bounds the window in which concurrent creates across
// instances can leave a device over its cap.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aegis/internal/session/metrics"
	"aegis/pkg/requestcontext"
)

type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// Purger deletes sessions deactivated before cutoff.
type Purger interface {
	Purge(ctx context.Context, cutoff time.Time) (int, error)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Service) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithPurger removes inactive sessions once they have been inactive for
// longer than retention.
func WithPurger(p Purger, retention time.Duration) Option {
	return func(s *Service) {
		if p != nil && retention > 0 {
			s.purger = p
			s.retention = retention
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type Service struct {
	sweeper   Sweeper
	purger    Purger
	retention time.Duration
	logger    *slog.Logger
	interval  time.Duration
	metrics   *metrics.Metrics
}

type Result struct {
	Deactivated int
	Purged      int
}

func New(sweeper Sweeper, opts ...Option) (*Service, error) {
	if sweeper == nil {
		return nil, errors.New("session sweeper is required")
	}
	s := &Service{
		sweeper:  sweeper,
		logger:   slog.Default(),
		interval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve runs the cleanup loop until ctx is done. It matches suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			res, err := s.RunOnce(ctx)
			duration := time.Since(start)
			if err != nil {
				s.logger.Error("session cleanup failed", "error", err)
			}
			if res.Deactivated > 0 || res.Purged > 0 {
				s.logger.Info("session_cleanup_completed",
					"deactivated", res.Deactivated,
					"purged", res.Purged,
					"duration_ms", duration.Milliseconds(),
				)
			}
			if s.metrics != nil {
				s.metrics.ObserveCleanup(duration.Seconds(), res.Deactivated)
			}
		case <-ctx.Done():
			s.logger.Info("session cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce deactivates expired sessions, then purges. A sweep error stops
// the run before purging.
func (s *Service) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	n, err := s.sweeper.SweepExpired(ctx)
	res.Deactivated = n
	if err != nil {
		return res, err
	}
	if s.purger == nil {
		return res, nil
	}
	res.Purged, err = s.purger.Purge(ctx, requestcontext.Now(ctx).Add(-s.retention))
	return res, err
}

func (s *Service) String() string { return "session-cleanup" }
