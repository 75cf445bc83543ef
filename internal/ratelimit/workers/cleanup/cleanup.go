package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aegis/internal/ratelimit/metrics"
	"aegis/internal/ratelimit/models"
	"aegis/pkg/requestcontext"
)

// Result contains the results of a cleanup run.
type Result struct {
	WindowsRemoved    int
	OverridesExpired  int
	SuspiciousExpired int
	ActiveOverrides   int
	SuspiciousSources int
	Duration          time.Duration
}

type WindowStore interface {
	Sweep(ctx context.Context, now time.Time, horizon time.Duration) (int, error)
}

type OverrideStore interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	List(ctx context.Context, now time.Time) ([]models.Override, error)
}

type SuspiciousStore interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	List(ctx context.Context, now time.Time) ([]models.SuspiciousSource, error)
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

// WithHorizon keeps idle windows at least this long so sustained-load
// detection still sees their attempts.
func WithHorizon(horizon time.Duration) Option {
	return func(s *Service) {
		if horizon > 0 {
			s.horizon = horizon
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// Service sweeps idle windows, lapsed overrides and expired suspicious
// entries, and refreshes the matching gauges.
type Service struct {
	windows    WindowStore
	overrides  OverrideStore
	suspicious SuspiciousStore
	logger     *slog.Logger
	interval   time.Duration
	horizon    time.Duration
	metrics    *metrics.Metrics
}

func New(windows WindowStore, overrides OverrideStore, suspicious SuspiciousStore, opts ...Option) (*Service, error) {
	if windows == nil || overrides == nil || suspicious == nil {
		return nil, errors.New("window, override and suspicious stores are required")
	}
	s := &Service{
		windows:    windows,
		overrides:  overrides,
		suspicious: suspicious,
		logger:     slog.Default(),
		interval:   time.Minute,
		horizon:    time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve runs the sweep loop until ctx is done. It matches suture.Service.
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
				s.logger.Error("ratelimit_cleanup_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				if s.metrics != nil {
					s.metrics.ObserveCleanup("error", duration.Seconds(), 0)
				}
				continue
			}
			res.Duration = duration

			s.logger.Debug("ratelimit_cleanup_completed",
				"windows_removed", res.WindowsRemoved,
				"overrides_expired", res.OverridesExpired,
				"suspicious_expired", res.SuspiciousExpired,
				"duration_ms", duration.Milliseconds(),
			)
			if s.metrics != nil {
				s.metrics.ObserveCleanup("success", duration.Seconds(), res.WindowsRemoved)
			}

		case <-ctx.Done():
			s.logger.Info("ratelimit cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single sweep at requestcontext.Now(ctx). Logging is
// left to the caller.
func (s *Service) RunOnce(ctx context.Context) (*Result, error) {
	now := requestcontext.Now(ctx)
	res := &Result{}
	var err error

	if res.WindowsRemoved, err = s.windows.Sweep(ctx, now, s.horizon); err != nil {
		return nil, err
	}
	if res.OverridesExpired, err = s.overrides.SweepExpired(ctx, now); err != nil {
		return nil, err
	}
	if res.SuspiciousExpired, err = s.suspicious.SweepExpired(ctx, now); err != nil {
		return nil, err
	}

	overrides, err := s.overrides.List(ctx, now)
	if err != nil {
		return nil, err
	}
	sources, err := s.suspicious.List(ctx, now)
	if err != nil {
		return nil, err
	}
	res.ActiveOverrides = len(overrides)
	res.SuspiciousSources = len(sources)
	if s.metrics != nil {
		s.metrics.SetActiveOverrides(res.ActiveOverrides)
		s.metrics.SetSuspiciousSources(res.SuspiciousSources)
	}
	return res, nil
}

func (s *Service) String() string { return "ratelimit-cleanup" }
