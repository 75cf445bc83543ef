// Package cleanup lifts escalation blocks whose TTL has passed.
package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aegis/internal/escalation/metrics"
)

type BlockSweeper interface {
	SweepExpired(ctx context.Context) int
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

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

type Service struct {
	sweeper  BlockSweeper
	logger   *slog.Logger
	interval time.Duration
	metrics  *metrics.Metrics
}

func New(sweeper BlockSweeper, opts ...Option) (*Service, error) {
	if sweeper == nil {
		return nil, errors.New("block sweeper is required")
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

// Serve runs the sweep loop until ctx is done. It matches suture.Service.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			start := time.Now()
			lifted := s.RunOnce(ctx)
			duration := time.Since(start)
			if lifted > 0 {
				s.logger.Info("escalation_blocks_expired",
					"lifted", lifted,
					"duration_ms", duration.Milliseconds(),
				)
			}
			if s.metrics != nil {
				s.metrics.ObserveCleanup(duration.Seconds(), lifted)
			}
		case <-ctx.Done():
			s.logger.Info("escalation cleanup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce lifts expired blocks and returns how many were lifted.
func (s *Service) RunOnce(ctx context.Context) int {
	return s.sweeper.SweepExpired(ctx)
}

func (s *Service) String() string { return "escalation-cleanup" }
