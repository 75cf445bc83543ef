package service

import (
	"context"
	"time"

	"aegis/internal/ratelimit/models"
)

// WindowStore holds the per-(action, identifier) sliding windows.
type WindowStore interface {
	Attempt(ctx context.Context, key string, limit models.Limit, now time.Time, horizon time.Duration, recent int) (*models.Attempt, error)
	Count(ctx context.Context, key string, now time.Time) (int, error)
	Reset(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time, horizon time.Duration) (int, error)
}

// OverrideStore holds dynamic per-action limit overrides.
type OverrideStore interface {
	Set(ctx context.Context, o models.Override) error
	Get(ctx context.Context, action models.Action, now time.Time) (*models.Override, error)
	Delete(ctx context.Context, action models.Action) error
	List(ctx context.Context, now time.Time) ([]models.Override, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// SuspiciousStore is the set of sources under tightened limits.
type SuspiciousStore interface {
	Add(ctx context.Context, entry models.SuspiciousSource) (bool, error)
	Contains(ctx context.Context, source string, now time.Time) (bool, error)
	Remove(ctx context.Context, source string) (bool, error)
	Clear(ctx context.Context) (int, error)
	List(ctx context.Context, now time.Time) ([]models.SuspiciousSource, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
