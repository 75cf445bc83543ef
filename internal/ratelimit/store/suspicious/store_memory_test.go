package suspicious

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/ratelimit/models"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestAddAndContains(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	added, err := s.Add(ctx, models.SuspiciousSource{Source: "10.0.0.1", Reason: models.ReasonBurst, FlaggedAt: t0, ExpiresAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, added)

	ok, _ := s.Contains(ctx, "10.0.0.1", t0.Add(30*time.Minute))
	assert.True(t, ok)
	ok, _ = s.Contains(ctx, "10.0.0.1", t0.Add(time.Hour))
	assert.False(t, ok, "expired entries are not suspicious")
	ok, _ = s.Contains(ctx, "10.0.0.2", t0)
	assert.False(t, ok)
}

func TestReflagExtendsExpiryAndKeepsFirstFlag(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, _ = s.Add(ctx, models.SuspiciousSource{Source: "src", Reason: models.ReasonBurst, FlaggedAt: t0, ExpiresAt: t0.Add(time.Hour)})
	added, err := s.Add(ctx, models.SuspiciousSource{Source: "src", Reason: models.ReasonSustained, FlaggedAt: t0.Add(time.Minute), ExpiresAt: t0.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.False(t, added)

	list, _ := s.List(ctx, t0.Add(2*time.Hour))
	require.Len(t, list, 1)
	assert.Equal(t, t0, list[0].FlaggedAt)
	assert.Equal(t, models.ReasonBurst, list[0].Reason)
	assert.Equal(t, t0.Add(3*time.Hour), list[0].ExpiresAt)
}

func TestPermanentFlagIsNotShortened(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	_, _ = s.Add(ctx, models.SuspiciousSource{Source: "src", FlaggedAt: t0})
	_, _ = s.Add(ctx, models.SuspiciousSource{Source: "src", FlaggedAt: t0, ExpiresAt: t0.Add(time.Minute)})

	ok, _ := s.Contains(ctx, "src", t0.Add(48*time.Hour))
	assert.True(t, ok)
}

func TestRemoveClearAndSweep(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	_, _ = s.Add(ctx, models.SuspiciousSource{Source: "a", FlaggedAt: t0, ExpiresAt: t0.Add(time.Minute)})
	_, _ = s.Add(ctx, models.SuspiciousSource{Source: "b", FlaggedAt: t0})
	_, _ = s.Add(ctx, models.SuspiciousSource{Source: "c", FlaggedAt: t0})

	removed, err := s.SweepExpired(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	ok, _ := s.Remove(ctx, "b")
	assert.True(t, ok)
	ok, _ = s.Remove(ctx, "b")
	assert.False(t, ok)

	n, _ := s.Clear(ctx)
	assert.Equal(t, 1, n)
	list, _ := s.List(ctx, t0)
	assert.Empty(t, list)
}
