package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/ratelimit/models"
)

func TestDefaultQuotas(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, models.Limit{MaxRequests: 5, Window: 15 * time.Minute}, cfg.LimitFor(models.ActionLogin))
	assert.Equal(t, models.Limit{MaxRequests: 3, Window: time.Hour}, cfg.LimitFor(models.ActionSignup))
	assert.Equal(t, models.Limit{MaxRequests: 3, Window: time.Hour}, cfg.LimitFor(models.ActionPasswordReset))
	assert.Equal(t, models.Limit{MaxRequests: 100, Window: time.Minute}, cfg.LimitFor(models.ActionAPICall))
}

func TestUnknownActionFallsBackToAPICall(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.LimitFor(models.ActionAPICall), cfg.LimitFor("exportReport"))
}

func TestNormalizeFoldsKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Actions["PasswordReset"] = models.Limit{MaxRequests: 1, Window: time.Hour}
	cfg.Normalize()
	assert.Equal(t, 1, cfg.LimitFor(models.ActionPasswordReset).MaxRequests)
}

func TestValidateRejects(t *testing.T) {
	t.Run("missing fallback", func(t *testing.T) {
		cfg := DefaultConfig()
		delete(cfg.Actions, models.ActionAPICall.Key())
		assert.Error(t, cfg.Validate())
	})
	t.Run("zero window", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Actions["login"] = models.Limit{MaxRequests: 5}
		assert.Error(t, cfg.Validate())
	})
	t.Run("non-positive factor", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Suspicious.MaxFactor = 0
		assert.Error(t, cfg.Validate())
	})
}
