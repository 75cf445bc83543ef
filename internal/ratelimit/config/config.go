package config

import (
	"fmt"
	"time"

	"aegis/internal/ratelimit/models"
)

// Config holds rate limiting configuration. Action keys are matched
// case-insensitively.
type Config struct {
	Actions    map[string]models.Limit `koanf:"actions"`
	Burst      BurstConfig             `koanf:"burst"`
	Sustained  SustainedConfig         `koanf:"sustained"`
	Suspicious SuspiciousConfig        `koanf:"suspicious"`

	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// BurstConfig: when the last Attempts attempts span less than Interval, the
// source is flagged and the action gets an override of base×MaxFactor per
// base.window×WindowFactor, living for base.window×TTLFactor.
type BurstConfig struct {
	Attempts     int           `koanf:"attempts"`
	Interval     time.Duration `koanf:"interval"`
	MaxFactor    float64       `koanf:"max_factor"`
	WindowFactor float64       `koanf:"window_factor"`
	TTLFactor    float64       `koanf:"ttl_factor"`
}

// SustainedConfig: more than base.max×Factor attempts within Horizon flags
// the source.
type SustainedConfig struct {
	Horizon time.Duration `koanf:"horizon"`
	Factor  float64       `koanf:"factor"`
}

// SuspiciousConfig scales limits for flagged sources. TTL of 0 keeps entries
// until cleared.
type SuspiciousConfig struct {
	MaxFactor    float64       `koanf:"max_factor"`
	WindowFactor float64       `koanf:"window_factor"`
	TTL          time.Duration `koanf:"ttl"`
}

// DefaultConfig returns the stock quotas.
func DefaultConfig() *Config {
	return &Config{
		Actions: map[string]models.Limit{
			models.ActionLogin.Key():           {MaxRequests: 5, Window: 15 * time.Minute},
			models.ActionSignup.Key():          {MaxRequests: 3, Window: time.Hour},
			models.ActionPasswordReset.Key():   {MaxRequests: 3, Window: time.Hour},
			models.ActionAPICall.Key():         {MaxRequests: 100, Window: time.Minute},
			models.ActionSessionValidate.Key(): {MaxRequests: 30, Window: time.Minute},
			models.ActionCSPReport.Key():       {MaxRequests: 50, Window: time.Minute},
		},
		Burst: BurstConfig{
			Attempts:     3,
			Interval:     time.Second,
			MaxFactor:    0.5,
			WindowFactor: 2,
			TTLFactor:    3,
		},
		Sustained: SustainedConfig{
			Horizon: time.Minute,
			Factor:  2,
		},
		Suspicious: SuspiciousConfig{
			MaxFactor:    0.3,
			WindowFactor: 2,
			TTL:          24 * time.Hour,
		},
		CleanupInterval: time.Minute,
	}
}

// LimitFor resolves an action's base limit. Unknown actions get apiCall.
func (c *Config) LimitFor(action models.Action) models.Limit {
	if l, ok := c.Actions[action.Key()]; ok {
		return l
	}
	return c.Actions[models.ActionAPICall.Key()]
}

// Normalize case-folds action keys so YAML and env overrides land on the
// same entry.
func (c *Config) Normalize() {
	folded := make(map[string]models.Limit, len(c.Actions))
	for k, v := range c.Actions {
		folded[models.Action(k).Key()] = v
	}
	c.Actions = folded
}

func (c *Config) Validate() error {
	if _, ok := c.Actions[models.ActionAPICall.Key()]; !ok {
		return fmt.Errorf("ratelimit: missing %q fallback limit", models.ActionAPICall)
	}
	for name, l := range c.Actions {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("ratelimit: action %q: %w", name, err)
		}
	}
	if c.Burst.Attempts < 2 {
		return fmt.Errorf("ratelimit: burst attempts must be at least 2")
	}
	if c.Burst.Interval <= 0 || c.Sustained.Horizon <= 0 {
		return fmt.Errorf("ratelimit: burst interval and sustained horizon must be positive")
	}
	for _, f := range []float64{c.Burst.MaxFactor, c.Burst.WindowFactor, c.Burst.TTLFactor, c.Sustained.Factor, c.Suspicious.MaxFactor, c.Suspicious.WindowFactor} {
		if f <= 0 {
			return fmt.Errorf("ratelimit: scaling factors must be positive")
		}
	}
	if c.Suspicious.TTL < 0 {
		return fmt.Errorf("ratelimit: suspicious ttl must not be negative")
	}
	return nil
}
