package models

import (
	"strings"
	"time"

	dErrors "aegis/pkg/domain-errors"
)

// Action names a class of request with its own quota.
type Action string

const (
	ActionLogin           Action = "login"
	ActionSignup          Action = "signup"
	ActionPasswordReset   Action = "passwordReset"
	ActionAPICall         Action = "apiCall"
	ActionSessionValidate Action = "sessionValidate"
	ActionCSPReport       Action = "cspReport"
)

// Key returns the case-folded lookup form used by configuration maps.
func (a Action) Key() string {
	return strings.ToLower(strings.TrimSpace(string(a)))
}

// Limit is a sliding-window quota: at most MaxRequests admitted in any Window.
type Limit struct {
	MaxRequests int           `json:"max_requests" koanf:"max_requests"`
	Window      time.Duration `json:"window" koanf:"window"`
}

func NewLimit(maxRequests int, window time.Duration) (Limit, error) {
	l := Limit{MaxRequests: maxRequests, Window: window}
	if err := l.Validate(); err != nil {
		return Limit{}, err
	}
	return l, nil
}

func (l Limit) Validate() error {
	if l.MaxRequests < 1 {
		return dErrors.New(dErrors.CodeInvariantViolation, "max requests must be at least 1")
	}
	if l.Window <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "window must be positive")
	}
	return nil
}

// Scale multiplies the quota and window, flooring the quota at 1.
func (l Limit) Scale(maxFactor, windowFactor float64) Limit {
	scaled := int(float64(l.MaxRequests) * maxFactor)
	if scaled < 1 {
		scaled = 1
	}
	return Limit{
		MaxRequests: scaled,
		Window:      time.Duration(float64(l.Window) * windowFactor),
	}
}

// Result is the outcome of one check. RetryAfter is whole seconds and only
// set on denial.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_time"`
	RetryAfter int       `json:"retry_after,omitempty"`
}

// Override tightens an action's limit until ExpiresAt.
type Override struct {
	Action    Action    `json:"action"`
	Limit     Limit     `json:"limit"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (o *Override) IsActive(now time.Time) bool {
	return o != nil && now.Before(o.ExpiresAt)
}

// FlagReason records why a source was marked suspicious.
type FlagReason string

const (
	ReasonBurst      FlagReason = "burst"
	ReasonSustained  FlagReason = "sustained_load"
	ReasonEscalation FlagReason = "policy_violation_block"
	ReasonManual     FlagReason = "manual"
)

// SuspiciousSource is an entry in the suspicious set. A zero ExpiresAt never
// expires.
type SuspiciousSource struct {
	Source    string     `json:"source"`
	Reason    FlagReason `json:"reason"`
	FlaggedAt time.Time  `json:"flagged_at"`
	ExpiresAt time.Time  `json:"expires_at,omitzero"`
}

func (s *SuspiciousSource) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Attempt is the window store's view of a single check, returned so the
// service can run burst and sustained-load detection without a second lock.
type Attempt struct {
	Allowed bool
	Count   int       // admitted requests in the window after this check
	Oldest  time.Time // oldest admitted timestamp still in the window; zero if none
	// Recent holds the newest attempts (admitted or not), oldest first.
	Recent []time.Time
	// InHorizon counts attempts within the sustained-load horizon.
	InHorizon int
}
