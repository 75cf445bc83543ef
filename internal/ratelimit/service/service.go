// Package service implements the adaptive sliding-window rate limiter.
//
// A check resolves the effective limit for (action, source), records the
// attempt, and reports whether it was admitted. Abuse feeds back into later
// checks: a burst of denied attempts installs a tighter override for the
// action, and bursts or sustained load put the source in the suspicious set,
// which scales its limits down further.
//
//	svc, _ := service.New(window.NewInMemoryStore(), override.NewInMemoryStore(), suspicious.NewInMemoryStore())
//	res := svc.CheckAction(ctx, models.ActionLogin, clientIP)
//	if !res.Allowed {
//	    // 429 with Retry-After: res.RetryAfter
//	}
package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"aegis/internal/ratelimit/config"
	"aegis/internal/ratelimit/metrics"
	"aegis/internal/ratelimit/models"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/requestcontext"
)

// Service is safe for concurrent use.
type Service struct {
	windows    WindowStore
	overrides  OverrideStore
	suspicious SuspiciousStore
	config     *config.Config
	logger     *slog.Logger
	auditor    *audit.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditLogger routes denials, bursts and flags to the audit trail.
func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) {
		s.auditor = l
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(windows WindowStore, overrides OverrideStore, suspicious SuspiciousStore, opts ...Option) (*Service, error) {
	if windows == nil {
		return nil, errors.New("window store is required")
	}
	if overrides == nil {
		return nil, errors.New("override store is required")
	}
	if suspicious == nil {
		return nil, errors.New("suspicious store is required")
	}
	svc := &Service{
		windows:    windows,
		overrides:  overrides,
		suspicious: suspicious,
		config:     config.DefaultConfig(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Config exposes the resolved configuration to the cleanup worker and admin
// handler.
func (s *Service) Config() *config.Config {
	return s.config
}

// CheckAction checks identifier against the configured limit for action.
// Unknown actions use the apiCall limit.
func (s *Service) CheckAction(ctx context.Context, action models.Action, identifier string) *models.Result {
	return s.Check(ctx, action, identifier, s.config.LimitFor(action))
}

// Check admits or denies one request from identifier for action against base,
// after applying any active override and the suspicious-source penalty. It
// never fails: a store error admits the request and is logged.
func (s *Service) Check(ctx context.Context, action models.Action, identifier string, base models.Limit) *models.Result {
	now := requestcontext.Now(ctx)
	effective := s.EffectiveLimit(ctx, action, identifier, base)

	attempt, err := s.windows.Attempt(ctx, models.WindowKey(action, identifier), effective, now,
		s.config.Sustained.Horizon, s.config.Burst.Attempts)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limit store failed, admitting request",
			"error", err,
			"action", string(action),
			"identifier", privacy.RedactIdentifier(identifier),
		)
		return &models.Result{Allowed: true, Limit: effective.MaxRequests, Remaining: effective.MaxRequests, ResetAt: now.Add(effective.Window)}
	}

	result := buildResult(attempt, effective, now)
	if s.metrics != nil {
		s.metrics.ObserveCheck(action.Key(), result.Allowed)
	}

	if !result.Allowed {
		s.auditor.Log(ctx, audit.EventRateLimitDenied,
			"subject", privacy.RedactIdentifier(identifier),
			"decision", "denied",
			"action", string(action),
			"limit", effective.MaxRequests,
			"retry_after", result.RetryAfter,
		)
		if s.isBurst(attempt.Recent) {
			s.onBurst(ctx, action, identifier, base, now)
		}
	}
	if float64(attempt.InHorizon) > float64(base.MaxRequests)*s.config.Sustained.Factor {
		s.flag(ctx, identifier, models.ReasonSustained, now)
	}
	return result
}

func buildResult(a *models.Attempt, limit models.Limit, now time.Time) *models.Result {
	resetAt := now.Add(limit.Window)
	if !a.Oldest.IsZero() {
		resetAt = a.Oldest.Add(limit.Window)
	}
	res := &models.Result{
		Allowed:   a.Allowed,
		Limit:     limit.MaxRequests,
		Remaining: max(limit.MaxRequests-a.Count, 0),
		ResetAt:   resetAt,
	}
	if !a.Allowed {
		res.RetryAfter = int(math.Ceil(resetAt.Sub(now).Seconds()))
	}
	return res
}

// EffectiveLimit resolves the limit a check would use right now: an active
// override replaces base, then a suspicious identifier scales it down.
func (s *Service) EffectiveLimit(ctx context.Context, action models.Action, identifier string, base models.Limit) models.Limit {
	now := requestcontext.Now(ctx)
	limit := base

	if o, err := s.overrides.Get(ctx, action, now); err != nil {
		s.logger.WarnContext(ctx, "override lookup failed", "error", err, "action", string(action))
	} else if o != nil {
		limit = o.Limit
	}

	suspicious, err := s.suspicious.Contains(ctx, identifier, now)
	if err != nil {
		s.logger.WarnContext(ctx, "suspicious lookup failed", "error", err)
	}
	if suspicious {
		limit = limit.Scale(s.config.Suspicious.MaxFactor, s.config.Suspicious.WindowFactor)
	}
	return limit
}

// isBurst reports whether the configured number of most recent attempts all
// fall inside the burst interval.
func (s *Service) isBurst(recent []time.Time) bool {
	n := s.config.Burst.Attempts
	if len(recent) < n {
		return false
	}
	span := recent[len(recent)-1].Sub(recent[len(recent)-n])
	return span < s.config.Burst.Interval
}

func (s *Service) onBurst(ctx context.Context, action models.Action, identifier string, base models.Limit, now time.Time) {
	b := s.config.Burst
	o := models.Override{
		Action:    action,
		Limit:     base.Scale(b.MaxFactor, b.WindowFactor),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(float64(base.Window) * b.TTLFactor)),
	}
	if err := s.overrides.Set(ctx, o); err != nil {
		s.logger.ErrorContext(ctx, "failed to install burst override", "error", err, "action", string(action))
	}
	if s.metrics != nil {
		s.metrics.IncrementBurst(action.Key())
	}
	s.auditor.Log(ctx, audit.EventBurstDetected,
		"subject", privacy.RedactIdentifier(identifier),
		"action", string(action),
		"override_max", o.Limit.MaxRequests,
		"override_window", o.Limit.Window,
		"expires_at", o.ExpiresAt.Format(time.RFC3339),
	)
	s.flag(ctx, identifier, models.ReasonBurst, now)
}

// FlagSuspicious adds source to the suspicious set. Other subsystems (for
// example violation escalation) call this to tighten limits for a source.
func (s *Service) FlagSuspicious(ctx context.Context, source string, reason string) {
	s.flag(ctx, source, models.FlagReason(reason), requestcontext.Now(ctx))
}

func (s *Service) flag(ctx context.Context, source string, reason models.FlagReason, now time.Time) {
	entry := models.SuspiciousSource{Source: source, Reason: reason, FlaggedAt: now}
	if ttl := s.config.Suspicious.TTL; ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	added, err := s.suspicious.Add(ctx, entry)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to flag source", "error", err, "reason", string(reason))
		return
	}
	if !added {
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementFlagged(string(reason))
	}
	s.auditor.Log(ctx, audit.EventSourceFlagged,
		"subject", privacy.RedactIdentifier(source),
		"reason", string(reason),
	)
}

// IsSuspicious reports whether source is currently flagged.
func (s *Service) IsSuspicious(ctx context.Context, source string) bool {
	ok, err := s.suspicious.Contains(ctx, source, requestcontext.Now(ctx))
	if err != nil {
		s.logger.WarnContext(ctx, "suspicious lookup failed", "error", err)
	}
	return ok
}

// ClearSuspicious removes one source from the suspicious set.
func (s *Service) ClearSuspicious(ctx context.Context, source string) (bool, error) {
	removed, err := s.suspicious.Remove(ctx, source)
	if err != nil {
		return false, err
	}
	if removed {
		s.auditor.Log(ctx, audit.EventSourceCleared, "subject", privacy.RedactIdentifier(source))
	}
	return removed, nil
}

// ClearAllSuspicious empties the suspicious set.
func (s *Service) ClearAllSuspicious(ctx context.Context) (int, error) {
	n, err := s.suspicious.Clear(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.auditor.Log(ctx, audit.EventSourceCleared, "subject", "*", "count", n)
	}
	return n, nil
}

func (s *Service) ListSuspicious(ctx context.Context) ([]models.SuspiciousSource, error) {
	return s.suspicious.List(ctx, requestcontext.Now(ctx))
}

func (s *Service) ListOverrides(ctx context.Context) ([]models.Override, error) {
	return s.overrides.List(ctx, requestcontext.Now(ctx))
}

func (s *Service) ClearOverride(ctx context.Context, action models.Action) error {
	return s.overrides.Delete(ctx, action)
}

// Reset drops the window for (action, identifier).
func (s *Service) Reset(ctx context.Context, action models.Action, identifier string) error {
	return s.windows.Reset(ctx, models.WindowKey(action, identifier))
}

// Usage reports admitted requests currently counted for (action, identifier).
func (s *Service) Usage(ctx context.Context, action models.Action, identifier string) (int, error) {
	return s.windows.Count(ctx, models.WindowKey(action, identifier), requestcontext.Now(ctx))
}
