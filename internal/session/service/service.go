// Package service is the server side of session security: it issues opaque
// tokens bound to a device fingerprint, validates presented tokens against
// the stored hash and fingerprint, rotates and revokes sessions, and caps
// how many active sessions one device may hold.
//
// Refusals are returned as models.Deny errors carrying a models.Reason;
// anything else is an infrastructure failure.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aegis/internal/device"
	"aegis/internal/session/metrics"
	"aegis/internal/session/models"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/platform/sentinel"
	psync "aegis/pkg/platform/sync"
	"aegis/pkg/requestcontext"
)

const (
	DefaultTTL                 = 2 * time.Hour
	DefaultMaxPerDevice        = 3
	DefaultSimilarityThreshold = device.MatchThreshold

	FlagFingerprintDrift = "fingerprint_drift"
	FlagUserAgentChanged = "user_agent_changed"
	FlagLowSecurity      = "low_security"
)

// Service is safe for concurrent use.
type Service struct {
	store        Store
	createLocks  *psync.ShardedMutex
	ttl          time.Duration
	maxPerDevice int
	threshold    float64
	maxFPLen     int
	logger       *slog.Logger
	auditor      *audit.Logger
	metrics      *metrics.Metrics
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxPerDevice(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerDevice = n
		}
	}
}

func WithSimilarityThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 && t <= 1 {
			s.threshold = t
		}
	}
}

// WithMaxFingerprintLength caps stored and compared fingerprints.
func WithMaxFingerprintLength(n int) Option {
	return func(s *Service) {
		if n > 0 && n <= device.MaxLength {
			s.maxFPLen = n
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditLogger(l *audit.Logger) Option {
	return func(s *Service) {
		s.auditor = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	s := &Service{
		store:        store,
		createLocks:  psync.NewShardedMutex(),
		ttl:          DefaultTTL,
		maxPerDevice: DefaultMaxPerDevice,
		threshold:    DefaultSimilarityThreshold,
		maxFPLen:     device.MaxLength,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxPerDevice is the active-session cap per fingerprint.
func (s *Service) MaxPerDevice() int {
	return s.maxPerDevice
}

type CreateInput struct {
	Fingerprint string
	UserAgent   string
	IPAddress   string
}

type ValidateInput struct {
	SessionID   string
	Token       string
	Fingerprint string
	UserAgent   string
	IPAddress   string
}

func (s *Service) truncate(fp string) string {
	if len(fp) > s.maxFPLen {
		return fp[:s.maxFPLen]
	}
	return fp
}

// Create issues a new session for the device, refusing with
// ReasonCapacity when the device already holds the maximum number of
// active sessions. Creates for one device are serialized in-process.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Issued, error) {
	fp := s.truncate(in.Fingerprint)
	if fp == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "device fingerprint is required")
	}
	now := requestcontext.Now(ctx)

	s.createLocks.Lock(fp)
	defer s.createLocks.Unlock(fp)

	active, err := s.store.CountActiveByDevice(ctx, fp, now)
	if err != nil {
		s.observe(models.ActionCreate, err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count device sessions")
	}
	if active >= s.maxPerDevice {
		s.auditor.Log(ctx, audit.EventSessionRejected,
			"subject", privacy.AnonymizeIP(in.IPAddress),
			"reason", string(models.ReasonCapacity),
			"active_sessions", active,
			"max_sessions", s.maxPerDevice,
		)
		return nil, s.deny(models.ActionCreate, models.ReasonCapacity)
	}

	issued, err := s.issue(ctx, fp, in.UserAgent, in.IPAddress, models.InitialScore(fp, in.UserAgent, in.IPAddress), now)
	s.observe(models.ActionCreate, err)
	if err != nil {
		return nil, err
	}
	s.auditor.Log(ctx, audit.EventSessionCreated,
		"subject", issued.SessionID,
		"security_score", issued.SecurityScore,
		"ip", privacy.AnonymizeIP(in.IPAddress),
	)
	return issued, nil
}

func (s *Service) issue(ctx context.Context, fp, userAgent, ip string, score int, now time.Time) (*models.Issued, error) {
	token, err := models.NewToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate token")
	}
	session := models.NewSession(uuid.New(), token, fp, userAgent, ip, score, now, s.ttl)
	if err := s.store.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store session")
	}
	return &models.Issued{
		SessionID:     session.ID.String(),
		Token:         token,
		ExpiresAt:     session.ExpiresAt,
		SecurityScore: session.SecurityScore,
		Tier:          session.Tier(),
	}, nil
}

// Validate checks a presented token and fingerprint. Checks run in order:
// existence and activity, expiry (which also deactivates), token hash,
// then fingerprint similarity. Success refreshes activity.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*models.Validation, error) {
	id, err := uuid.Parse(in.SessionID)
	if err != nil {
		return nil, s.rejectValidation(ctx, in, models.ReasonNotFound)
	}
	now := requestcontext.Now(ctx)
	fp := s.truncate(in.Fingerprint)

	var similarity float64
	var flags []string
	session, err := s.execute(ctx, id,
		func(sess *models.Session) error {
			flags = nil
			if reason, ok := s.check(sess, in.Token, now); !ok {
				return models.Deny(reason)
			}
			similarity = device.Similarity(sess.DeviceFingerprint, fp)
			if similarity < s.threshold {
				return models.Deny(models.ReasonDeviceMismatch)
			}
			if similarity < 1 {
				flags = append(flags, FlagFingerprintDrift)
			}
			if in.UserAgent != "" && sess.UserAgent != "" && in.UserAgent != sess.UserAgent {
				flags = append(flags, FlagUserAgentChanged)
			}
			return nil
		},
		func(sess *models.Session) {
			sess.RecordValidation(now, fp, in.UserAgent, in.IPAddress, similarity)
		},
	)
	if err != nil {
		return nil, s.validationFailure(ctx, in, id, err, now)
	}

	if session.Tier() == models.TierLow {
		flags = append(flags, FlagLowSecurity)
	}
	s.observe(models.ActionValidate, nil)
	if s.metrics != nil {
		s.metrics.ObserveValidation(session.SecurityScore, similarity)
	}
	return &models.Validation{
		SessionID:     session.ID.String(),
		SecurityScore: session.SecurityScore,
		Tier:          session.Tier(),
		Flags:         flags,
		ExpiresAt:     session.ExpiresAt,
	}, nil
}

// check applies the fail-closed state checks shared by validate, rotate and
// revoke.
func (s *Service) check(sess *models.Session, token string, now time.Time) (models.Reason, bool) {
	switch {
	case !sess.IsActive:
		return models.ReasonInactive, false
	case sess.IsExpired(now):
		return models.ReasonExpired, false
	case !sess.MatchesToken(token):
		return models.ReasonInvalidToken, false
	}
	return "", true
}

func (s *Service) validationFailure(ctx context.Context, in ValidateInput, id uuid.UUID, err error, now time.Time) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return s.rejectValidation(ctx, in, models.ReasonNotFound)
	}
	reason, ok := models.ReasonOf(err)
	if !ok {
		s.observe(models.ActionValidate, err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to validate session")
	}
	if reason == models.ReasonExpired {
		s.deactivate(ctx, id, models.DeactivatedExpired, now)
	}
	return s.rejectValidation(ctx, in, reason)
}

func (s *Service) rejectValidation(ctx context.Context, in ValidateInput, reason models.Reason) error {
	s.auditor.Log(ctx, audit.EventSessionInvalid,
		"subject", privacy.RedactIdentifier(in.SessionID),
		"reason", string(reason),
		"ip", privacy.AnonymizeIP(in.IPAddress),
	)
	return s.deny(models.ActionValidate, reason)
}

// execute runs a store transaction, retrying once when a concurrent writer
// to the same session won the race. The retry sees that writer's result, so
// concurrent validations both succeed and the last write wins.
func (s *Service) execute(ctx context.Context, id uuid.UUID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	session, err := s.store.Execute(ctx, id, validate, mutate)
	if errors.Is(err, sentinel.ErrConflict) {
		session, err = s.store.Execute(ctx, id, validate, mutate)
	}
	return session, err
}

func (s *Service) deactivate(ctx context.Context, id uuid.UUID, reason models.DeactivationReason, now time.Time) {
	_, err := s.execute(ctx, id, nil, func(sess *models.Session) {
		sess.Deactivate(reason, now)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to deactivate session",
			"error", err,
			"reason", string(reason),
		)
	}
}

// Rotate retires a valid session and issues a replacement bound to the
// same device. The old id fails every later validation. If the replacement
// cannot be stored the old session is restored.
func (s *Service) Rotate(ctx context.Context, in ValidateInput) (*models.Issued, error) {
	id, err := uuid.Parse(in.SessionID)
	if err != nil {
		return nil, s.deny(models.ActionRotate, models.ReasonNotFound)
	}
	now := requestcontext.Now(ctx)
	fp := s.truncate(in.Fingerprint)

	old, err := s.execute(ctx, id,
		func(sess *models.Session) error {
			if reason, ok := s.check(sess, in.Token, now); !ok {
				return models.Deny(reason)
			}
			if device.Similarity(sess.DeviceFingerprint, fp) < s.threshold {
				return models.Deny(models.ReasonDeviceMismatch)
			}
			return nil
		},
		func(sess *models.Session) {
			sess.Deactivate(models.DeactivatedRotated, now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, s.deny(models.ActionRotate, models.ReasonNotFound)
		}
		if reason, ok := models.ReasonOf(err); ok {
			return nil, s.deny(models.ActionRotate, reason)
		}
		s.observe(models.ActionRotate, err)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rotate session")
	}

	userAgent := in.UserAgent
	if userAgent == "" {
		userAgent = old.UserAgent
	}
	issued, err := s.issue(ctx, old.DeviceFingerprint, userAgent, in.IPAddress, old.SecurityScore, now)
	if err != nil {
		if _, rerr := s.execute(ctx, id, nil, func(sess *models.Session) { sess.Reactivate() }); rerr != nil {
			s.logger.ErrorContext(ctx, "failed to restore session after rotation failure", "error", rerr)
		}
		s.observe(models.ActionRotate, err)
		return nil, err
	}

	s.observe(models.ActionRotate, nil)
	s.auditor.Log(ctx, audit.EventSessionRotated,
		"subject", privacy.RedactIdentifier(in.SessionID),
		"new_session", privacy.RedactIdentifier(issued.SessionID),
	)
	return issued, nil
}

// Revoke deactivates a session. Revoking an inactive or unknown session
// succeeds; a wrong token is refused.
func (s *Service) Revoke(ctx context.Context, sessionID, token string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		s.observe(models.ActionInvalidate, nil)
		return nil
	}
	now := requestcontext.Now(ctx)

	revoked := false
	_, err = s.execute(ctx, id,
		func(sess *models.Session) error {
			if !sess.MatchesToken(token) {
				return models.Deny(models.ReasonInvalidToken)
			}
			return nil
		},
		func(sess *models.Session) {
			revoked = sess.Deactivate(models.DeactivatedRevoked, now)
		},
	)
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		s.observe(models.ActionInvalidate, nil)
		return nil
	default:
		if reason, ok := models.ReasonOf(err); ok {
			return s.deny(models.ActionInvalidate, reason)
		}
		s.observe(models.ActionInvalidate, err)
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}

	s.observe(models.ActionInvalidate, nil)
	if revoked {
		s.auditor.Log(ctx, audit.EventSessionRevoked,
			"subject", privacy.RedactIdentifier(sessionID),
		)
	}
	return nil
}

// CheckConcurrent reports how many active sessions the device holds.
func (s *Service) CheckConcurrent(ctx context.Context, fingerprint string) (*models.Concurrency, error) {
	fp := s.truncate(fingerprint)
	if fp == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "device fingerprint is required")
	}
	active, err := s.store.CountActiveByDevice(ctx, fp, requestcontext.Now(ctx))
	s.observe(models.ActionCheckConcurrent, err)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count device sessions")
	}
	return &models.Concurrency{
		Active:     active,
		Max:        s.maxPerDevice,
		AtCapacity: active >= s.maxPerDevice,
	}, nil
}

// SweepExpired deactivates sessions past their expiry.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.store.DeactivateExpired(ctx, requestcontext.Now(ctx))
}

func (s *Service) deny(action models.Action, reason models.Reason) error {
	err := models.Deny(reason)
	s.observe(action, err)
	if s.metrics != nil {
		s.metrics.IncrementDenial(string(reason))
	}
	return err
}

func (s *Service) observe(action models.Action, err error) {
	if s.metrics != nil {
		s.metrics.ObserveOperation(string(action), err)
	}
}
