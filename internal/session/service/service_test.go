package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"aegis/internal/session/metrics"
	"aegis/internal/session/models"
	"aegis/internal/session/store"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/store/memory"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
	"aegis/pkg/testutil"
)

const (
	laptop    = "chrome|120|windows|windows|desktop|en-us|europe/berlin|1920x1080"
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"
	clientIP  = "203.0.113.7"
)

type emitter struct {
	store *memory.Store
}

func (e emitter) Emit(ctx context.Context, event audit.Event) error {
	return e.store.Append(ctx, event)
}

// racingStore loses the next n optimistic transactions to a concurrent
// writer, the way the Redis store reports a failed WATCH.
type racingStore struct {
	*store.InMemoryStore
	losses atomic.Int32
}

func (r *racingStore) Execute(ctx context.Context, id uuid.UUID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error) {
	if r.losses.Add(-1) >= 0 {
		return nil, fmt.Errorf("session modified concurrently: %w", sentinel.ErrConflict)
	}
	return r.InMemoryStore.Execute(ctx, id, validate, mutate)
}

// ServiceSuite covers the remote session service.
// Justification: these checks decide whether a presented token is trusted;
// each refusal reason and the device cap are observable by callers.
type ServiceSuite struct {
	suite.Suite
	start   time.Time
	store   *store.InMemoryStore
	events  *memory.Store
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.store = store.NewInMemoryStore()
	s.events = memory.New()
	var err error
	s.service, err = New(s.store,
		WithAuditLogger(audit.NewLogger(nil, emitter{s.events})),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.start.Add(offset))
}

func (s *ServiceSuite) create(fp string) *models.Issued {
	issued, err := s.service.Create(s.at(0), CreateInput{Fingerprint: fp, UserAgent: userAgent, IPAddress: clientIP})
	s.Require().NoError(err)
	return issued
}

func (s *ServiceSuite) validate(ctx context.Context, issued *models.Issued, fp string) (*models.Validation, error) {
	return s.service.Validate(ctx, ValidateInput{
		SessionID:   issued.SessionID,
		Token:       issued.Token,
		Fingerprint: fp,
		UserAgent:   userAgent,
		IPAddress:   clientIP,
	})
}

func (s *ServiceSuite) requireReason(err error, want models.Reason) {
	s.T().Helper()
	s.Require().Error(err)
	reason, ok := models.ReasonOf(err)
	s.Require().True(ok, "expected a denial, got %v", err)
	s.Equal(want, reason)
}

func mustParse(id string) uuid.UUID {
	return uuid.MustParse(id)
}

func (s *ServiceSuite) TestNewRequiresStore() {
	_, err := New(nil)
	s.EqualError(err, "session store is required")
}

func (s *ServiceSuite) TestCreate() {
	s.Run("issues a token that is never stored", func() {
		issued := s.create(laptop)

		s.NotEmpty(issued.Token)
		s.Equal(s.start.Add(DefaultTTL), issued.ExpiresAt)
		s.Equal(100, issued.SecurityScore)
		s.Equal(models.TierHigh, issued.Tier)

		stored, err := s.store.FindByID(context.Background(), mustParse(issued.SessionID))
		s.Require().NoError(err)
		s.NotEqual(issued.Token, stored.TokenHash)
		s.Equal(models.HashToken(issued.Token), stored.TokenHash)
	})

	s.Run("requires a fingerprint", func() {
		_, err := s.service.Create(s.at(0), CreateInput{})
		s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	s.Run("sparse context lowers the score", func() {
		issued, err := s.service.Create(s.at(0), CreateInput{Fingerprint: "short"})
		s.Require().NoError(err)
		s.Equal(50, issued.SecurityScore)
		s.Equal(models.TierLow, issued.Tier)
	})
}

func (s *ServiceSuite) TestDeviceCap() {
	fp := laptop + "|cap"
	first := s.create(fp)
	s.create(fp)
	s.create(fp)

	_, err := s.service.Create(s.at(0), CreateInput{Fingerprint: fp})
	s.True(dErrors.HasCode(err, dErrors.CodeCapacity))
	s.requireReason(err, models.ReasonCapacity)

	conc, err := s.service.CheckConcurrent(s.at(0), fp)
	s.Require().NoError(err)
	s.Equal(&models.Concurrency{Active: 3, Max: 3, AtCapacity: true}, conc)

	s.Require().NoError(s.service.Revoke(s.at(0), first.SessionID, first.Token))
	_, err = s.service.Create(s.at(0), CreateInput{Fingerprint: fp})
	s.NoError(err, "revoking one session frees a slot")
}

func (s *ServiceSuite) TestDeviceCapFreedByExpiry() {
	fp := laptop + "|expiry"
	for range 3 {
		s.create(fp)
	}
	_, err := s.service.Create(s.at(time.Hour), CreateInput{Fingerprint: fp})
	s.requireReason(err, models.ReasonCapacity)

	_, err = s.service.Create(s.at(DefaultTTL), CreateInput{Fingerprint: fp})
	s.NoError(err)
}

func (s *ServiceSuite) TestConcurrentCreatesRespectCap() {
	fp := laptop + "|race"
	result := testutil.RunConcurrent(10, func(int) error {
		_, err := s.service.Create(s.at(0), CreateInput{Fingerprint: fp})
		return err
	})
	s.Equal(int32(3), result.Successes)
	s.Equal(int32(7), result.Denied)
}

func (s *ServiceSuite) TestValidate() {
	issued := s.create(laptop)

	s.Run("valid session", func() {
		v, err := s.validate(s.at(time.Minute), issued, laptop)
		s.Require().NoError(err)
		s.Equal(models.TierHigh, v.Tier)
		s.Equal(100, v.SecurityScore)
		s.Empty(v.Flags)
	})

	s.Run("small drift passes with a flag", func() {
		drifted := "chrome|120|windows|windows|desktop|en-us|europe/berlin|1920x1200"
		v, err := s.validate(s.at(2*time.Minute), issued, drifted)
		s.Require().NoError(err)
		s.Contains(v.Flags, FlagFingerprintDrift)
		s.Less(v.SecurityScore, 100)
	})

	s.Run("different device is refused", func() {
		_, err := s.validate(s.at(3*time.Minute), issued, "safari|17|ios|iphone|mobile|fr-fr|europe/paris|390x844")
		s.requireReason(err, models.ReasonDeviceMismatch)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidated))
	})

	s.Run("wrong token is refused", func() {
		_, err := s.service.Validate(s.at(time.Minute), ValidateInput{
			SessionID:   issued.SessionID,
			Token:       "not-the-token",
			Fingerprint: laptop,
		})
		s.requireReason(err, models.ReasonInvalidToken)
	})

	s.Run("unknown and malformed ids fail closed", func() {
		_, err := s.service.Validate(s.at(0), ValidateInput{SessionID: "0b6e7d84-4a8c-4d4e-9f43-1c1c0f3b9a11", Token: "x"})
		s.requireReason(err, models.ReasonNotFound)

		_, err = s.service.Validate(s.at(0), ValidateInput{SessionID: "nope", Token: "x"})
		s.requireReason(err, models.ReasonNotFound)
	})

	recent, err := s.events.ListRecent(context.Background(), 1)
	s.Require().NoError(err)
	s.Equal(audit.EventSessionInvalid, recent[0].EventType)
}

func (s *ServiceSuite) TestSteadyDriftIsChargedOnce() {
	issued := s.create(laptop)
	drifted := "chrome|120|windows|windows|desktop|en-us|europe/berlin|1920x1200"

	first, err := s.validate(s.at(time.Minute), issued, drifted)
	s.Require().NoError(err)
	s.Less(first.SecurityScore, 100)

	for i := 2; i <= 12; i++ {
		v, err := s.validate(s.at(time.Duration(i)*5*time.Minute), issued, drifted)
		s.Require().NoError(err)
		s.Equal(first.SecurityScore, v.SecurityScore, "re-validation %d", i)
		s.Contains(v.Flags, FlagFingerprintDrift)
	}

	s.Run("returning to the original device is free", func() {
		v, err := s.validate(s.at(time.Hour+time.Minute), issued, laptop)
		s.Require().NoError(err)
		s.Equal(first.SecurityScore, v.SecurityScore)
		s.Empty(v.Flags)
	})
}

func (s *ServiceSuite) TestLostRaceIsRetried() {
	racing := &racingStore{InMemoryStore: store.NewInMemoryStore()}
	svc, err := New(racing)
	s.Require().NoError(err)
	issued, err := svc.Create(s.at(0), CreateInput{Fingerprint: laptop, UserAgent: userAgent})
	s.Require().NoError(err)
	in := ValidateInput{SessionID: issued.SessionID, Token: issued.Token, Fingerprint: laptop, UserAgent: userAgent}

	s.Run("one lost race still validates", func() {
		racing.losses.Store(1)
		v, err := svc.Validate(s.at(time.Minute), in)
		s.Require().NoError(err)
		s.Equal(100, v.SecurityScore)
		s.Empty(v.Flags)
	})

	s.Run("losing twice is an internal error, not a refusal", func() {
		racing.losses.Store(2)
		_, err := svc.Validate(s.at(2*time.Minute), in)
		s.Require().Error(err)
		_, denied := models.ReasonOf(err)
		s.False(denied)
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestExpiredSessionIsDeactivated() {
	issued := s.create(laptop)

	_, err := s.validate(s.at(DefaultTTL), issued, laptop)
	s.requireReason(err, models.ReasonExpired)

	stored, err := s.store.FindByID(context.Background(), mustParse(issued.SessionID))
	s.Require().NoError(err)
	s.False(stored.IsActive)
	s.Equal(models.DeactivatedExpired, stored.DeactivatedReason)

	_, err = s.validate(s.at(time.Minute), issued, laptop)
	s.requireReason(err, models.ReasonInactive)
}

func (s *ServiceSuite) TestRotate() {
	issued := s.create(laptop)

	rotated, err := s.service.Rotate(s.at(time.Minute), ValidateInput{
		SessionID:   issued.SessionID,
		Token:       issued.Token,
		Fingerprint: laptop,
	})
	s.Require().NoError(err)
	s.NotEqual(issued.SessionID, rotated.SessionID)
	s.NotEqual(issued.Token, rotated.Token)

	_, err = s.validate(s.at(2*time.Minute), rotated, laptop)
	s.NoError(err, "new id validates")

	_, err = s.validate(s.at(2*time.Minute), issued, laptop)
	s.requireReason(err, models.ReasonInactive)

	_, err = s.service.Rotate(s.at(3*time.Minute), ValidateInput{
		SessionID:   issued.SessionID,
		Token:       issued.Token,
		Fingerprint: laptop,
	})
	s.requireReason(err, models.ReasonInactive)
}

func (s *ServiceSuite) TestRevoke() {
	issued := s.create(laptop)

	s.requireReason(s.service.Revoke(s.at(0), issued.SessionID, "wrong"), models.ReasonInvalidToken)

	s.NoError(s.service.Revoke(s.at(0), issued.SessionID, issued.Token))
	s.NoError(s.service.Revoke(s.at(0), issued.SessionID, issued.Token), "idempotent")
	s.NoError(s.service.Revoke(s.at(0), "0b6e7d84-4a8c-4d4e-9f43-1c1c0f3b9a11", "x"), "unknown id")

	_, err := s.validate(s.at(time.Minute), issued, laptop)
	s.requireReason(err, models.ReasonInactive)
}

func (s *ServiceSuite) TestSweepExpired() {
	s.create(laptop)
	s.create(laptop + "|other")

	n, err := s.service.SweepExpired(s.at(time.Hour))
	s.Require().NoError(err)
	s.Equal(0, n)

	n, err = s.service.SweepExpired(s.at(DefaultTTL + time.Second))
	s.Require().NoError(err)
	s.Equal(2, n)
}
