package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"aegis/internal/ratelimit/config"
	"aegis/internal/ratelimit/metrics"
	"aegis/internal/ratelimit/models"
	"aegis/internal/ratelimit/store/override"
	"aegis/internal/ratelimit/store/suspicious"
	"aegis/internal/ratelimit/store/window"
	"aegis/pkg/platform/audit"
	"aegis/pkg/requestcontext"
)

// =============================================================================
// Rate Limiter Service Test Suite
// =============================================================================
// Justification: the limiter's adaptive behavior (burst overrides, suspicious
// scaling, sustained-load flagging) depends on exact timestamp arithmetic that
// HTTP-level tests cannot pin down.

type captureEmitter struct {
	events []audit.Event
}

func (c *captureEmitter) Emit(_ context.Context, e audit.Event) error {
	c.events = append(c.events, e)
	return nil
}

func (c *captureEmitter) count(t audit.EventType) int {
	n := 0
	for _, e := range c.events {
		if e.EventType == t {
			n++
		}
	}
	return n
}

type ServiceSuite struct {
	suite.Suite
	windows    *window.InMemoryStore
	overrides  *override.InMemoryStore
	suspicious *suspicious.InMemoryStore
	emitter    *captureEmitter
	metrics    *metrics.Metrics
	service    *Service
	t0         time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.windows = window.NewInMemoryStore()
	s.overrides = override.NewInMemoryStore()
	s.suspicious = suspicious.NewInMemoryStore()
	s.emitter = &captureEmitter{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.t0 = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.service, err = New(s.windows, s.overrides, s.suspicious,
		WithLogger(logger),
		WithConfig(config.DefaultConfig()),
		WithAuditLogger(audit.NewLogger(logger, s.emitter)),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
}

func (s *ServiceSuite) at(offset time.Duration) context.Context {
	return requestcontext.WithTime(context.Background(), s.t0.Add(offset))
}

// =============================================================================
// Constructor Tests
// =============================================================================

func (s *ServiceSuite) TestNew() {
	s.Run("nil window store returns error", func() {
		_, err := New(nil, s.overrides, s.suspicious)
		s.ErrorContains(err, "window store is required")
	})
	s.Run("nil override store returns error", func() {
		_, err := New(s.windows, nil, s.suspicious)
		s.ErrorContains(err, "override store is required")
	})
	s.Run("nil suspicious store returns error", func() {
		_, err := New(s.windows, s.overrides, nil)
		s.ErrorContains(err, "suspicious store is required")
	})
}

// =============================================================================
// Sliding Window Semantics
// =============================================================================

func (s *ServiceSuite) TestAdmitsUpToLimitThenDenies() {
	var res *models.Result
	for i := range 5 {
		res = s.service.CheckAction(s.at(time.Duration(i)*10*time.Second), models.ActionLogin, "203.0.113.7")
		s.True(res.Allowed, "check %d", i+1)
		s.Equal(4-i, res.Remaining)
		s.Zero(res.RetryAfter)
	}

	res = s.service.CheckAction(s.at(50*time.Second), models.ActionLogin, "203.0.113.7")
	s.False(res.Allowed)
	s.Equal(5, res.Limit)
	s.Zero(res.Remaining)
	s.Equal(s.t0.Add(15*time.Minute), res.ResetAt)
	s.Equal(850, res.RetryAfter)
	s.Equal(1, s.emitter.count(audit.EventRateLimitDenied))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ChecksTotal.WithLabelValues("login", "denied")))
}

func (s *ServiceSuite) TestWindowRollsForwardAfterRetryAfter() {
	for i := range 5 {
		s.service.CheckAction(s.at(time.Duration(i)*10*time.Second), models.ActionLogin, "u1")
	}
	denied := s.service.CheckAction(s.at(50*time.Second), models.ActionLogin, "u1")
	s.Require().False(denied.Allowed)

	later := 50*time.Second + time.Duration(denied.RetryAfter)*time.Second
	res := s.service.CheckAction(s.at(later), models.ActionLogin, "u1")
	s.True(res.Allowed)
}

func (s *ServiceSuite) TestRetryAfterRoundsUp() {
	limit := models.Limit{MaxRequests: 1, Window: 1500 * time.Millisecond}
	s.service.Check(s.at(0), models.ActionAPICall, "ceil", limit)
	res := s.service.Check(s.at(200*time.Millisecond), models.ActionAPICall, "ceil", limit)
	s.False(res.Allowed)
	s.Equal(2, res.RetryAfter, "1.3s rounds up to 2s")
}

func (s *ServiceSuite) TestEmptyWindowResetsOneWindowAhead() {
	res := s.service.Check(s.at(0), models.ActionAPICall, "fresh", models.Limit{MaxRequests: 3, Window: time.Minute})
	s.Equal(s.t0.Add(time.Minute), res.ResetAt)
}

func (s *ServiceSuite) TestUnknownActionUsesAPICallDefault() {
	res := s.service.CheckAction(s.at(0), "exportReport", "10.0.0.1")
	s.True(res.Allowed)
	s.Equal(100, res.Limit)
}

// =============================================================================
// Burst Detection and Dynamic Overrides
// =============================================================================

func (s *ServiceSuite) TestBurstInstallsStricterOverride() {
	for i := range 6 {
		s.service.CheckAction(s.at(time.Duration(i)*100*time.Millisecond), models.ActionLogin, "198.51.100.4")
	}

	overrides, err := s.service.ListOverrides(s.at(time.Second))
	s.Require().NoError(err)
	s.Require().Len(overrides, 1)
	s.Equal(2, overrides[0].Limit.MaxRequests, "floor(5 × 0.5)")
	s.Equal(30*time.Minute, overrides[0].Limit.Window)
	s.Equal(s.t0.Add(500*time.Millisecond+45*time.Minute), overrides[0].ExpiresAt)

	s.True(s.service.IsSuspicious(s.at(time.Second), "198.51.100.4"))
	s.Equal(1, s.emitter.count(audit.EventBurstDetected))
	s.Equal(1, s.emitter.count(audit.EventSourceFlagged))

	s.Run("other sources get the override", func() {
		limit := s.service.EffectiveLimit(s.at(time.Second), models.ActionLogin, "192.0.2.1", s.service.Config().LimitFor(models.ActionLogin))
		s.Equal(models.Limit{MaxRequests: 2, Window: 30 * time.Minute}, limit)
	})

	s.Run("the bursting source gets override and penalty stacked", func() {
		limit := s.service.EffectiveLimit(s.at(time.Second), models.ActionLogin, "198.51.100.4", s.service.Config().LimitFor(models.ActionLogin))
		s.Equal(models.Limit{MaxRequests: 1, Window: time.Hour}, limit)
	})

	s.Run("override lapses after three base windows", func() {
		limit := s.service.EffectiveLimit(s.at(46*time.Minute), models.ActionLogin, "192.0.2.1", s.service.Config().LimitFor(models.ActionLogin))
		s.Equal(models.Limit{MaxRequests: 5, Window: 15 * time.Minute}, limit)
	})
}

func (s *ServiceSuite) TestSlowDenialsAreNotABurst() {
	for i := range 7 {
		s.service.CheckAction(s.at(time.Duration(i)*2*time.Second), models.ActionLogin, "slow")
	}
	overrides, err := s.service.ListOverrides(s.at(time.Minute))
	s.Require().NoError(err)
	s.Empty(overrides)
	s.False(s.service.IsSuspicious(s.at(time.Minute), "slow"))
}

// =============================================================================
// Sustained Load and Suspicious Sources
// =============================================================================

func (s *ServiceSuite) TestSustainedLoadFlagsWithoutOverride() {
	limit := models.Limit{MaxRequests: 2, Window: time.Hour}
	for i := range 4 {
		s.service.Check(s.at(time.Duration(i)*2*time.Second), models.ActionAPICall, "steady", limit)
	}
	s.False(s.service.IsSuspicious(s.at(8*time.Second), "steady"), "4 attempts is not more than 2×2")

	s.service.Check(s.at(8*time.Second), models.ActionAPICall, "steady", limit)
	s.True(s.service.IsSuspicious(s.at(9*time.Second), "steady"))

	overrides, err := s.service.ListOverrides(s.at(9 * time.Second))
	s.Require().NoError(err)
	s.Empty(overrides)
}

func (s *ServiceSuite) TestFlagSuspiciousScalesLimits() {
	s.service.FlagSuspicious(s.at(0), "203.0.113.50", string(models.ReasonEscalation))

	limit := s.service.EffectiveLimit(s.at(time.Second), models.ActionAPICall, "203.0.113.50", s.service.Config().LimitFor(models.ActionAPICall))
	s.Equal(models.Limit{MaxRequests: 30, Window: 2 * time.Minute}, limit)

	res := s.service.CheckAction(s.at(time.Second), models.ActionAPICall, "203.0.113.50")
	s.Equal(30, res.Limit)
}

func (s *ServiceSuite) TestClearSuspicious() {
	s.service.FlagSuspicious(s.at(0), "a", "manual")
	s.service.FlagSuspicious(s.at(0), "b", "manual")

	removed, err := s.service.ClearSuspicious(s.at(0), "a")
	s.Require().NoError(err)
	s.True(removed)
	s.False(s.service.IsSuspicious(s.at(0), "a"))

	n, err := s.service.ClearAllSuspicious(s.at(0))
	s.Require().NoError(err)
	s.Equal(1, n)
	s.False(s.service.IsSuspicious(s.at(0), "b"))
}

func (s *ServiceSuite) TestSuspiciousEntriesExpireAfterTTL() {
	s.service.FlagSuspicious(s.at(0), "ttl", "manual")
	s.True(s.service.IsSuspicious(s.at(23*time.Hour), "ttl"))
	s.False(s.service.IsSuspicious(s.at(24*time.Hour), "ttl"))
}

// =============================================================================
// Failure Semantics
// =============================================================================

type failingWindows struct{ WindowStore }

func (failingWindows) Attempt(context.Context, string, models.Limit, time.Time, time.Duration, int) (*models.Attempt, error) {
	return nil, errors.New("store offline")
}

func (s *ServiceSuite) TestStoreFailureAdmits() {
	svc, err := New(failingWindows{}, s.overrides, s.suspicious,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)

	res := svc.CheckAction(s.at(0), models.ActionLogin, "x")
	s.True(res.Allowed)
	s.Equal(5, res.Limit)
}

func (s *ServiceSuite) TestResetAndUsage() {
	s.service.CheckAction(s.at(0), models.ActionSignup, "u")
	s.service.CheckAction(s.at(0), models.ActionSignup, "u")

	n, err := s.service.Usage(s.at(time.Second), models.ActionSignup, "u")
	s.Require().NoError(err)
	s.Equal(2, n)

	s.Require().NoError(s.service.Reset(s.at(0), models.ActionSignup, "u"))
	n, err = s.service.Usage(s.at(time.Second), models.ActionSignup, "u")
	s.Require().NoError(err)
	s.Zero(n)
}
