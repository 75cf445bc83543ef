package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"aegis/internal/ratelimit/models"
	"aegis/internal/ratelimit/service"
	"aegis/internal/ratelimit/store/override"
	"aegis/internal/ratelimit/store/suspicious"
	"aegis/internal/ratelimit/store/window"
	"aegis/pkg/requestcontext"
)

// =============================================================================
// Rate Limit Middleware Test Suite
// =============================================================================
// Justification: the middleware is the only place limiter results become
// HTTP semantics (429, Retry-After, X-RateLimit-*), so the contract is pinned
// here against the real service.

type MiddlewareSuite struct {
	suite.Suite
	logger  *slog.Logger
	service *service.Service
	now     time.Time
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareSuite))
}

func (s *MiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	var err error
	s.service, err = service.New(window.NewInMemoryStore(), override.NewInMemoryStore(), suspicious.NewInMemoryStore(),
		service.WithLogger(s.logger))
	s.Require().NoError(err)
}

func (s *MiddlewareSuite) do(h http.Handler, ip string, offset time.Duration) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/password/check", nil)
	ctx := requestcontext.WithClientMetadata(req.Context(), ip, "test")
	ctx = requestcontext.WithTime(ctx, s.now.Add(offset))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (s *MiddlewareSuite) TestHeadersAndDenial() {
	calls := 0
	h := New(s.service, s.logger).RateLimit(models.ActionSignup)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	for i := range 3 {
		rec := s.do(h, "203.0.113.9", time.Duration(i)*time.Minute)
		s.Equal(http.StatusOK, rec.Code)
		s.Equal("3", rec.Header().Get("X-RateLimit-Limit"))
		s.Equal(strconv.Itoa(2-i), rec.Header().Get("X-RateLimit-Remaining"))
		s.Equal(strconv.FormatInt(s.now.Add(time.Hour).Unix(), 10), rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := s.do(h, "203.0.113.9", 3*time.Minute)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("3420", rec.Header().Get("Retry-After"))
	s.Contains(rec.Body.String(), "rate_limit_exceeded")
	s.Equal(3, calls, "denied request must not reach the handler")

	s.Run("other clients are unaffected", func() {
		rec := s.do(h, "198.51.100.1", 3*time.Minute)
		s.Equal(http.StatusOK, rec.Code)
	})
}

type stubLimiter struct {
	identifiers []string
}

func (l *stubLimiter) CheckAction(_ context.Context, _ models.Action, identifier string) *models.Result {
	l.identifiers = append(l.identifiers, identifier)
	return &models.Result{Allowed: true, Limit: 1, Remaining: 1}
}

func (s *MiddlewareSuite) TestCustomKey() {
	limiter := &stubLimiter{}
	byHeader := func(r *http.Request) string { return r.Header.Get("X-Session-ID") }
	h := New(limiter, s.logger).RateLimitBy(models.ActionSessionValidate, byHeader)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("X-Session-ID", "sess-1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))

	s.Equal([]string{"sess-1", "unknown"}, limiter.identifiers)
}
