package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
)

// AdminMiddlewareSuite tests the admin authentication middleware.
//
// Justification: the invariant "wrong token never reaches handler" guards
// every operator endpoint (unblock, clear suspicious, reset windows).
type AdminMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestAdminMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AdminMiddlewareSuite))
}

func (s *AdminMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *AdminMiddlewareSuite) serve(expected, token, actor string) (called bool, gotActor string, code int) {
	h := RequireAdminToken(expected, s.logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotActor = Actor(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/admin/test", nil)
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	if actor != "" {
		req.Header.Set("X-Admin-Actor-ID", actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return called, gotActor, rec.Code
}

func (s *AdminMiddlewareSuite) TestTokenValidation() {
	s.Run("correct token passes and carries actor", func() {
		called, actor, code := s.serve("secret-admin-token", "secret-admin-token", "ops-1")
		s.True(called)
		s.Equal("ops-1", actor)
		s.Equal(http.StatusOK, code)
	})

	s.Run("wrong token never reaches handler", func() {
		called, _, code := s.serve("secret-admin-token", "wrong", "")
		s.False(called)
		s.Equal(http.StatusUnauthorized, code)
	})

	s.Run("missing token rejected", func() {
		called, _, code := s.serve("secret-admin-token", "", "")
		s.False(called)
		s.Equal(http.StatusUnauthorized, code)
	})

	s.Run("unconfigured token rejects everything", func() {
		called, _, code := s.serve("", "", "")
		s.False(called)
		s.Equal(http.StatusUnauthorized, code)
	})
}
