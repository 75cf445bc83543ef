package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"aegis/internal/password/handler/mocks"
	"aegis/internal/password/models"
	"aegis/pkg/requestcontext"
)

type HandlerSuite struct {
	suite.Suite
	router      http.Handler
	ctrl        *gomock.Controller
	mockService *mocks.MockService
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	h := New(s.mockService, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) post(body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/password/check", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestCheck() {
	s.Run("missing password fails validation", func() {
		rec := s.post(`{"email":"ada@example.com"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("anonymous check passes no user info", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), "xT9!qL2vR#7zK", (*models.UserInfo)(nil)).
			Return(&models.Assessment{Score: 90, IsValid: true, Breach: models.Breach{Checked: true}})

		rec := s.post(`{"password":"xT9!qL2vR#7zK"}`)
		s.Require().Equal(http.StatusOK, rec.Code)

		var body models.Assessment
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal(90, body.Score)
		s.True(body.IsValid)
		s.NotNil(body.Feedback)
	})

	s.Run("user info is trimmed and forwarded", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), "pw", &models.UserInfo{Email: "ada@example.com", Name: "Ada"}).
			Return(&models.Assessment{Feedback: []models.Feedback{{Code: models.FeedbackTooShort, Required: true}}})

		rec := s.post(`{"password":"pw","email":" ada@example.com ","name":"Ada"}`)
		s.Equal(http.StatusOK, rec.Code)
		s.Contains(rec.Body.String(), `"too_short"`)
	})

	s.Run("anonymous callers are keyed by client", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), "xT9!qL2vR#7zK", &models.UserInfo{Subject: "caller:198.51.100.4|chrome|120"}).
			Return(&models.Assessment{})

		req := httptest.NewRequest(http.MethodPost, "/v1/password/check", strings.NewReader(`{"password":"xT9!qL2vR#7zK"}`))
		ctx := requestcontext.WithClientMetadata(req.Context(), "198.51.100.4", "Mozilla/5.0")
		ctx = requestcontext.WithDeviceFingerprint(ctx, "chrome|120")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req.WithContext(ctx))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("a session outranks the client address", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), "xT9!qL2vR#7zK", &models.UserInfo{Subject: "session:sess-1"}).
			Return(&models.Assessment{})

		req := httptest.NewRequest(http.MethodPost, "/v1/password/check", strings.NewReader(`{"password":"xT9!qL2vR#7zK"}`))
		ctx := requestcontext.WithClientMetadata(req.Context(), "198.51.100.4", "Mozilla/5.0")
		ctx = requestcontext.WithSessionID(ctx, "sess-1")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req.WithContext(ctx))
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("password is never echoed", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), "hunter2-secret", gomock.Any()).Return(&models.Assessment{})
		rec := s.post(`{"password":"hunter2-secret"}`)
		s.NotContains(rec.Body.String(), "hunter2-secret")
	})
}
