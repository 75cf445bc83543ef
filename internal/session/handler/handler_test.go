package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"aegis/internal/session/handler/mocks"
	"aegis/internal/session/models"
	"aegis/internal/session/service"
	"aegis/pkg/requestcontext"
)

const (
	sessionID   = "0b6f1c9e-4f7a-4d35-9c1e-2a9f6c1d8e11"
	fingerprint = "chrome|120|windows|windows|desktop|en-us|europe/berlin|1920x1080"
)

type HandlerSuite struct {
	suite.Suite
	router      http.Handler
	ctrl        *gomock.Controller
	mockService *mocks.MockService
	expiresAt   time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	s.expiresAt = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	h := New(s.mockService, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func (s *HandlerSuite) post(ctx context.Context, body string) (*httptest.ResponseRecorder, models.Response) {
	req := httptest.NewRequest(http.MethodPost, "/v1/session", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var resp models.Response
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func (s *HandlerSuite) TestCreate() {
	s.Run("fingerprint and client metadata fall back to the request", func() {
		ctx := requestcontext.WithClientMetadata(context.Background(), "203.0.113.7", "Mozilla/5.0")
		ctx = requestcontext.WithDeviceFingerprint(ctx, fingerprint)
		s.mockService.EXPECT().Create(gomock.Any(), service.CreateInput{
			Fingerprint: fingerprint,
			UserAgent:   "Mozilla/5.0",
			IPAddress:   "203.0.113.7",
		}).Return(&models.Issued{
			SessionID:     sessionID,
			Token:         "plaintext-token",
			ExpiresAt:     s.expiresAt,
			SecurityScore: 100,
			Tier:          models.TierHigh,
		}, nil)

		rec, resp := s.post(ctx, `{"action":"create"}`)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.True(resp.Success)
		s.Equal(sessionID, resp.SessionID)
		s.Equal("plaintext-token", resp.Token)
		s.Equal(models.TierHigh, resp.SecurityTier)
		s.Require().NotNil(resp.ExpiresAt)
		s.True(resp.ExpiresAt.Equal(s.expiresAt))
	})

	s.Run("capacity refusal carries its reason", func() {
		s.mockService.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, models.Deny(models.ReasonCapacity))

		rec, resp := s.post(context.Background(), `{"action":"create","deviceFingerprint":"`+fingerprint+`"}`)
		s.Equal(http.StatusConflict, rec.Code)
		s.False(resp.Success)
		s.Equal(models.ReasonCapacity, resp.Reason)
		s.Equal("device session limit reached", resp.Error)
	})

	s.Run("store failure is an error without a reason", func() {
		s.mockService.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("redis down"))

		rec, resp := s.post(context.Background(), `{"action":"create","deviceFingerprint":"`+fingerprint+`"}`)
		s.Equal(http.StatusInternalServerError, rec.Code)
		s.False(resp.Success)
		s.Empty(resp.Reason)
		s.Equal("internal_error", resp.Error)
		s.NotContains(rec.Body.String(), "redis down")
	})
}

func (s *HandlerSuite) TestValidate() {
	s.Run("success reports tier and flags", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), service.ValidateInput{
			SessionID:   sessionID,
			Token:       "tok",
			Fingerprint: fingerprint,
			UserAgent:   "Mozilla/5.0",
		}).Return(&models.Validation{
			SessionID:     sessionID,
			SecurityScore: 72,
			Tier:          models.TierMedium,
			Flags:         []string{service.FlagFingerprintDrift},
			ExpiresAt:     s.expiresAt,
		}, nil)

		rec, resp := s.post(context.Background(), `{"action":"validate","sessionId":"`+sessionID+`","token":"tok","deviceFingerprint":"`+fingerprint+`","userAgent":"Mozilla/5.0"}`)
		s.Require().Equal(http.StatusOK, rec.Code)
		s.True(resp.Success)
		s.True(resp.IsValid)
		s.Equal(72, resp.SecurityScore)
		s.Equal(models.TierMedium, resp.SecurityTier)
		s.Equal([]string{service.FlagFingerprintDrift}, resp.Flags)
	})

	s.Run("mismatch is a 401 refusal", func() {
		s.mockService.EXPECT().Validate(gomock.Any(), gomock.Any()).Return(nil, models.Deny(models.ReasonDeviceMismatch))

		rec, resp := s.post(context.Background(), `{"action":"validate","sessionId":"`+sessionID+`","token":"tok","deviceFingerprint":"other"}`)
		s.Equal(http.StatusUnauthorized, rec.Code)
		s.False(resp.Success)
		s.False(resp.IsValid)
		s.Equal(models.ReasonDeviceMismatch, resp.Reason)
	})

	s.Run("session id is required", func() {
		rec, _ := s.post(context.Background(), `{"action":"validate","token":"tok"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Contains(rec.Body.String(), "sessionId is required")
	})

	s.Run("malformed session id fails validation", func() {
		rec, _ := s.post(context.Background(), `{"action":"validate","sessionId":"nope","token":"tok"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestRotate() {
	s.mockService.EXPECT().Rotate(gomock.Any(), gomock.Any()).Return(&models.Issued{
		SessionID: "new-id",
		Token:     "new-token",
		ExpiresAt: s.expiresAt,
		Tier:      models.TierHigh,
	}, nil)

	rec, resp := s.post(context.Background(), `{"action":"rotate","sessionId":"`+sessionID+`","token":"tok"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("new-id", resp.SessionID)
	s.Equal("new-token", resp.Token)
}

func (s *HandlerSuite) TestInvalidate() {
	s.Run("revoke succeeds", func() {
		s.mockService.EXPECT().Revoke(gomock.Any(), sessionID, "tok").Return(nil)

		rec, resp := s.post(context.Background(), `{"action":"invalidate","sessionId":"`+sessionID+`","token":"tok"}`)
		s.Equal(http.StatusOK, rec.Code)
		s.True(resp.Success)
	})

	s.Run("token is required", func() {
		rec, _ := s.post(context.Background(), `{"action":"invalidate","sessionId":"`+sessionID+`"}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestCheckConcurrent() {
	s.mockService.EXPECT().CheckConcurrent(gomock.Any(), fingerprint).
		Return(&models.Concurrency{Active: 0, Max: 3}, nil)

	rec, resp := s.post(context.Background(), `{"action":"check_concurrent","deviceFingerprint":"`+fingerprint+`"}`)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NotNil(resp.ActiveSessions, "zero active sessions is still reported")
	s.Equal(0, *resp.ActiveSessions)
	s.Equal(3, resp.MaxSessions)
	s.False(resp.AtCapacity)
}

func (s *HandlerSuite) TestRejectsUnknownAction() {
	rec, _ := s.post(context.Background(), `{"action":"destroy"}`)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.post(context.Background(), `{not json`)
	s.Equal(http.StatusBadRequest, rec.Code)
}
