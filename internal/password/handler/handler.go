package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"aegis/internal/password/models"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

type Service interface {
	Validate(ctx context.Context, password string, user *models.UserInfo) *models.Assessment
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public endpoint. The caller wraps r with the signup
// rate limit.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/password/check", h.HandleCheck)
}

// CheckRequest is never logged.
type CheckRequest struct {
	Password string `json:"password" validate:"required,max=1024"`
	UserID   string `json:"userId" validate:"omitempty,max=256"`
	Email    string `json:"email" validate:"omitempty,max=320"`
	Name     string `json:"name" validate:"omitempty,max=256"`
}

func (r *CheckRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.Email = strings.TrimSpace(r.Email)
	r.Name = strings.TrimSpace(r.Name)
}

// userInfo falls back to a caller key so anonymous checks from different
// clients do not share one reuse history.
func (r *CheckRequest) userInfo(ctx context.Context) *models.UserInfo {
	if r.UserID != "" || r.Email != "" || r.Name != "" {
		return &models.UserInfo{Subject: r.UserID, Email: r.Email, Name: r.Name}
	}
	if id := requestcontext.SessionID(ctx); id != "" {
		return &models.UserInfo{Subject: "session:" + id}
	}
	ip, fp := requestcontext.ClientIP(ctx), requestcontext.DeviceFingerprint(ctx)
	if ip == "" && fp == "" {
		return nil
	}
	return &models.UserInfo{Subject: "caller:" + ip + "|" + fp}
}

// HandleCheck implements POST /v1/password/check.
// Input: { "password": "...", "email": "ada@example.com", "name": "Ada" }
// The response is the assessment; the password is never echoed.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	assessment := h.service.Validate(ctx, req.Password, req.userInfo(ctx))
	if assessment.Feedback == nil {
		assessment.Feedback = []models.Feedback{}
	}
	httputil.WriteJSON(w, http.StatusOK, assessment)
}
