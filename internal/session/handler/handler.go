package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"aegis/internal/session/models"
	"aegis/internal/session/service"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/requestcontext"
)

type Service interface {
	Create(ctx context.Context, in service.CreateInput) (*models.Issued, error)
	Validate(ctx context.Context, in service.ValidateInput) (*models.Validation, error)
	Rotate(ctx context.Context, in service.ValidateInput) (*models.Issued, error)
	Revoke(ctx context.Context, sessionID, token string) error
	CheckConcurrent(ctx context.Context, fingerprint string) (*models.Concurrency, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the multiplexed session endpoint. The caller wraps r with
// the sessionValidate limiter and the escalation guard.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/session", h.HandleSession)
}

// Request is the body of POST /v1/session. The token is never logged.
type Request struct {
	Action            models.Action `json:"action" validate:"required,oneof=create validate rotate invalidate check_concurrent"`
	SessionID         string        `json:"sessionId" validate:"omitempty,uuid"`
	Token             string        `json:"token" validate:"max=256"`
	DeviceFingerprint string        `json:"deviceFingerprint" validate:"max=4096"`
	UserAgent         string        `json:"userAgent" validate:"max=1024"`
	IPAddress         string        `json:"ipAddress" validate:"omitempty,ip"`
}

func (r *Request) Normalize() {
	r.Action = models.Action(strings.ToLower(strings.TrimSpace(string(r.Action))))
	r.SessionID = strings.TrimSpace(r.SessionID)
	r.Token = strings.TrimSpace(r.Token)
	r.DeviceFingerprint = strings.TrimSpace(r.DeviceFingerprint)
	r.IPAddress = strings.TrimSpace(r.IPAddress)
}

func (r *Request) Validate() error {
	if err := httputil.ValidateStruct(r); err != nil {
		return err
	}
	switch r.Action {
	case models.ActionValidate, models.ActionRotate, models.ActionInvalidate:
		if r.SessionID == "" {
			return dErrors.New(dErrors.CodeValidation, "sessionId is required for "+string(r.Action))
		}
		if r.Token == "" {
			return dErrors.New(dErrors.CodeValidation, "token is required for "+string(r.Action))
		}
	}
	return nil
}

// fillFromContext defaults the client-described fields to what the request
// itself shows.
func (r *Request) fillFromContext(ctx context.Context) {
	if r.DeviceFingerprint == "" {
		r.DeviceFingerprint = requestcontext.DeviceFingerprint(ctx)
	}
	if r.UserAgent == "" {
		r.UserAgent = requestcontext.UserAgent(ctx)
	}
	if r.IPAddress == "" {
		r.IPAddress = requestcontext.ClientIP(ctx)
	}
}

func (r *Request) validateInput() service.ValidateInput {
	return service.ValidateInput{
		SessionID:   r.SessionID,
		Token:       r.Token,
		Fingerprint: r.DeviceFingerprint,
		UserAgent:   r.UserAgent,
		IPAddress:   r.IPAddress,
	}
}

// HandleSession implements POST /v1/session.
// Input: { "action": "validate", "sessionId": "...", "token": "...", "deviceFingerprint": "..." }
// Every response carries "success". A refusal also carries "reason"; a
// failure carries only "error".
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[Request](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	req.fillFromContext(ctx)

	var (
		resp *models.Response
		err  error
	)
	switch req.Action {
	case models.ActionCreate:
		resp, err = h.create(ctx, req)
	case models.ActionValidate:
		resp, err = h.validate(ctx, req)
	case models.ActionRotate:
		resp, err = h.rotate(ctx, req)
	case models.ActionInvalidate:
		err = h.service.Revoke(ctx, req.SessionID, req.Token)
		resp = &models.Response{Success: true, SessionID: req.SessionID}
	case models.ActionCheckConcurrent:
		resp, err = h.checkConcurrent(ctx, req)
	}
	if err != nil {
		h.writeFailure(ctx, w, req.Action, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) create(ctx context.Context, req *Request) (*models.Response, error) {
	issued, err := h.service.Create(ctx, service.CreateInput{
		Fingerprint: req.DeviceFingerprint,
		UserAgent:   req.UserAgent,
		IPAddress:   req.IPAddress,
	})
	if err != nil {
		return nil, err
	}
	return issuedResponse(issued), nil
}

func (h *Handler) validate(ctx context.Context, req *Request) (*models.Response, error) {
	v, err := h.service.Validate(ctx, req.validateInput())
	if err != nil {
		return nil, err
	}
	expiresAt := v.ExpiresAt
	return &models.Response{
		Success:       true,
		IsValid:       true,
		SessionID:     v.SessionID,
		SecurityScore: v.SecurityScore,
		SecurityTier:  v.Tier,
		Flags:         v.Flags,
		ExpiresAt:     &expiresAt,
	}, nil
}

func (h *Handler) rotate(ctx context.Context, req *Request) (*models.Response, error) {
	issued, err := h.service.Rotate(ctx, req.validateInput())
	if err != nil {
		return nil, err
	}
	return issuedResponse(issued), nil
}

func (h *Handler) checkConcurrent(ctx context.Context, req *Request) (*models.Response, error) {
	c, err := h.service.CheckConcurrent(ctx, req.DeviceFingerprint)
	if err != nil {
		return nil, err
	}
	active := c.Active
	return &models.Response{
		Success:        true,
		ActiveSessions: &active,
		MaxSessions:    c.Max,
		AtCapacity:     c.AtCapacity,
	}, nil
}

func issuedResponse(issued *models.Issued) *models.Response {
	expiresAt := issued.ExpiresAt
	return &models.Response{
		Success:       true,
		SessionID:     issued.SessionID,
		Token:         issued.Token,
		ExpiresAt:     &expiresAt,
		SecurityScore: issued.SecurityScore,
		SecurityTier:  issued.Tier,
	}
}

// writeFailure keeps the denial/error distinction on the wire: a refusal
// carries its reason and domain status, anything else is a bare error.
func (h *Handler) writeFailure(ctx context.Context, w http.ResponseWriter, action models.Action, err error) {
	if reason, ok := models.ReasonOf(err); ok {
		httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err)), &models.Response{
			Error:  reason.Message(),
			Reason: reason,
		})
		return
	}

	code := dErrors.CodeOf(err)
	status := httputil.DomainCodeToHTTPStatus(code)
	msg := httputil.DomainCodeToHTTPCode(code)
	if code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "session operation failed",
			"action", string(action),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	} else {
		var de *dErrors.Error
		if errors.As(err, &de) && de.Message != "" {
			msg = de.Message
		}
	}
	httputil.WriteJSON(w, status, &models.Response{Error: msg})
}
