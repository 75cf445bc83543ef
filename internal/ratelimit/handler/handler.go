package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"aegis/internal/ratelimit/models"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/middleware/admin"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/requestcontext"
)

type Service interface {
	Reset(ctx context.Context, action models.Action, identifier string) error
	Usage(ctx context.Context, action models.Action, identifier string) (int, error)
	EffectiveLimit(ctx context.Context, action models.Action, identifier string, base models.Limit) models.Limit
	ListSuspicious(ctx context.Context) ([]models.SuspiciousSource, error)
	FlagSuspicious(ctx context.Context, source string, reason string)
	ClearSuspicious(ctx context.Context, source string) (bool, error)
	ClearAllSuspicious(ctx context.Context) (int, error)
	ListOverrides(ctx context.Context) ([]models.Override, error)
	ClearOverride(ctx context.Context, action models.Action) error
}

// LimitResolver maps an action to its configured base limit.
type LimitResolver func(action models.Action) models.Limit

type Handler struct {
	service Service
	limits  LimitResolver
	logger  *slog.Logger
}

func New(service Service, limits LimitResolver, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		limits:  limits,
		logger:  logger,
	}
}

// RegisterAdmin mounts the operator endpoints. Callers wrap r with
// admin.RequireAdminToken.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/admin/rate-limit/reset", h.HandleReset)
	r.Get("/admin/rate-limit/usage", h.HandleUsage)
	r.Get("/admin/rate-limit/suspicious", h.HandleListSuspicious)
	r.Post("/admin/rate-limit/suspicious", h.HandleFlagSuspicious)
	r.Delete("/admin/rate-limit/suspicious", h.HandleClearAllSuspicious)
	r.Delete("/admin/rate-limit/suspicious/{source}", h.HandleClearSuspicious)
	r.Get("/admin/rate-limit/overrides", h.HandleListOverrides)
	r.Delete("/admin/rate-limit/overrides/{action}", h.HandleClearOverride)
}

type ResetRequest struct {
	Action     string `json:"action" validate:"required,max=64"`
	Identifier string `json:"identifier" validate:"required,max=256"`
}

func (r *ResetRequest) Normalize() {
	r.Action = strings.TrimSpace(r.Action)
	r.Identifier = strings.TrimSpace(r.Identifier)
}

type FlagRequest struct {
	Source string `json:"source" validate:"required,max=256"`
}

func (r *FlagRequest) Normalize() {
	r.Source = strings.TrimSpace(r.Source)
}

type UsageResponse struct {
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
	Used       int    `json:"used"`
	Limit      int    `json:"limit"`
	Window     string `json:"window"`
}

type SuspiciousListResponse struct {
	Sources []models.SuspiciousSource `json:"sources"`
	Count   int                       `json:"count"`
}

type OverrideListResponse struct {
	Overrides []models.Override `json:"overrides"`
	Count     int               `json:"count"`
}

// HandleReset implements POST /admin/rate-limit/reset.
// Input: { "action": "login", "identifier": "203.0.113.7" }
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ResetRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.service.Reset(ctx, models.Action(req.Action), req.Identifier); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset rate limit", "error", err, "request_id", requestID)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit"))
		return
	}
	h.logger.InfoContext(ctx, "rate limit reset",
		"action", req.Action,
		"identifier", privacy.RedactIdentifier(req.Identifier),
		"actor", admin.Actor(ctx),
		"request_id", requestID,
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleUsage implements GET /admin/rate-limit/usage?action=login&identifier=...
func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := models.Action(strings.TrimSpace(r.URL.Query().Get("action")))
	identifier := strings.TrimSpace(r.URL.Query().Get("identifier"))
	if action == "" || identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "action and identifier are required"))
		return
	}

	used, err := h.service.Usage(ctx, action, identifier)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read usage"))
		return
	}
	limit := h.service.EffectiveLimit(ctx, action, identifier, h.limits(action))
	httputil.WriteJSON(w, http.StatusOK, UsageResponse{
		Action:     string(action),
		Identifier: identifier,
		Used:       used,
		Limit:      limit.MaxRequests,
		Window:     limit.Window.String(),
	})
}

func (h *Handler) HandleListSuspicious(w http.ResponseWriter, r *http.Request) {
	sources, err := h.service.ListSuspicious(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list suspicious sources"))
		return
	}
	if sources == nil {
		sources = []models.SuspiciousSource{}
	}
	httputil.WriteJSON(w, http.StatusOK, SuspiciousListResponse{Sources: sources, Count: len(sources)})
}

// HandleFlagSuspicious implements POST /admin/rate-limit/suspicious.
func (h *Handler) HandleFlagSuspicious(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[FlagRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.service.FlagSuspicious(ctx, req.Source, string(models.ReasonManual))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleClearSuspicious(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source := chi.URLParam(r, "source")
	removed, err := h.service.ClearSuspicious(ctx, source)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear source"))
		return
	}
	if !removed {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "source is not flagged"))
		return
	}
	h.logger.InfoContext(ctx, "suspicious source cleared",
		"source", privacy.RedactIdentifier(source),
		"actor", admin.Actor(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleClearAllSuspicious(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	n, err := h.service.ClearAllSuspicious(ctx)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear suspicious sources"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (h *Handler) HandleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.service.ListOverrides(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list overrides"))
		return
	}
	if overrides == nil {
		overrides = []models.Override{}
	}
	httputil.WriteJSON(w, http.StatusOK, OverrideListResponse{Overrides: overrides, Count: len(overrides)})
}

func (h *Handler) HandleClearOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	action := models.Action(chi.URLParam(r, "action"))
	if err := h.service.ClearOverride(ctx, action); err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear override"))
		return
	}
	h.logger.InfoContext(ctx, "rate limit override cleared", "action", string(action), "actor", admin.Actor(ctx))
	w.WriteHeader(http.StatusNoContent)
}
