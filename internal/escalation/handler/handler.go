package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"aegis/internal/escalation/models"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/middleware/admin"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/requestcontext"
)

// maxReportBytes bounds a report body; browsers send a few KB at most.
const maxReportBytes = 64 << 10

type Engine interface {
	Report(ctx context.Context, v models.Violation) models.Decision
	ReportRuntimeError(ctx context.Context, re models.RuntimeError) (models.Decision, bool)
	ListBlocked(ctx context.Context) []models.BlockedSource
	Unblock(ctx context.Context, source string) bool
	Stats(ctx context.Context) models.Stats
}

type Handler struct {
	engine Engine
	logger *slog.Logger
}

func New(engine Engine, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Register mounts the browser-facing intake endpoints.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/security/csp-report", h.HandleCSPReport)
	r.Post("/v1/security/runtime-error", h.HandleRuntimeError)
}

// RegisterAdmin mounts the operator endpoints. Callers wrap r with
// admin.RequireAdminToken.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/admin/escalation/blocked", h.HandleListBlocked)
	r.Delete("/admin/escalation/blocked/{source}", h.HandleUnblock)
	r.Get("/admin/escalation/stats", h.HandleStats)
}

type RuntimeErrorRequest struct {
	Message      string `json:"message" validate:"required,max=2048"`
	SourceFile   string `json:"sourceFile" validate:"max=2048"`
	LineNumber   int    `json:"lineNumber" validate:"gte=0"`
	ColumnNumber int    `json:"columnNumber" validate:"gte=0"`
	DocumentURI  string `json:"documentUri" validate:"max=2048"`
}

func (r *RuntimeErrorRequest) Normalize() {
	r.Message = strings.TrimSpace(r.Message)
	r.SourceFile = strings.TrimSpace(r.SourceFile)
	r.DocumentURI = strings.TrimSpace(r.DocumentURI)
}

type BlockedListResponse struct {
	Sources []models.BlockedSource `json:"sources"`
	Count   int                    `json:"count"`
}

// HandleCSPReport implements POST /v1/security/csp-report. The reply is
// always 204 on a well-formed report so the reporter learns nothing about
// the decision.
func (h *Handler) HandleCSPReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "report too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read report"))
		return
	}

	violations, err := ParseReports(body)
	if err != nil {
		h.logger.DebugContext(ctx, "rejected csp report", "error", err, "request_id", requestID)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed csp report"))
		return
	}

	source := requestcontext.ClientIP(ctx)
	for _, v := range violations {
		v.Source = source
		h.engine.Report(ctx, v)
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRuntimeError implements POST /v1/security/runtime-error.
// Input: { "message": "...", "sourceFile": "...", "lineNumber": 1 }
func (h *Handler) HandleRuntimeError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[RuntimeErrorRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	h.engine.ReportRuntimeError(ctx, models.RuntimeError{
		Source:       requestcontext.ClientIP(ctx),
		Message:      req.Message,
		SourceFile:   req.SourceFile,
		LineNumber:   req.LineNumber,
		ColumnNumber: req.ColumnNumber,
		DocumentURI:  req.DocumentURI,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleListBlocked implements GET /admin/escalation/blocked.
func (h *Handler) HandleListBlocked(w http.ResponseWriter, r *http.Request) {
	sources := h.engine.ListBlocked(r.Context())
	httputil.WriteJSON(w, http.StatusOK, BlockedListResponse{Sources: sources, Count: len(sources)})
}

// HandleUnblock implements DELETE /admin/escalation/blocked/{source}.
func (h *Handler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source, err := url.PathUnescape(chi.URLParam(r, "source"))
	source = strings.TrimSpace(source)
	if err != nil || source == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "source is required"))
		return
	}
	if !h.engine.Unblock(ctx, source) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "source is not blocked"))
		return
	}
	h.logger.InfoContext(ctx, "source unblocked",
		"source", privacy.RedactIdentifier(source),
		"actor", admin.Actor(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats implements GET /admin/escalation/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.engine.Stats(r.Context()))
}
