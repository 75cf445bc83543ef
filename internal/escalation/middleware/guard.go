// Package middleware rejects requests from sources the escalation engine
// has blocked.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
	"aegis/pkg/platform/privacy"
	"aegis/pkg/requestcontext"
)

type BlockChecker interface {
	IsBlocked(ctx context.Context, source string) bool
}

// Guard answers 403 for blocked client addresses.
func Guard(checker BlockChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			source := requestcontext.ClientIP(ctx)
			if source != "" && checker.IsBlocked(ctx, source) {
				logger.InfoContext(ctx, "request from blocked source rejected",
					"source", privacy.RedactIdentifier(source),
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeEscalated, "source blocked"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
