package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/clipdock/clipdock/internal/auth"
)

// Authenticate resolves request credentials through the verifier and stores
// the resulting principal in the request context. A request that presents a
// token the verifier rejects is refused outright; a request with no usable
// credentials passes through anonymously and is rejected by whichever
// handler requires a principal. That keeps unauthenticated surfaces like
// /health reachable by monitors.
func Authenticate(verifier auth.Verifier, tenantHeader string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractToken(r)
			tenantHint := r.Header.Get(tenantHeader)

			principal, err := verifier.Verify(r.Context(), token, tenantHint)
			if err != nil {
				if token != "" && errors.Is(err, auth.ErrInvalidToken) {
					logger.WarnContext(r.Context(), "rejected request credentials",
						slog.String("path", r.URL.Path),
						slog.String("remote_addr", r.RemoteAddr),
					)
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
