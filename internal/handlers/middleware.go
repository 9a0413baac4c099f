package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/internal/logging"
)

// AuthMiddleware guards routes with bearer tokens.
type AuthMiddleware struct {
	guard *auth.Guard
	now   func() time.Time
}

func NewAuthMiddleware(guard *auth.Guard) *AuthMiddleware {
	return &AuthMiddleware{guard: guard, now: time.Now}
}

// RequireAuth resolves the principal from the Authorization header and stores
// it in the request context. Failures answer 401 or 403 with a generic message.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		principal, err := m.guard.Authorize(r.Context(), token, m.now())
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthenticated):
				writeError(w, http.StatusUnauthorized, "unauthorized")
			case errors.Is(err, auth.ErrForbidden):
				writeError(w, http.StatusForbidden, "forbidden")
			default:
				hlog.FromRequest(r).Error().Err(err).Str(logging.FieldFault, logging.FaultOperator).Msg("authorization failed")
				writeError(w, http.StatusInternalServerError, "authorization unavailable")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

// RequireRole answers 403 unless the principal holds one of roles. It must run
// after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err := m.guard.Require(principal, roles...); err != nil {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
