package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-intercom-relay/pkg/relay"
)

type contextKey string

const userIDContextKey contextKey = "authedUserID"

// GetUserIDFromContext returns the authenticated user injected by the auth
// middleware.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok
}

// NewAuthMiddleware returns middleware that validates the Authorization
// bearer token against the identity service and injects the authenticated
// user ID into the request context.
func NewAuthMiddleware(identity relay.IdentityVerifier, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteJSONError(w, http.StatusUnauthorized, "missing authentication token")
				return
			}

			userID, err := identity.VerifyUserToken(r.Context(), token)
			if err != nil {
				logger.Warn().Err(err).Msg("API token rejected.")
				WriteJSONError(w, http.StatusUnauthorized, "invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
