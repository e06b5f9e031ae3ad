// Package middleware holds HTTP middleware shared by the hub's side
// surface: the bearer-token gate the /ws upgrade sits behind, and the
// static admin API key gate in front of the /admin/ surface.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/xelth-com/cdchub/internal/hub"
)

type contextKey string

const IdentityContextKey contextKey = "identity"

// RequireSession validates the Authorization: Bearer <token> header against
// auth and, on success, stores the resulting SessionIdentity in the
// request context for the handler to pick up.
func RequireSession(auth *hub.Authenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		identity, err := auth.Authenticate(parts[1])
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity extracts the SessionIdentity stashed by RequireSession.
func Identity(r *http.Request) (hub.SessionIdentity, bool) {
	id, ok := r.Context().Value(IdentityContextKey).(hub.SessionIdentity)
	return id, ok
}

// RequireAdminKey validates the X-Admin-Key header against adminKey with a
// constant-time comparison. An empty adminKey disables the admin surface
// outright, since a blank configured key must never be treated as "no key
// required".
func RequireAdminKey(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" {
			http.Error(w, "admin surface disabled", http.StatusServiceUnavailable)
			return
		}
		got := r.Header.Get("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			http.Error(w, "invalid admin key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
