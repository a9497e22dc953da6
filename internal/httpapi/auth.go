package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"turnero/turno-service/internal/store"
)

const (
	PermissionCreateTickets   = "tickets:create"
	PermissionDispatchTickets = "tickets:dispatch"
	PermissionUpdateTickets   = "tickets:update"
)

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
}

type principalContextKey struct{}

// AuthMiddleware resolves the bearer session token into an authenticated
// principal and gates mutating routes on the session's permission set.
// Permission sets replace the legacy string role comparison.
func AuthMiddleware(sessions SessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		required, public := routePermission(r)
		if public {
			next.ServeHTTP(w, r)
			return
		}

		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session", nil)
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired session", nil)
				return
			}
			status, code, msg, details := mapError(err)
			writeError(w, status, code, msg, details)
			return
		}
		if required != "" && !session.HasPermission(required) {
			writeError(w, http.StatusForbidden, "access_denied", "missing permission "+required, nil)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func PrincipalFromContext(ctx context.Context) (store.Session, bool) {
	session, ok := ctx.Value(principalContextKey{}).(store.Session)
	return session, ok
}

// routePermission returns the permission a route demands; public routes
// (health, metrics, the display queue and the kiosk active-ticket check)
// need no session.
func routePermission(r *http.Request) (string, bool) {
	path := r.URL.Path
	switch {
	case path == "/healthz" || path == "/metrics" || path == "/api/queue":
		return "", true
	case r.Method == http.MethodOptions:
		return "", true
	case strings.HasPrefix(path, "/api/patients/") && strings.HasSuffix(path, "/active-ticket"):
		return "", true
	case path == "/api/tickets" && r.Method == http.MethodPost:
		return PermissionCreateTickets, false
	case path == "/api/tickets/actions/call-next":
		return PermissionDispatchTickets, false
	case strings.HasPrefix(path, "/api/tickets/") && strings.HasSuffix(path, "/actions/state"):
		return PermissionUpdateTickets, false
	default:
		// remaining routes want a valid session but no named permission
		return "", false
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
