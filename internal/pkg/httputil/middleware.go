package httputil

import (
	"context"
	"net/http"

	"github.com/kavanga/importdesk/internal/domain"
)

// CORSMiddleware creates CORS middleware that handles preflight requests
// and adds appropriate CORS headers to responses.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	originsSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			if originsSet[origin] || originsSet["*"] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Api-Key, X-Actor-Id, X-Actor-Role")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type contextKey string

const actorKey contextKey = "actor"

// Actor identifies who triggered a request. Authentication happens in the
// upstream gateway; the verified identity is forwarded in the X-Actor-Id
// and X-Actor-Role headers.
type Actor struct {
	ID   *string
	Role *domain.Role
}

// ActorMiddleware extracts the forwarded actor identity into the context.
// Requests without actor headers are attributed to the system role.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := Actor{}

		if id := r.Header.Get("X-Actor-Id"); id != "" {
			actor.ID = &id
		}
		if raw := r.Header.Get("X-Actor-Role"); raw != "" {
			role := domain.Role(raw)
			actor.Role = &role
		} else {
			role := domain.RoleSystem
			actor.Role = &role
		}

		ctx := context.WithValue(r.Context(), actorKey, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActor extracts the actor from context.
func GetActor(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorKey).(Actor); ok {
		return actor
	}
	role := domain.RoleSystem
	return Actor{Role: &role}
}
