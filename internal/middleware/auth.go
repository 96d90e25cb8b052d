package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/enum"
)

type contextKey string

const claimsKey contextKey = "claims"

// SessionVerifier reports whether a session is still live.
// Satisfied by *auth.Service.
type SessionVerifier interface {
	VerifySession(ctx context.Context, sessionID uuid.UUID) error
}

// RoleResolver resolves the caller's role server-side.
// Satisfied by *auth.Resolver.
type RoleResolver interface {
	Role(ctx context.Context, userID uuid.UUID, email string) string
}

var errNoToken = errors.New("missing authorization header")

// bearerToken reads the Authorization header, falling back to the
// access_token query parameter used by WebSocket clients.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, nil
		}
		return "", errNoToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization format")
	}
	return parts[1], nil
}

func verify(r *http.Request, jwtSecret string, sessions SessionVerifier, token string) (*auth.Claims, int, string) {
	claims, err := auth.ValidateToken(jwtSecret, token)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}
	if sessions != nil {
		if err := sessions.VerifySession(r.Context(), claims.SessionID); err != nil {
			if errors.Is(err, auth.ErrSessionInvalid) {
				return nil, http.StatusUnauthorized, "session expired or signed out"
			}
			logrus.WithError(err).Error("middleware: verify session")
			return nil, http.StatusInternalServerError, "internal server error"
		}
	}
	return claims, 0, ""
}

// Authenticate rejects requests without a valid access token for a live
// session. sessions may be nil to trust the token alone.
func Authenticate(jwtSecret string, sessions SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
				return
			}
			claims, status, msg := verify(r, jwtSecret, sessions, token)
			if claims == nil {
				writeJSON(w, status, map[string]string{"error": msg})
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalAuth attaches claims when a token is present and lets anonymous
// requests through. A token that is present but invalid is still rejected.
func OptionalAuth(jwtSecret string, sessions SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if errors.Is(err, errNoToken) {
				next.ServeHTTP(w, r)
				return
			}
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
				return
			}
			claims, status, msg := verify(r, jwtSecret, sessions, token)
			if claims == nil {
				writeJSON(w, status, map[string]string{"error": msg})
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOwner resolves the role again instead of trusting the token's hint.
// The resolved role replaces the claim for downstream handlers.
func RequireOwner(roles RoleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
				return
			}

			role := roles.Role(r.Context(), claims.UserID, claims.Email)
			if role != enum.RoleOwner {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "insufficient permissions"})
				return
			}

			resolved := *claims
			resolved.Role = role
			ctx := context.WithValue(r.Context(), claimsKey, &resolved)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// WithClaims returns ctx carrying claims. Used by tests and the WebSocket
// upgrade path.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
