package auth

import (
	"context"
	"net/http"

	"github.com/botzfyi/botz/internal/errs"
	"github.com/botzfyi/botz/internal/respond"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

// Middleware creates authentication middleware
type Middleware struct {
	auth *Auth
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(auth *Auth) *Middleware {
	return &Middleware{auth: auth}
}

// RequireAuth ensures the request has a valid Bearer token
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := GetTokenFromRequest(r)
		if token == "" {
			respond.Error(w, errs.Unauthorized, "authentication required")
			return
		}

		claims, err := m.auth.ValidateToken(token)
		if err != nil {
			respond.Error(w, errs.Unauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin ensures the request has admin privileges
func (m *Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetUserFromContext(r.Context())
		if claims == nil {
			respond.Error(w, errs.Unauthorized, "authentication required")
			return
		}

		if !m.auth.IsAdmin(claims) {
			respond.Error(w, errs.Unauthorized, "admin privileges required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// GetUserFromContext retrieves user claims from context
func GetUserFromContext(ctx context.Context) *Claims {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok {
		return nil
	}
	return claims
}

// UserID returns the authenticated user id of r, or "".
func UserID(r *http.Request) string {
	if claims := GetUserFromContext(r.Context()); claims != nil {
		return claims.UserID
	}
	return ""
}
