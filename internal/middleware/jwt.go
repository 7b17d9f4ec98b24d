package myMiddleware

import (
	"context"
	"net/http"
	"strings"

	"shopchat/internal/apperr"
	"shopchat/internal/httpx"
)

type contextKey string

const (
	UserKey  contextKey = "user_id"
	EmailKey contextKey = "email"
)

// TokenValidator is what the middleware needs from the user service.
type TokenValidator interface {
	ValidateToken(tokenString string) (userID, email string, err error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// TokenFromRequest returns the bearer token from the Authorization header,
// falling back to the token query parameter used by websocket clients.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return r.URL.Query().Get("token")
}

func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := TokenFromRequest(r)
		if tokenString == "" {
			httpx.JSON(w, http.StatusUnauthorized, httpx.M{"message": "missing authentication token"})
			return
		}

		userID, email, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			httpx.JSON(w, http.StatusUnauthorized, httpx.M{"message": "invalid token"})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, email)))
	})
}

func WithUser(ctx context.Context, userID, email string) context.Context {
	ctx = context.WithValue(ctx, UserKey, userID)
	return context.WithValue(ctx, EmailKey, email)
}

// UserID returns the authenticated user id stored by Handle.
func UserID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(UserKey).(string)
	if !ok || id == "" {
		return "", apperr.Forbidden("not authenticated")
	}
	return id, nil
}
