package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lumenbro/photonbot-turnkey/internal/auth"
	"github.com/lumenbro/photonbot-turnkey/internal/logger"
	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
)

type telegramIDContextKey struct{}

// AuthGate verifies the bearer token on cross-service calls. Each failure
// class gets its own message so clients and operators can tell a missing
// header from an expired or forged token.
type AuthGate struct {
	secret []byte
}

// NewAuthGate creates an auth gate over the shared signing secret.
func NewAuthGate(secret string) *AuthGate {
	return &AuthGate{secret: []byte(secret)}
}

// Authenticate validates the Authorization header and adds the user
// identity to context.
func (g *AuthGate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			metrics.AuthFailures.Inc()
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			metrics.AuthFailures.Inc()
			writeJSONError(w, "malformed authorization header", http.StatusUnauthorized)
			return
		}

		telegramID, err := auth.Verify(g.secret, token)
		if err != nil {
			metrics.AuthFailures.Inc()
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				writeJSONError(w, "token expired", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrTokenMalformed):
				writeJSONError(w, "malformed token", http.StatusUnauthorized)
			default:
				writeJSONError(w, "invalid token", http.StatusUnauthorized)
			}
			return
		}

		ctx := context.WithValue(r.Context(), telegramIDContextKey{}, telegramID)
		ctx = logger.WithTelegramID(ctx, telegramID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TelegramID retrieves the authenticated user identity from context.
func TelegramID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(telegramIDContextKey{}).(int64)
	return id, ok
}
