// Package auth issues and verifies the bearer tokens that authorize calls
// between the session service and the signer.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the authenticated user identity.
type Claims struct {
	TelegramID int64 `json:"telegram_id"`
	jwt.RegisteredClaims
}

// Verification failure reasons. The gate reports each distinctly; an
// authorization failure is never folded into "no session".
var (
	ErrTokenExpired   = errors.New("auth: token expired")
	ErrTokenMalformed = errors.New("auth: token malformed")
	ErrTokenInvalid   = errors.New("auth: token signature invalid")
)

// Issue creates a signed HS256 token for the user.
func Issue(secret []byte, telegramID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TelegramID: telegramID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the user identity. Only
// HS256 is accepted.
func Verify(secret []byte, tokenString string) (int64, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return 0, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return 0, ErrTokenMalformed
	default:
		return 0, ErrTokenInvalid
	}

	if claims.TelegramID == 0 {
		return 0, ErrTokenInvalid
	}
	return claims.TelegramID, nil
}
