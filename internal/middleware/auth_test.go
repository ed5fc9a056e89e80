package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gateSecret = "gate-test-secret"

func gateHandler(t *testing.T) (http.Handler, *int64) {
	t.Helper()
	var seenID int64
	gate := NewAuthGate(gateSecret)
	handler := gate.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := TelegramID(r.Context())
		require.True(t, ok)
		seenID = id
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &seenID
}

func TestAuthGateValidToken(t *testing.T) {
	handler, seenID := gateHandler(t)

	token, err := auth.Issue([]byte(gateSecret), 123456789, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/sign", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(123456789), *seenID)
}

func TestAuthGateFailureModes(t *testing.T) {
	expired, err := auth.Issue([]byte(gateSecret), 123456789, -time.Minute)
	require.NoError(t, err)
	forged, err := auth.Issue([]byte("other-secret"), 123456789, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "missing authorization header"},
		{"not bearer", "Basic abc123", "malformed authorization header"},
		{"empty bearer", "Bearer ", "malformed authorization header"},
		{"garbage token", "Bearer garbage", "malformed token"},
		{"expired token", "Bearer " + expired, "token expired"},
		{"forged token", "Bearer " + forged, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, _ := gateHandler(t)
			req := httptest.NewRequest(http.MethodPost, "/api/sign", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, true)
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/sign", nil)
		req.RemoteAddr = "10.1.2.3:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(1, 1, false)
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/sign", nil)
		req.RemoteAddr = "10.1.2.3:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
