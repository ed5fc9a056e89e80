package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/auth"
	"github.com/lumenbro/photonbot-turnkey/internal/config"
	"github.com/lumenbro/photonbot-turnkey/internal/resolver"
	"github.com/lumenbro/photonbot-turnkey/internal/signer"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTelegramID = int64(123456789)
	testJWTSecret  = "api-test-secret"
)

type fakeSigningService struct {
	result *signer.Result
	err    error
}

func (f *fakeSigningService) Sign(_ context.Context, _ int64, _ signer.Request) (*signer.Result, error) {
	return f.result, f.err
}

type fakeMethodResolver struct {
	resolution *resolver.Resolution
	err        error
}

func (f *fakeMethodResolver) Resolve(_ context.Context, _ int64) (*resolver.Resolution, error) {
	return f.resolution, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		Port:             8080,
		Environment:      config.EnvTest,
		JWTSecret:        testJWTSecret,
		BotToken:         "123456:ABC-TEST-TOKEN",
		TokenTTL:         time.Hour,
		RateLimitEnabled: false,
	}
}

func bearerFor(t *testing.T, telegramID int64) string {
	t.Helper()
	token, err := auth.Issue([]byte(testJWTSecret), telegramID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func signHandler(s *SignerServer) http.Handler {
	return s.authGate.Authenticate(http.HandlerFunc(s.handleSign))
}

func TestHandleSignSuccess(t *testing.T) {
	s := NewSignerServer(testConfig(), &fakeSigningService{result: &signer.Result{
		SignedXDR: "AAAA-signed",
		Hash:      "deadbeef",
		Fee:       0.5,
		Method:    types.MethodEnvelopeSession,
	}}, &fakeMethodResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/sign",
		strings.NewReader(`{"xdr":"AAAA","action_type":"payment"}`))
	req.Header.Set("Authorization", bearerFor(t, testTelegramID))
	rec := httptest.NewRecorder()
	signHandler(s).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SignResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "AAAA-signed", resp.SignedXDR)
	assert.Equal(t, "deadbeef", resp.Hash)
	assert.Equal(t, "envelope_session", resp.SigningMethod)
}

func TestHandleSignNoSession(t *testing.T) {
	s := NewSignerServer(testConfig(), &fakeSigningService{
		err: apperrors.NoActiveSession(string(types.MethodSessionExpired)),
	}, &fakeMethodResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/sign",
		strings.NewReader(`{"xdr":"AAAA"}`))
	req.Header.Set("Authorization", bearerFor(t, testTelegramID))
	rec := httptest.NewRecorder()
	signHandler(s).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrCodeNoActiveSession, resp.Code)
	assert.True(t, resp.RequiresLogin)
	assert.Equal(t, "session_expired", resp.SigningMethod)
}

func TestHandleSignMalformedInput(t *testing.T) {
	s := NewSignerServer(testConfig(), &fakeSigningService{
		err: apperrors.InvalidInput("transaction XDR is malformed"),
	}, &fakeMethodResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/sign",
		strings.NewReader(`{"xdr":"garbage"}`))
	req.Header.Set("Authorization", bearerFor(t, testTelegramID))
	rec := httptest.NewRecorder()
	signHandler(s).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSignWithoutToken(t *testing.T) {
	s := NewSignerServer(testConfig(), &fakeSigningService{}, &fakeMethodResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/sign",
		strings.NewReader(`{"xdr":"AAAA"}`))
	rec := httptest.NewRecorder()
	signHandler(s).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleAuthenticator(t *testing.T) {
	s := NewSignerServer(testConfig(), &fakeSigningService{}, &fakeMethodResolver{
		resolution: &resolver.Resolution{
			TelegramID:       testTelegramID,
			Method:           types.MethodEnvelopeSession,
			Shape:            resolver.ShapeEnvelopeSession,
			OrgID:            "org-1",
			SignWith:         "GWALLET",
			HasActiveSession: true,
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/authenticator", nil)
	req.Header.Set("Authorization", bearerFor(t, testTelegramID))
	rec := httptest.NewRecorder()
	s.authGate.Authenticate(http.HandlerFunc(s.handleAuthenticator)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthenticatorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, testTelegramID, resp.TelegramID)
	assert.Equal(t, "envelope_session", resp.SigningMethod)
	assert.Equal(t, "org-1", resp.OrgID)
	assert.True(t, resp.HasActiveSession)
}

func TestInconsistentStateSurfaces(t *testing.T) {
	s := NewSignerServer(testConfig(), &fakeSigningService{
		err: apperrors.InconsistentState("both shapes populated"),
	}, &fakeMethodResolver{})

	req := httptest.NewRequest(http.MethodPost, "/api/sign",
		strings.NewReader(`{"xdr":"AAAA"}`))
	req.Header.Set("Authorization", bearerFor(t, testTelegramID))
	rec := httptest.NewRecorder()
	signHandler(s).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apperrors.ErrCodeInconsistentState, resp.Code)
	assert.False(t, resp.RequiresLogin)
}
