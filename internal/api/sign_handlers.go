package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/auth"
	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
	"github.com/lumenbro/photonbot-turnkey/internal/middleware"
	"github.com/lumenbro/photonbot-turnkey/internal/signer"
	"github.com/lumenbro/photonbot-turnkey/internal/telegram"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
)

const maxBodySize = 256 * 1024

// TelegramAuthRequest exchanges a platform integrity token for a bearer
// token.
type TelegramAuthRequest struct {
	InitData string `json:"init_data"`
}

// TelegramAuthResponse carries the issued bearer token.
type TelegramAuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *SignerServer) handleTelegramAuth(w http.ResponseWriter, r *http.Request) {
	var req TelegramAuthRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := telegram.Verify(req.InitData, s.config.BotToken, time.Now())
	if err != nil {
		writeError(w, r, apperrors.Unauthorized("platform integrity token rejected"))
		return
	}

	token, err := auth.Issue([]byte(s.config.JWTSecret), user.ID, s.config.TokenTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TelegramAuthResponse{
		Token:     token,
		ExpiresIn: int64(s.config.TokenTTL.Seconds()),
	})
}

// SignRequest is the signing call body.
type SignRequest struct {
	XDR         string `json:"xdr"`
	ActionType  string `json:"action_type"`
	FeeIncluded bool   `json:"fee_included"`
}

// SignResponse is the successful signing response.
type SignResponse struct {
	Success       bool    `json:"success"`
	SignedXDR     string  `json:"signed_xdr"`
	Hash          string  `json:"hash"`
	Fee           float64 `json:"fee"`
	SigningMethod string  `json:"signing_method"`
}

func (s *SignerServer) handleSign(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	var req SignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := s.signing.Sign(r.Context(), telegramID, signer.Request{
		XDR:         req.XDR,
		ActionType:  req.ActionType,
		FeeIncluded: req.FeeIncluded,
	})
	if err != nil {
		metrics.SignRequests.WithLabelValues(signOutcomeMethod(err), "error").Inc()
		writeError(w, r, err)
		return
	}

	metrics.SignRequests.WithLabelValues(string(result.Method), "success").Inc()
	writeJSON(w, http.StatusOK, SignResponse{
		Success:       true,
		SignedXDR:     result.SignedXDR,
		Hash:          result.Hash,
		Fee:           result.Fee,
		SigningMethod: string(result.Method),
	})
}

// AuthenticatorResponse describes the caller's current signing setup.
type AuthenticatorResponse struct {
	TelegramID       int64  `json:"telegram_id"`
	SigningMethod    string `json:"signing_method"`
	OrgID            string `json:"org_id,omitempty"`
	PublicKey        string `json:"public_key,omitempty"`
	HasActiveSession bool   `json:"has_active_session"`
	RequiresLogin    bool   `json:"requires_login"`
	RecoveryActive   bool   `json:"recovery_active"`
}

func (s *SignerServer) handleAuthenticator(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	res, err := s.resolver.Resolve(r.Context(), telegramID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AuthenticatorResponse{
		TelegramID:       telegramID,
		SigningMethod:    string(res.Method),
		OrgID:            res.OrgID,
		PublicKey:        res.SignWith,
		HasActiveSession: res.HasActiveSession,
		RequiresLogin:    res.RequiresLogin,
		RecoveryActive:   res.RecoveryActive,
	})
}

func signOutcomeMethod(err error) string {
	if appErr, ok := apperrors.IsAppError(err); ok {
		if m := methodFromDetail(appErr.Detail); m != appErr.Detail {
			return m
		}
	}
	return "unknown"
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return apperrors.InvalidInput("failed to read request body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.InvalidInput("request body is not valid JSON")
	}
	return nil
}
