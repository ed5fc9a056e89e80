package api

import (
	"encoding/json"
	"net/http"

	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
	"github.com/lumenbro/photonbot-turnkey/internal/middleware"
	"github.com/lumenbro/photonbot-turnkey/internal/session"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
)

// CreateSessionRequest is the session-create body: the caller-signed
// authority request, its stamp, the caller's ephemeral private key, and the
// platform integrity token identifying the user.
type CreateSessionRequest struct {
	TelegramID          int64           `json:"telegram_id"`
	SignedBody          json.RawMessage `json:"signed_body"`
	Stamp               string          `json:"stamp"`
	EphemeralPrivateKey string          `json:"ephemeral_private_key"`
	InitData            string          `json:"init_data"`
}

func (s *SessionServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	err := s.manager.Create(r.Context(), session.CreateRequest{
		TelegramID:          req.TelegramID,
		SignedBody:          req.SignedBody,
		Stamp:               req.Stamp,
		EphemeralPrivateKey: req.EphemeralPrivateKey,
		InitData:            req.InitData,
	})
	if err != nil {
		metrics.SessionCreations.WithLabelValues("error").Inc()
		writeError(w, r, err)
		return
	}

	metrics.SessionCreations.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *SessionServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	if err := s.manager.Logout(r.Context(), telegramID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *SessionServer) handleRecoveryStatus(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	status, err := s.manager.Recovery(r.Context(), telegramID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// RecoveryRequest names the organization to substitute while the overlay is
// active.
type RecoveryRequest struct {
	OrgID string `json:"org_id"`
}

func (s *SessionServer) handleEnableRecovery(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	var req RecoveryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	expires, err := s.manager.EnableRecovery(r.Context(), telegramID, req.OrgID)
	if err != nil {
		metrics.RecoveryCommands.WithLabelValues("enable", "error").Inc()
		writeError(w, r, err)
		return
	}

	metrics.RecoveryCommands.WithLabelValues("enable", "success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"expires": expires,
	})
}

func (s *SessionServer) handleDisableRecovery(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	if err := s.manager.DisableRecovery(r.Context(), telegramID); err != nil {
		metrics.RecoveryCommands.WithLabelValues("disable", "error").Inc()
		writeError(w, r, err)
		return
	}
	metrics.RecoveryCommands.WithLabelValues("disable", "success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// WalletSwitchRequest names the organization record to activate.
type WalletSwitchRequest struct {
	OrgID string `json:"org_id"`
}

func (s *SessionServer) handleWalletSwitch(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	var req WalletSwitchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OrgID == "" {
		writeError(w, r, apperrors.InvalidInput("org_id is required"))
		return
	}

	org, err := s.wallets.GetByOrgID(r.Context(), req.OrgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if org == nil || org.TelegramID != telegramID {
		writeError(w, r, apperrors.Unauthorized("organization is not owned by this user"))
		return
	}

	if err := s.wallets.Activate(r.Context(), telegramID, req.OrgID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"org_id":     org.OrgID,
		"public_key": org.PublicKey,
	})
}

// WalletResponse is one organization record in list responses.
type WalletResponse struct {
	OrgID     string `json:"org_id"`
	PublicKey string `json:"public_key"`
	IsActive  bool   `json:"is_active"`
}

func (s *SessionServer) handleListWallets(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	orgs, err := s.wallets.ListByTelegramID(r.Context(), telegramID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	wallets := make([]WalletResponse, 0, len(orgs))
	for _, org := range orgs {
		wallets = append(wallets, WalletResponse{
			OrgID:     org.OrgID,
			PublicKey: org.PublicKey,
			IsActive:  org.IsActive,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": wallets})
}

// handleLegacyExport decrypts the wrapped secret carried over from the
// predecessor system. This is the only consumer of that column; signing
// never touches it.
func (s *SessionServer) handleLegacyExport(w http.ResponseWriter, r *http.Request) {
	telegramID, ok := middleware.TelegramID(r.Context())
	if !ok {
		writeError(w, r, apperrors.ErrUnauthorized)
		return
	}

	rec, err := s.credentials.GetByTelegramID(r.Context(), telegramID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rec == nil || rec.EncryptedSAddressSecret == nil || *rec.EncryptedSAddressSecret == "" {
		writeError(w, r, apperrors.ErrNotFound)
		return
	}

	keyRef := ""
	if rec.KMSKeyID != nil {
		keyRef = *rec.KMSKeyID
	}
	secret, err := s.exporter.DecryptRaw(r.Context(), *rec.EncryptedSAddressSecret, keyRef)
	if err != nil {
		writeError(w, r, apperrors.DecryptionFailure("legacy secret could not be decrypted"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"s_address_secret": string(secret),
	})
}
