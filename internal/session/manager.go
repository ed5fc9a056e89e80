// Package session manages the per-user session lifecycle: creation against
// the custody authority, logout, and the recovery overlay. The decrypted
// session private key exists only inside Create's stack frame; it is never
// persisted or logged, only its envelope-encrypted form reaches the store.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lumenbro/photonbot-turnkey/internal/custody"
	"github.com/lumenbro/photonbot-turnkey/internal/logger"
	"github.com/lumenbro/photonbot-turnkey/internal/telegram"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

// RecoveryTTL is how long a recovery overlay stays active once enabled.
const RecoveryTTL = time.Hour

// CustodyClient is the authority call the manager makes during creation.
type CustodyClient interface {
	CreateSession(ctx context.Context, signedBody []byte, stamp string) (*custody.SessionResult, error)
}

// EnvelopeService wraps session key pairs for storage.
type EnvelopeService interface {
	Encrypt(ctx context.Context, keys types.SessionKeyPair) (ciphertext, keyRef string, err error)
}

// CredentialStore is the slice of the credential repository the manager
// writes through.
type CredentialStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*types.CredentialRecord, error)
	SaveEnvelopeSession(ctx context.Context, telegramID int64, sessionID, ciphertext, keyRef string, expiry time.Time) error
	ClearSession(ctx context.Context, telegramID int64) error
	EnableRecovery(ctx context.Context, telegramID int64, orgID string, expires time.Time) error
	DisableRecovery(ctx context.Context, telegramID int64) error
}

// OrganizationStore resolves organization ownership for recovery commands.
type OrganizationStore interface {
	GetByOrgID(ctx context.Context, orgID string) (*types.OrganizationRecord, error)
}

// Manager drives the session state machine.
type Manager struct {
	custody       CustodyClient
	envelope      EnvelopeService
	credentials   CredentialStore
	organizations OrganizationStore
	botToken      string
	sessionTTL    time.Duration
}

// NewManager creates a session manager.
func NewManager(custodyClient CustodyClient, env EnvelopeService, credentials CredentialStore, organizations OrganizationStore, botToken string, sessionTTL time.Duration) *Manager {
	return &Manager{
		custody:       custodyClient,
		envelope:      env,
		credentials:   credentials,
		organizations: organizations,
		botToken:      botToken,
		sessionTTL:    sessionTTL,
	}
}

// CreateRequest is a session-create call: the caller-signed authority body,
// its stamp, the caller's ephemeral private key, and the platform integrity
// token proving who is asking.
type CreateRequest struct {
	TelegramID          int64
	SignedBody          []byte
	Stamp               string
	EphemeralPrivateKey string
	InitData            string
}

// Create runs the session creation protocol: validate inputs locally,
// forward the signed body to the custody authority, decrypt the returned
// credential bundle with the ephemeral key, derive the public half, and
// store only the envelope-encrypted pair. Malformed input is rejected
// before the authority is contacted.
func (m *Manager) Create(ctx context.Context, req CreateRequest) error {
	if len(req.SignedBody) == 0 || req.Stamp == "" {
		return apperrors.InvalidInput("signed body and stamp are required")
	}
	if !custody.IsValidAPIPrivateKey(req.EphemeralPrivateKey) {
		return apperrors.InvalidInput("ephemeral private key must be 64 hex characters")
	}

	user, err := telegram.Verify(req.InitData, m.botToken, time.Now())
	if err != nil {
		return apperrors.Unauthorized("platform integrity token rejected")
	}
	if user.ID != req.TelegramID {
		return apperrors.Unauthorized("integrity token user does not match request")
	}

	rec, err := m.credentials.GetByTelegramID(ctx, req.TelegramID)
	if err != nil {
		return fmt.Errorf("load credential record: %w", err)
	}
	if rec == nil {
		return apperrors.ErrNotFound
	}

	result, err := m.custody.CreateSession(ctx, req.SignedBody, req.Stamp)
	if err != nil {
		return apperrors.UpstreamAuthority(err.Error())
	}

	privHex, err := openCredentialBundle(result.CredentialBundle, req.EphemeralPrivateKey)
	if err != nil {
		return apperrors.DecryptionFailure("credential bundle could not be decrypted")
	}

	pubHex, err := custody.DerivePublicKey(privHex)
	if err != nil {
		return apperrors.DecryptionFailure("recovered key is not a valid P-256 scalar")
	}

	expiry := time.Now().Add(m.sessionTTL)
	ciphertext, keyRef, err := m.envelope.Encrypt(ctx, types.SessionKeyPair{
		APIPublicKey:  pubHex,
		APIPrivateKey: privHex,
	})
	if err != nil {
		return fmt.Errorf("encrypt session keys: %w", err)
	}

	if err := m.credentials.SaveEnvelopeSession(ctx, req.TelegramID, result.SessionID, ciphertext, keyRef, expiry); err != nil {
		return fmt.Errorf("store session: %w", err)
	}

	logger.Info(ctx, "session created",
		"telegram_id", req.TelegramID,
		"session_id", result.SessionID,
		"expiry", expiry)
	return nil
}

// Logout removes all server-held session material for the user.
func (m *Manager) Logout(ctx context.Context, telegramID int64) error {
	if err := m.credentials.ClearSession(ctx, telegramID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	logger.Info(ctx, "session cleared", "telegram_id", telegramID)
	return nil
}

// EnableRecovery activates a recovery overlay for the user, substituting
// orgID as the signing organization for the next hour. The organization must
// exist and be owned by the requesting user.
func (m *Manager) EnableRecovery(ctx context.Context, telegramID int64, orgID string) (time.Time, error) {
	if _, err := uuid.Parse(orgID); err != nil {
		return time.Time{}, apperrors.InvalidInput("organization id must be a UUID")
	}

	org, err := m.organizations.GetByOrgID(ctx, orgID)
	if err != nil {
		return time.Time{}, fmt.Errorf("look up organization: %w", err)
	}
	if org == nil || org.TelegramID != telegramID {
		return time.Time{}, apperrors.Unauthorized("organization is not owned by this user")
	}

	expires := time.Now().Add(RecoveryTTL)
	if err := m.credentials.EnableRecovery(ctx, telegramID, orgID, expires); err != nil {
		return time.Time{}, fmt.Errorf("enable recovery: %w", err)
	}

	logger.Info(ctx, "recovery overlay enabled",
		"telegram_id", telegramID,
		"org_id", orgID,
		"expires", expires)
	return expires, nil
}

// DisableRecovery clears the user's recovery overlay.
func (m *Manager) DisableRecovery(ctx context.Context, telegramID int64) error {
	if err := m.credentials.DisableRecovery(ctx, telegramID); err != nil {
		return fmt.Errorf("disable recovery: %w", err)
	}
	logger.Info(ctx, "recovery overlay disabled", "telegram_id", telegramID)
	return nil
}

// RecoveryStatus reports the user's overlay state.
type RecoveryStatus struct {
	Active  bool       `json:"active"`
	OrgID   string     `json:"org_id,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

// Recovery returns the current overlay state without mutating it.
func (m *Manager) Recovery(ctx context.Context, telegramID int64) (*RecoveryStatus, error) {
	rec, err := m.credentials.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("load credential record: %w", err)
	}
	if rec == nil || !rec.RecoveryOverlayActive(time.Now()) {
		return &RecoveryStatus{Active: false}, nil
	}
	return &RecoveryStatus{
		Active:  true,
		OrgID:   *rec.RecoveryOrgID,
		Expires: rec.RecoverySessionExpires,
	}, nil
}
