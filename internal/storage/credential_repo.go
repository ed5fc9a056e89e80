package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

const credentialColumns = `
	telegram_id, public_key, user_email,
	turnkey_user_id, turnkey_session_id,
	kms_encrypted_session_key, kms_key_id,
	temp_api_public_key, temp_api_private_key,
	encrypted_s_address_secret, source_old_db,
	session_expiry, session_created_at,
	recovery_mode, recovery_org_id, recovery_session_expires`

// CredentialRepository handles per-user credential records (users table).
type CredentialRepository struct {
	store *Store
}

// NewCredentialRepository creates a new CredentialRepository
func NewCredentialRepository(store *Store) *CredentialRepository {
	return &CredentialRepository{store: store}
}

func scanCredential(row pgx.Row) (*types.CredentialRecord, error) {
	var rec types.CredentialRecord
	err := row.Scan(
		&rec.TelegramID,
		&rec.PublicKey,
		&rec.UserEmail,
		&rec.TurnkeyUserID,
		&rec.TurnkeySessionID,
		&rec.KMSEncryptedSessionKey,
		&rec.KMSKeyID,
		&rec.TempAPIPublicKey,
		&rec.TempAPIPrivateKey,
		&rec.EncryptedSAddressSecret,
		&rec.SourceOldDB,
		&rec.SessionExpiry,
		&rec.SessionCreatedAt,
		&rec.RecoveryMode,
		&rec.RecoveryOrgID,
		&rec.RecoverySessionExpires,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByTelegramID retrieves a credential record. Returns (nil, nil) when the
// user has no record at all.
func (r *CredentialRepository) GetByTelegramID(ctx context.Context, telegramID int64) (*types.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE telegram_id = $1`

	rec, err := scanCredential(r.store.pool.QueryRow(ctx, query, telegramID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential record: %w", err)
	}
	return rec, nil
}

// Create inserts a bare credential record for a new user.
func (r *CredentialRepository) Create(ctx context.Context, telegramID int64, publicKey string) error {
	query := `
		INSERT INTO users (telegram_id, public_key)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO NOTHING
	`
	if _, err := r.store.pool.Exec(ctx, query, telegramID, publicKey); err != nil {
		return fmt.Errorf("failed to create credential record: %w", err)
	}
	return nil
}

// SaveEnvelopeSession installs a fresh envelope session. The legacy direct
// key columns and any recovery overlay are cleared in the same statement: a
// new shape fully replaces the prior one, never merges with it.
func (r *CredentialRepository) SaveEnvelopeSession(ctx context.Context, telegramID int64, sessionID, ciphertext, keyRef string, expiry time.Time) error {
	query := `
		UPDATE users SET
			turnkey_session_id = $1,
			kms_encrypted_session_key = $2,
			kms_key_id = $3,
			session_expiry = $4,
			session_created_at = NOW(),
			temp_api_public_key = NULL,
			temp_api_private_key = NULL,
			recovery_mode = FALSE,
			recovery_org_id = NULL,
			recovery_session_expires = NULL
		WHERE telegram_id = $5
	`
	tag, err := r.store.pool.Exec(ctx, query, sessionID, ciphertext, keyRef, expiry, telegramID)
	if err != nil {
		return fmt.Errorf("failed to save envelope session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no credential record for telegram_id %d", telegramID)
	}
	return nil
}

// SetTurnkeyUserID records the custody-authority user id, generating one is
// the caller's job.
func (r *CredentialRepository) SetTurnkeyUserID(ctx context.Context, telegramID int64, turnkeyUserID string) error {
	query := `UPDATE users SET turnkey_user_id = $1 WHERE telegram_id = $2`
	if _, err := r.store.pool.Exec(ctx, query, turnkeyUserID, telegramID); err != nil {
		return fmt.Errorf("failed to set turnkey user id: %w", err)
	}
	return nil
}

// ClearSession removes all server-held session material for a user. Used by
// logout; resolution afterwards reports no session.
func (r *CredentialRepository) ClearSession(ctx context.Context, telegramID int64) error {
	query := `
		UPDATE users SET
			turnkey_session_id = NULL,
			kms_encrypted_session_key = NULL,
			kms_key_id = NULL,
			temp_api_public_key = NULL,
			temp_api_private_key = NULL,
			session_expiry = NULL
		WHERE telegram_id = $1
	`
	if _, err := r.store.pool.Exec(ctx, query, telegramID); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// EnableRecovery activates a recovery overlay. Ownership of orgID must be
// verified by the caller before this is invoked.
func (r *CredentialRepository) EnableRecovery(ctx context.Context, telegramID int64, orgID string, expires time.Time) error {
	query := `
		UPDATE users SET
			recovery_mode = TRUE,
			recovery_org_id = $1,
			recovery_session_expires = $2
		WHERE telegram_id = $3
	`
	tag, err := r.store.pool.Exec(ctx, query, orgID, expires, telegramID)
	if err != nil {
		return fmt.Errorf("failed to enable recovery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no credential record for telegram_id %d", telegramID)
	}
	return nil
}

// DisableRecovery clears the recovery overlay. Also called by resolution
// when an overlay is read past its expiry.
func (r *CredentialRepository) DisableRecovery(ctx context.Context, telegramID int64) error {
	query := `
		UPDATE users SET
			recovery_mode = FALSE,
			recovery_org_id = NULL,
			recovery_session_expires = NULL
		WHERE telegram_id = $1
	`
	if _, err := r.store.pool.Exec(ctx, query, telegramID); err != nil {
		return fmt.Errorf("failed to disable recovery: %w", err)
	}
	return nil
}
