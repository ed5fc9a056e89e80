package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

// OrganizationRepository handles custody-organization records
// (turnkey_wallets table). Exactly one record may be active per user.
type OrganizationRepository struct {
	store *Store
}

// NewOrganizationRepository creates a new OrganizationRepository
func NewOrganizationRepository(store *Store) *OrganizationRepository {
	return &OrganizationRepository{store: store}
}

const organizationColumns = `
	telegram_id, turnkey_sub_org_id, turnkey_key_id, public_key, is_active, created_at`

func scanOrganization(row pgx.Row) (*types.OrganizationRecord, error) {
	var rec types.OrganizationRecord
	err := row.Scan(
		&rec.TelegramID,
		&rec.OrgID,
		&rec.KeyID,
		&rec.PublicKey,
		&rec.IsActive,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetActive retrieves the active organization record for a user, or
// (nil, nil) when none is active.
func (r *OrganizationRepository) GetActive(ctx context.Context, telegramID int64) (*types.OrganizationRecord, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM turnkey_wallets
		WHERE telegram_id = $1 AND is_active = TRUE
	`
	rec, err := scanOrganization(r.store.pool.QueryRow(ctx, query, telegramID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active organization: %w", err)
	}
	return rec, nil
}

// GetByOrgID retrieves an organization record by its custody-authority id,
// active or not. Used by the recovery ownership check.
func (r *OrganizationRepository) GetByOrgID(ctx context.Context, orgID string) (*types.OrganizationRecord, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM turnkey_wallets
		WHERE turnkey_sub_org_id = $1
	`
	rec, err := scanOrganization(r.store.pool.QueryRow(ctx, query, orgID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization by org id: %w", err)
	}
	return rec, nil
}

// ListByTelegramID retrieves all organization records for a user, newest
// first.
func (r *OrganizationRepository) ListByTelegramID(ctx context.Context, telegramID int64) ([]*types.OrganizationRecord, error) {
	query := `
		SELECT ` + organizationColumns + `
		FROM turnkey_wallets
		WHERE telegram_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.store.pool.Query(ctx, query, telegramID)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var recs []*types.OrganizationRecord
	for rows.Next() {
		rec, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Create inserts a new organization record, inactive. Activation happens
// through Activate so the single-active invariant holds.
func (r *OrganizationRepository) Create(ctx context.Context, rec *types.OrganizationRecord) error {
	query := `
		INSERT INTO turnkey_wallets (telegram_id, turnkey_sub_org_id, turnkey_key_id, public_key, is_active)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at
	`
	err := r.store.pool.QueryRow(ctx, query,
		rec.TelegramID, rec.OrgID, rec.KeyID, rec.PublicKey,
	).Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create organization record: %w", err)
	}
	return nil
}

// Activate makes the named organization the user's active one. Deactivating
// the previous record and activating the replacement happen in one
// transaction; records are flipped inactive, never deleted.
func (r *OrganizationRepository) Activate(ctx context.Context, telegramID int64, orgID string) error {
	return r.store.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE turnkey_wallets SET is_active = FALSE WHERE telegram_id = $1`,
			telegramID,
		); err != nil {
			return fmt.Errorf("failed to deactivate organizations: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`UPDATE turnkey_wallets SET is_active = TRUE WHERE telegram_id = $1 AND turnkey_sub_org_id = $2`,
			telegramID, orgID,
		)
		if err != nil {
			return fmt.Errorf("failed to activate organization: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("organization %s not found for telegram_id %d", orgID, telegramID)
		}
		return nil
	})
}
