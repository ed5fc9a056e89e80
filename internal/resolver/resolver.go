// Package resolver decides which credential shape and signing method apply
// to a user. It is the single source of truth for shape precedence; callers
// never inspect raw credential columns themselves.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/logger"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

// Shape is the credential shape underneath a signing method. A recovery
// overlay changes the reported method but never the shape.
type Shape string

const (
	ShapeEnvelopeSession Shape = "envelope_session"
	ShapeCloudKeys       Shape = "cloud_keys"
	ShapeLegacyDirect    Shape = "legacy_direct"
	ShapeNone            Shape = "none"
)

// CredentialStore is the slice of the credential repository the resolver
// needs.
type CredentialStore interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*types.CredentialRecord, error)
	DisableRecovery(ctx context.Context, telegramID int64) error
}

// OrganizationStore is the slice of the organization repository the resolver
// needs.
type OrganizationStore interface {
	GetActive(ctx context.Context, telegramID int64) (*types.OrganizationRecord, error)
}

// Resolution is the outcome of resolving a user's credentials. Method is
// what callers report and branch on; Shape drives which key material the
// signer fetches.
type Resolution struct {
	TelegramID int64
	Method     types.SigningMethod
	Shape      Shape

	// OrgID is the custody organization to address. When a recovery overlay
	// is active this is the overlay's organization, not the nominal one.
	OrgID string

	// SignWith is the Stellar public key provisioned under OrgID, empty for
	// legacy records that predate organization provisioning.
	SignWith string

	// Envelope-session material, set only for ShapeEnvelopeSession.
	EnvelopeCiphertext string
	EnvelopeKeyRef     string

	// Legacy plaintext keys, set only for ShapeLegacyDirect with keys.
	LegacyKeys *types.SessionKeyPair

	// TurnkeySessionID carries the legacy column that older records used as
	// their organization reference. The signer falls back to it when OrgID
	// is empty.
	TurnkeySessionID string

	HasActiveSession bool
	RequiresLogin    bool
	SessionInactive  bool
	RecoveryActive   bool
}

// Resolver evaluates credential records against the shape precedence rules.
type Resolver struct {
	credentials   CredentialStore
	organizations OrganizationStore
}

// New creates a Resolver over the given stores.
func New(credentials CredentialStore, organizations OrganizationStore) *Resolver {
	return &Resolver{credentials: credentials, organizations: organizations}
}

// Resolve determines the signing method for a user. Precedence, evaluated
// newest-authority-first:
//
//  1. active organization + envelope session  -> EnvelopeSession
//  2. active organization, no server keys     -> CloudKeys
//  3. legacy plaintext keys                   -> LegacyDirect
//  4. migrated-legacy marker, no keys         -> LegacyDirect, session inactive
//  5. nothing                                 -> NoSession
//
// A record with both an envelope session and legacy plaintext keys is
// reported as InconsistentState rather than picked from arbitrarily. Expired
// sessions are downgraded to SessionExpired regardless of shape. An expired
// recovery overlay is cleared on read.
func (r *Resolver) Resolve(ctx context.Context, telegramID int64) (*Resolution, error) {
	rec, err := r.credentials.GetByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	if rec == nil {
		return &Resolution{
			TelegramID:    telegramID,
			Method:        types.MethodNone,
			Shape:         ShapeNone,
			RequiresLogin: true,
		}, nil
	}

	now := time.Now()

	if rec.RecoveryOverlayExpired(now) {
		if err := r.credentials.DisableRecovery(ctx, telegramID); err != nil {
			logger.Warn(ctx, "failed to clear expired recovery overlay",
				"telegram_id", telegramID, "error", err)
		}
		rec.RecoveryMode = false
		rec.RecoveryOrgID = nil
		rec.RecoverySessionExpires = nil
	}

	if rec.HasEnvelopeSession() && rec.HasLegacyDirectKeys() {
		return nil, apperrors.InconsistentState(
			"both an envelope session and legacy direct keys are populated")
	}

	org, err := r.organizations.GetActive(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("resolve organization: %w", err)
	}

	res := &Resolution{TelegramID: telegramID}
	if rec.TurnkeySessionID != nil {
		res.TurnkeySessionID = *rec.TurnkeySessionID
	}

	switch {
	case org != nil && rec.HasEnvelopeSession():
		res.Shape = ShapeEnvelopeSession
		res.Method = types.MethodEnvelopeSession
		res.OrgID = org.OrgID
		res.SignWith = org.PublicKey
		res.EnvelopeCiphertext = *rec.KMSEncryptedSessionKey
		res.EnvelopeKeyRef = *rec.KMSKeyID
		res.HasActiveSession = !rec.SessionExpired(now)

	case org != nil:
		res.Shape = ShapeCloudKeys
		res.Method = types.MethodCloudKeys
		res.OrgID = org.OrgID
		res.SignWith = org.PublicKey
		res.HasActiveSession = !rec.SessionExpired(now)

	case rec.HasLegacyDirectKeys():
		res.Shape = ShapeLegacyDirect
		res.Method = types.MethodLegacyDirect
		res.LegacyKeys = &types.SessionKeyPair{
			APIPublicKey:  *rec.TempAPIPublicKey,
			APIPrivateKey: *rec.TempAPIPrivateKey,
		}
		if rec.PublicKey != nil {
			res.SignWith = *rec.PublicKey
		}
		res.HasActiveSession = !rec.SessionExpired(now)

	case rec.IsMigratedLegacy():
		res.Shape = ShapeLegacyDirect
		res.Method = types.MethodLegacyDirect
		res.SessionInactive = true
		if rec.PublicKey != nil {
			res.SignWith = *rec.PublicKey
		}

	default:
		res.Shape = ShapeNone
		res.Method = types.MethodNone
		res.RequiresLogin = true
		return res, nil
	}

	if res.Shape != ShapeNone && !res.SessionInactive && rec.SessionExpired(now) {
		res.Method = types.MethodSessionExpired
		res.HasActiveSession = false
	}
	if !res.HasActiveSession {
		res.RequiresLogin = true
	}

	if rec.RecoveryOverlayActive(now) && res.Method.AllowsSigning() && res.HasActiveSession {
		res.Method = types.MethodRecoveryOverlay
		res.OrgID = *rec.RecoveryOrgID
		res.RecoveryActive = true
	}

	return res, nil
}
