// Package types contains the shared data model for the signer and session
// services: credential records, organization records, and the closed set of
// signing methods.
package types

import "time"

// SigningMethod identifies which custody path authorizes a transaction.
// The set is closed; resolution and signing switch over it exhaustively.
type SigningMethod string

const (
	// MethodEnvelopeSession signs with short-lived API keys stored as an
	// envelope-encrypted blob and decrypted through the master-key service.
	MethodEnvelopeSession SigningMethod = "envelope_session"

	// MethodCloudKeys means the private half of the key pair is custodied by
	// the client (e.g. Telegram Cloud Storage) and never reaches the server.
	MethodCloudKeys SigningMethod = "cloud_keys"

	// MethodLegacyDirect signs with plaintext API keys carried over from the
	// predecessor system.
	MethodLegacyDirect SigningMethod = "legacy_direct"

	// MethodRecoveryOverlay is reported while a recovery overlay substitutes
	// the signing organization. The key shape underneath is unchanged.
	MethodRecoveryOverlay SigningMethod = "recovery_overlay"

	// MethodSessionExpired is the downgrade applied to any shape whose
	// session expiry is in the past.
	MethodSessionExpired SigningMethod = "session_expired"

	// MethodNone means no credential record resolved at all.
	MethodNone SigningMethod = "no_session"
)

// AllowsSigning reports whether the method permits a server-driven or
// client-completed signing attempt.
func (m SigningMethod) AllowsSigning() bool {
	switch m {
	case MethodEnvelopeSession, MethodCloudKeys, MethodLegacyDirect, MethodRecoveryOverlay:
		return true
	case MethodSessionExpired, MethodNone:
		return false
	}
	return false
}

// SessionKeyPair is the plaintext form of a session's API key pair. It is
// serialized losslessly before envelope encryption; the JSON field names are
// part of the cross-service storage format and must not change.
type SessionKeyPair struct {
	APIPublicKey  string `json:"apiPublicKey"`
	APIPrivateKey string `json:"apiPrivateKey"`
}

// CredentialRecord is one row of the users table. The four credential shapes
// live in nullable column groups that are mutually exclusive by convention,
// not by schema constraint; resolution enforces the convention.
type CredentialRecord struct {
	TelegramID int64
	PublicKey  *string
	UserEmail  *string

	// Custody-authority identity.
	TurnkeyUserID    *string
	TurnkeySessionID *string

	// Shape: envelope session.
	KMSEncryptedSessionKey *string
	KMSKeyID               *string

	// Shape: legacy direct keys.
	TempAPIPublicKey  *string
	TempAPIPrivateKey *string

	// Shape: legacy wrapped secret (export only, never a signing path).
	EncryptedSAddressSecret *string

	// Migrated-legacy marker.
	SourceOldDB *string

	SessionExpiry    *time.Time
	SessionCreatedAt *time.Time

	// Recovery overlay.
	RecoveryMode           bool
	RecoveryOrgID          *string
	RecoverySessionExpires *time.Time
}

// HasEnvelopeSession reports whether the envelope-session shape is populated.
func (c *CredentialRecord) HasEnvelopeSession() bool {
	return c.KMSEncryptedSessionKey != nil && *c.KMSEncryptedSessionKey != "" &&
		c.KMSKeyID != nil && *c.KMSKeyID != ""
}

// HasLegacyDirectKeys reports whether the plaintext legacy key shape is
// populated.
func (c *CredentialRecord) HasLegacyDirectKeys() bool {
	return c.TempAPIPublicKey != nil && *c.TempAPIPublicKey != "" &&
		c.TempAPIPrivateKey != nil && *c.TempAPIPrivateKey != ""
}

// IsMigratedLegacy reports whether the record carries the marker of an
// account migrated from the predecessor system.
func (c *CredentialRecord) IsMigratedLegacy() bool {
	return c.SourceOldDB != nil && *c.SourceOldDB != ""
}

// SessionExpired reports whether a recorded expiry is in the past relative
// to now. A record with no expiry never expires by this check.
func (c *CredentialRecord) SessionExpired(now time.Time) bool {
	return c.SessionExpiry != nil && !now.Before(*c.SessionExpiry)
}

// RecoveryOverlayActive reports whether a recovery overlay is set and
// unexpired at now.
func (c *CredentialRecord) RecoveryOverlayActive(now time.Time) bool {
	if !c.RecoveryMode || c.RecoveryOrgID == nil || *c.RecoveryOrgID == "" {
		return false
	}
	if c.RecoverySessionExpires != nil && !now.Before(*c.RecoverySessionExpires) {
		return false
	}
	return true
}

// RecoveryOverlayExpired reports whether an overlay is set but past its
// expiry, i.e. it must be cleared on the next read.
func (c *CredentialRecord) RecoveryOverlayExpired(now time.Time) bool {
	return c.RecoveryMode && c.RecoverySessionExpires != nil &&
		!now.Before(*c.RecoverySessionExpires)
}

// OrganizationRecord maps a user to one custody-authority sub-organization
// and the Stellar public key provisioned under it. At most one record per
// user is active at a time.
type OrganizationRecord struct {
	TelegramID int64
	OrgID      string
	KeyID      string
	PublicKey  string
	IsActive   bool
	CreatedAt  time.Time
}
