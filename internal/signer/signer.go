// Package signer turns unsigned Stellar transaction XDR into submitted-ready
// signed XDR, delegating the actual signature to the custody authority or,
// in the test environment, a local keypair. It writes no state: a failed
// decrypt or authority call leaves the store untouched.
package signer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/lumenbro/photonbot-turnkey/internal/envelope"
	"github.com/lumenbro/photonbot-turnkey/internal/logger"
	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
	"github.com/lumenbro/photonbot-turnkey/internal/resolver"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

// CredentialResolver resolves a user's signing method and key material.
type CredentialResolver interface {
	Resolve(ctx context.Context, telegramID int64) (*resolver.Resolution, error)
}

// EnvelopeDecrypter recovers session key pairs from stored ciphertext.
type EnvelopeDecrypter interface {
	Decrypt(ctx context.Context, ciphertext, keyRef string) (types.SessionKeyPair, error)
}

// PayloadSigner asks the custody authority to sign a transaction hash.
type PayloadSigner interface {
	SignRawPayload(ctx context.Context, orgID, signWith, payloadHex string, keys types.SessionKeyPair) ([]byte, error)
}

// Request is one signing call.
type Request struct {
	// XDR is the base64 unsigned transaction envelope.
	XDR string

	// ActionType tags the operation for logging (payment, swap, ...).
	ActionType string

	// FeeIncluded indicates the caller already embedded the service fee
	// payment; the signer only reports what it detects either way.
	FeeIncluded bool
}

// Result is a completed signature.
type Result struct {
	SignedXDR string
	Hash      string
	Fee       float64
	Method    types.SigningMethod
}

// Service implements transaction signing over the resolver, the envelope
// service, and the custody client.
type Service struct {
	resolver          CredentialResolver
	envelope          EnvelopeDecrypter
	custody           PayloadSigner
	networkPassphrase string
	feeWallet         string
	rootOrgID         string
	local             *LocalSigner
}

// New creates a signing service. local may be nil; when set it replaces the
// custody authority for the actual signature (test environment only).
func New(res CredentialResolver, env EnvelopeDecrypter, custodyClient PayloadSigner, networkPassphrase, feeWallet, rootOrgID string, local *LocalSigner) *Service {
	return &Service{
		resolver:          res,
		envelope:          env,
		custody:           custodyClient,
		networkPassphrase: networkPassphrase,
		feeWallet:         feeWallet,
		rootOrgID:         rootOrgID,
		local:             local,
	}
}

// Sign resolves the user's signing method, signs the transaction hash
// through the method's key material, verifies the returned signature, and
// returns the signed envelope with its content hash.
func (s *Service) Sign(ctx context.Context, telegramID int64, req Request) (*Result, error) {
	tx, err := parseTransaction(req.XDR)
	if err != nil {
		return nil, err
	}

	res, err := s.resolver.Resolve(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if !res.Method.AllowsSigning() || !res.HasActiveSession {
		return nil, apperrors.NoActiveSession(string(res.Method))
	}
	if res.Shape == resolver.ShapeCloudKeys {
		return nil, apperrors.ClientSigningRequired(string(res.Method))
	}

	hash, err := tx.Hash(s.networkPassphrase)
	if err != nil {
		return nil, apperrors.InvalidInput("transaction cannot be hashed")
	}
	hashHex := hex.EncodeToString(hash[:])

	fee := s.detectFee(tx)

	logger.Info(ctx, "signing transaction",
		"telegram_id", telegramID,
		"signing_method", string(res.Method),
		"action_type", req.ActionType,
		"hash", hashHex)

	var signed *txnbuild.Transaction
	if s.local != nil {
		signed, err = s.local.Sign(tx, s.networkPassphrase)
		if err != nil {
			return nil, fmt.Errorf("local sign: %w", err)
		}
	} else {
		signed, err = s.signRemote(ctx, tx, res, hashHex, hash[:])
		if err != nil {
			return nil, err
		}
	}

	signedXDR, err := signed.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode signed transaction: %w", err)
	}

	return &Result{
		SignedXDR: signedXDR,
		Hash:      hashHex,
		Fee:       fee,
		Method:    res.Method,
	}, nil
}

// signRemote fetches key material for the resolved shape, has the custody
// authority sign the hash, verifies the signature against the expected
// signer, and attaches it to the envelope.
func (s *Service) signRemote(ctx context.Context, tx *txnbuild.Transaction, res *resolver.Resolution, hashHex string, hash []byte) (*txnbuild.Transaction, error) {
	keys, err := s.keysFor(ctx, res)
	if err != nil {
		return nil, err
	}

	orgID := s.signingOrg(res)
	if orgID == "" {
		return nil, apperrors.NoActiveSession(string(res.Method))
	}
	if res.SignWith == "" {
		return nil, fmt.Errorf("no signing key recorded for organization %s", orgID)
	}

	sig, err := s.custody.SignRawPayload(ctx, orgID, res.SignWith, hashHex, keys)
	if err != nil {
		return nil, apperrors.UpstreamAuthority(err.Error())
	}

	kp, err := keypair.ParseAddress(res.SignWith)
	if err != nil {
		return nil, fmt.Errorf("recorded signing key is not a Stellar address: %w", err)
	}
	if err := kp.Verify(hash, sig); err != nil {
		return nil, apperrors.UpstreamAuthority("authority signature failed verification")
	}

	signed, err := tx.AddSignatureDecorated(xdr.DecoratedSignature{
		Hint:      xdr.SignatureHint(kp.Hint()),
		Signature: xdr.Signature(sig),
	})
	if err != nil {
		return nil, fmt.Errorf("attach signature: %w", err)
	}
	return signed, nil
}

// keysFor returns the API key pair for the resolved shape. CloudKeys never
// reaches this point.
func (s *Service) keysFor(ctx context.Context, res *resolver.Resolution) (types.SessionKeyPair, error) {
	var zero types.SessionKeyPair

	switch res.Shape {
	case resolver.ShapeEnvelopeSession:
		keys, err := s.envelope.Decrypt(ctx, res.EnvelopeCiphertext, res.EnvelopeKeyRef)
		if err != nil {
			if errors.Is(err, envelope.ErrContextMismatch) {
				metrics.EnvelopeDecryptFailures.WithLabelValues("context_mismatch").Inc()
				return zero, apperrors.DecryptionFailure("encryption context mismatch")
			}
			metrics.EnvelopeDecryptFailures.WithLabelValues("corrupt").Inc()
			return zero, apperrors.DecryptionFailure("session key ciphertext corrupt")
		}
		return keys, nil

	case resolver.ShapeLegacyDirect:
		if res.LegacyKeys == nil {
			return zero, apperrors.NoActiveSession(string(res.Method))
		}
		return *res.LegacyKeys, nil
	}
	return zero, fmt.Errorf("no key material path for shape %s", res.Shape)
}

// signingOrg picks the custody organization to address. A recovery overlay
// already substituted res.OrgID; legacy records fall back to their session
// column when it holds an organization id, then to the root organization.
func (s *Service) signingOrg(res *resolver.Resolution) string {
	if res.OrgID != "" {
		return res.OrgID
	}
	if res.TurnkeySessionID != "" {
		if _, err := uuid.Parse(res.TurnkeySessionID); err == nil {
			return res.TurnkeySessionID
		}
	}
	return s.rootOrgID
}

// detectFee scans the transaction for a native-asset payment to the fee
// wallet and returns its amount, zero when absent.
func (s *Service) detectFee(tx *txnbuild.Transaction) float64 {
	if s.feeWallet == "" {
		return 0
	}
	for _, op := range tx.Operations() {
		payment, ok := op.(*txnbuild.Payment)
		if !ok || payment.Destination != s.feeWallet {
			continue
		}
		if asset, ok := payment.Asset.(txnbuild.NativeAsset); !ok || !asset.IsNative() {
			continue
		}
		amount, err := strconv.ParseFloat(payment.Amount, 64)
		if err != nil {
			continue
		}
		return amount
	}
	return 0
}

func parseTransaction(rawXDR string) (*txnbuild.Transaction, error) {
	if rawXDR == "" {
		return nil, apperrors.InvalidInput("transaction XDR is required")
	}
	generic, err := txnbuild.TransactionFromXDR(rawXDR)
	if err != nil {
		return nil, apperrors.InvalidInput("transaction XDR is malformed")
	}
	tx, ok := generic.Transaction()
	if !ok {
		return nil, apperrors.InvalidInput("fee-bump transactions are not supported")
	}
	return tx, nil
}
