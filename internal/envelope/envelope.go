// Package envelope protects session key material at rest. Plaintext key
// pairs are serialized, encrypted through a master-key provider with a bound
// encryption context (service + environment tags), and wrapped in a
// self-describing envelope so both services agree on the stored format.
//
// Decrypt failures are non-retryable: they mean a lost key or a context
// mismatch, never a transient fault.
package envelope

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

// Context is the fixed tag pair bound into every encrypt and decrypt call.
// Both tags must match exactly between the two, so an operator can tell
// environment misconfiguration apart from data loss.
type Context struct {
	Service     string
	Environment string
}

func (c Context) asMap() map[string]string {
	return map[string]string{
		"Service":     c.Service,
		"Environment": c.Environment,
	}
}

var (
	// ErrContextMismatch means the ciphertext was produced under a different
	// service/environment pair. The data is intact; the configuration is not.
	ErrContextMismatch = errors.New("envelope: encryption context mismatch")

	// ErrCiphertextCorrupt means the ciphertext failed authenticated
	// decryption under the correct context.
	ErrCiphertextCorrupt = errors.New("envelope: ciphertext corrupt")
)

// MasterKeyProvider is a remote (or local) master-key service. Providers
// bind encCtx cryptographically: decrypting under a different context fails.
type MasterKeyProvider interface {
	Encrypt(ctx context.Context, plaintext []byte, encCtx map[string]string) (blob []byte, keyRef string, err error)
	Decrypt(ctx context.Context, blob []byte, keyRef string, encCtx map[string]string) ([]byte, error)
	Provider() string
}

// Service encrypts and decrypts session key pairs under one bound context.
type Service struct {
	provider MasterKeyProvider
	bound    Context
}

// New creates an envelope service with the given provider and bound context.
func New(provider MasterKeyProvider, bound Context) *Service {
	return &Service{provider: provider, bound: bound}
}

// storedEnvelope is the cross-service storage format: a cleartext header
// naming the key reference and context tags, plus the provider ciphertext.
type storedEnvelope struct {
	Version     int    `json:"v"`
	Service     string `json:"svc"`
	Environment string `json:"env"`
	KeyRef      string `json:"ref"`
	Blob        string `json:"blob"`
}

// Encrypt serializes the key pair and encrypts it under the bound context.
// It returns the storable ciphertext and the master-key reference.
func (s *Service) Encrypt(ctx context.Context, keys types.SessionKeyPair) (string, string, error) {
	plaintext, err := json.Marshal(keys)
	if err != nil {
		return "", "", fmt.Errorf("envelope: failed to serialize key pair: %w", err)
	}

	blob, keyRef, err := s.provider.Encrypt(ctx, plaintext, s.bound.asMap())
	if err != nil {
		return "", "", fmt.Errorf("envelope: encrypt failed: %w", err)
	}

	env := storedEnvelope{
		Version:     1,
		Service:     s.bound.Service,
		Environment: s.bound.Environment,
		KeyRef:      keyRef,
		Blob:        base64.StdEncoding.EncodeToString(blob),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", "", fmt.Errorf("envelope: failed to serialize envelope: %w", err)
	}

	return base64.StdEncoding.EncodeToString(raw), keyRef, nil
}

// Decrypt recovers a key pair from ciphertext produced by Encrypt. The
// stored context tags are checked against the bound context before the
// provider is asked to decrypt; a mismatch is ErrContextMismatch, any
// failure after that is ErrCiphertextCorrupt. Partial data is never
// returned.
func (s *Service) Decrypt(ctx context.Context, ciphertext, keyRef string) (types.SessionKeyPair, error) {
	var zero types.SessionKeyPair

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return zero, fmt.Errorf("%w: not base64", ErrCiphertextCorrupt)
	}

	env, ok := parseStoredEnvelope(raw)
	if !ok {
		// Rows written before the enveloped format hold the provider blob
		// directly; the key reference column is authoritative for those.
		env = &storedEnvelope{
			Service:     s.bound.Service,
			Environment: s.bound.Environment,
			KeyRef:      keyRef,
			Blob:        base64.StdEncoding.EncodeToString(raw),
		}
	}

	if env.Service != s.bound.Service || env.Environment != s.bound.Environment {
		return zero, fmt.Errorf("%w: stored {%s,%s}, bound {%s,%s}",
			ErrContextMismatch, env.Service, env.Environment, s.bound.Service, s.bound.Environment)
	}

	blob, err := base64.StdEncoding.DecodeString(env.Blob)
	if err != nil {
		return zero, fmt.Errorf("%w: blob not base64", ErrCiphertextCorrupt)
	}

	plaintext, err := s.provider.Decrypt(ctx, blob, env.KeyRef, s.bound.asMap())
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrCiphertextCorrupt, err)
	}

	var keys types.SessionKeyPair
	if err := json.Unmarshal(plaintext, &keys); err != nil {
		return zero, fmt.Errorf("%w: plaintext not a key pair", ErrCiphertextCorrupt)
	}
	if keys.APIPublicKey == "" || keys.APIPrivateKey == "" {
		return zero, fmt.Errorf("%w: key pair incomplete", ErrCiphertextCorrupt)
	}
	return keys, nil
}

// DecryptRaw decrypts an arbitrary enveloped secret (the legacy wrapped
// s-address secret) rather than a key pair. Export paths use this; signing
// never does.
func (s *Service) DecryptRaw(ctx context.Context, ciphertext, keyRef string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrCiphertextCorrupt)
	}

	env, ok := parseStoredEnvelope(raw)
	if !ok {
		env = &storedEnvelope{
			Service:     s.bound.Service,
			Environment: s.bound.Environment,
			KeyRef:      keyRef,
			Blob:        base64.StdEncoding.EncodeToString(raw),
		}
	}

	if env.Service != s.bound.Service || env.Environment != s.bound.Environment {
		return nil, fmt.Errorf("%w: stored {%s,%s}, bound {%s,%s}",
			ErrContextMismatch, env.Service, env.Environment, s.bound.Service, s.bound.Environment)
	}

	blob, err := base64.StdEncoding.DecodeString(env.Blob)
	if err != nil {
		return nil, fmt.Errorf("%w: blob not base64", ErrCiphertextCorrupt)
	}

	plaintext, err := s.provider.Decrypt(ctx, blob, env.KeyRef, s.bound.asMap())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertextCorrupt, err)
	}
	return plaintext, nil
}

func parseStoredEnvelope(raw []byte) (*storedEnvelope, bool) {
	var env storedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false
	}
	if env.Version != 1 || env.Blob == "" {
		return nil, false
	}
	return &env, true
}
