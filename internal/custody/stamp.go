package custody

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
)

const stampScheme = "SIGNATURE_SCHEME_TK_API_P256"

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// IsValidAPIPrivateKey reports whether s is a well-formed P-256 private
// scalar: exactly 64 hex characters. Malformed keys are rejected before any
// network call is made.
func IsValidAPIPrivateKey(s string) bool {
	return hexKeyPattern.MatchString(s)
}

// stampPayload is serialized with keys in sorted order; the authority
// verifies the stamp over this exact encoding.
type stampPayload struct {
	PublicKey string `json:"publicKey"`
	Scheme    string `json:"scheme"`
	Signature string `json:"signature"`
}

// Stamp signs the request body with the API private key (P-256, SHA-256,
// DER signature) and returns the base64url-encoded stamp header value.
func Stamp(body []byte, apiPublicKey, apiPrivateKeyHex string) (string, error) {
	if !IsValidAPIPrivateKey(apiPrivateKeyHex) {
		return "", fmt.Errorf("api private key is not 64 hex characters")
	}

	priv, err := parsePrivateKey(apiPrivateKeyHex)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(body)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign stamp: %w", err)
	}

	payload, err := json.Marshal(stampPayload{
		PublicKey: apiPublicKey,
		Scheme:    stampScheme,
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode stamp: %w", err)
	}

	return base64.URLEncoding.EncodeToString(payload), nil
}

func parsePrivateKey(privHex string) (*ecdsa.PrivateKey, error) {
	d, ok := new(big.Int).SetString(privHex, 16)
	if !ok {
		return nil, fmt.Errorf("api private key is not valid hex")
	}

	curve := elliptic.P256()
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, fmt.Errorf("api private key scalar out of range")
	}

	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

// DerivePublicKey returns the compressed P-256 public key (hex) for a
// private scalar. Session creation derives the stored public half from the
// recovered private key rather than trusting the bundle.
func DerivePublicKey(privHex string) (string, error) {
	if !IsValidAPIPrivateKey(privHex) {
		return "", fmt.Errorf("private key is not 64 hex characters")
	}
	d, ok := new(big.Int).SetString(privHex, 16)
	if !ok {
		return "", fmt.Errorf("private key is not valid hex")
	}

	curve := elliptic.P256()
	if d.Sign() <= 0 || d.Cmp(curve.Params().N) >= 0 {
		return "", fmt.Errorf("private key scalar out of range")
	}

	x, y := curve.ScalarBaseMult(d.Bytes())
	return hex.EncodeToString(elliptic.MarshalCompressed(curve, x, y)), nil
}
