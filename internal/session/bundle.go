package session

import (
	"crypto/ecdh"
	"crypto/elliptic"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/lumenbro/photonbot-turnkey/pkg/hpke"
)

// bundleInfo binds bundle decryption to its purpose; the authority derives
// the AEAD key with the same label.
var bundleInfo = []byte("turnkey session")

const (
	compressedPointLen   = 33
	uncompressedPointLen = 65
)

// openCredentialBundle decrypts the authority's credential bundle with the
// caller-supplied ephemeral private key and returns the recovered session
// API private key as hex. The bundle is base64url: an encapsulated P-256
// point (compressed or uncompressed) followed by the AEAD ciphertext.
func openCredentialBundle(bundle, ephemeralPrivHex string) (string, error) {
	raw, err := decodeBundle(bundle)
	if err != nil {
		return "", err
	}

	encapsulated, ciphertext, err := splitBundle(raw)
	if err != nil {
		return "", err
	}

	privBytes, err := hex.DecodeString(ephemeralPrivHex)
	if err != nil {
		return "", fmt.Errorf("ephemeral private key is not valid hex")
	}
	priv, err := ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		return "", fmt.Errorf("ephemeral private key is not a valid P-256 scalar")
	}

	plaintext, err := hpke.Open(priv, encapsulated, ciphertext, bundleInfo)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential bundle: %w", err)
	}
	if len(plaintext) != 32 {
		return "", fmt.Errorf("credential bundle plaintext is not a 32-byte key")
	}
	return hex.EncodeToString(plaintext), nil
}

func decodeBundle(bundle string) ([]byte, error) {
	trimmed := strings.TrimRight(bundle, "=")
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("credential bundle is not base64url")
	}
	return raw, nil
}

// splitBundle separates the encapsulated ephemeral public key from the
// ciphertext, normalizing compressed points to the uncompressed form the
// ECDH API accepts.
func splitBundle(raw []byte) (encapsulated, ciphertext []byte, err error) {
	if len(raw) > uncompressedPointLen && raw[0] == 0x04 {
		return raw[:uncompressedPointLen], raw[uncompressedPointLen:], nil
	}
	if len(raw) > compressedPointLen && (raw[0] == 0x02 || raw[0] == 0x03) {
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw[:compressedPointLen])
		if x == nil {
			return nil, nil, fmt.Errorf("encapsulated key is not on the curve")
		}
		point := make([]byte, 1, uncompressedPointLen)
		point[0] = 0x04
		point = append(point, leftPad(x.Bytes(), 32)...)
		point = append(point, leftPad(y.Bytes(), 32)...)
		return point, raw[compressedPointLen:], nil
	}
	return nil, nil, fmt.Errorf("credential bundle too short")
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	padded := make([]byte, size)
	copy(padded[size-len(b):], b)
	return padded
}
