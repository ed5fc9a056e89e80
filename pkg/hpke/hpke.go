// Package hpke implements the HPKE-compatible scheme the custody authority
// uses for credential bundles:
//   - KEM: DHKEM_P256_HKDF_SHA256 (ECDH with P-256)
//   - KDF: HKDF_SHA256
//   - AEAD: AES-256-GCM
//   - Mode: BASE
//
// Note: this is a simplified HPKE-compatible construction using
// ECDH + HKDF + AES-GCM, matching the bundle format on the wire.
package hpke

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Seal encrypts plaintext to the recipient's P-256 public key and returns
// the encapsulated ephemeral public key and the nonce-prefixed ciphertext.
// The info string binds the application context into key derivation.
func Seal(recipientPub *ecdh.PublicKey, plaintext, info []byte) (encapsulated, ciphertext []byte, err error) {
	curve := ecdh.P256()

	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	sharedSecret, err := ephemeral.ECDH(recipientPub)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to perform ECDH: %w", err)
	}

	key, err := deriveKey(sharedSecret, info)
	if err != nil {
		return nil, nil, err
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aesGCM.Seal(nonce, nonce, plaintext, nil)
	return ephemeral.PublicKey().Bytes(), ciphertext, nil
}

// Open decrypts a nonce-prefixed ciphertext with the recipient's private key
// and the sender's encapsulated public key.
func Open(recipientPriv *ecdh.PrivateKey, encapsulated, ciphertext, info []byte) ([]byte, error) {
	curve := ecdh.P256()

	ephemeralPub, err := curve.NewPublicKey(encapsulated)
	if err != nil {
		return nil, fmt.Errorf("failed to parse encapsulated public key: %w", err)
	}

	sharedSecret, err := recipientPriv.ECDH(ephemeralPub)
	if err != nil {
		return nil, fmt.Errorf("failed to perform ECDH: %w", err)
	}

	key, err := deriveKey(sharedSecret, info)
	if err != nil {
		return nil, err
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < aesGCM.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:aesGCM.NonceSize()], ciphertext[aesGCM.NonceSize():]

	plaintext, err := aesGCM.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// GenerateKeyPair generates a P-256 key pair for bundle encryption.
func GenerateKeyPair() (*ecdh.PrivateKey, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return priv, nil
}

func deriveKey(sharedSecret, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, sharedSecret, nil, info)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
