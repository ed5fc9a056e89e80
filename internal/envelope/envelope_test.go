package envelope

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/lumenbro/photonbot-turnkey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestService(t *testing.T, bound Context) *Service {
	t.Helper()
	provider, err := NewLocalProvider(testMasterKey)
	require.NoError(t, err)
	return New(provider, bound)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc := newTestService(t, Context{Service: "lumenbro-session-keys", Environment: "test"})

	keys := types.SessionKeyPair{
		APIPublicKey:  "02deadbeef",
		APIPrivateKey: strings.Repeat("ab", 32),
	}

	ciphertext, keyRef, err := svc.Encrypt(context.Background(), keys)
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext)
	assert.Equal(t, "local/v1", keyRef)
	assert.NotContains(t, ciphertext, keys.APIPrivateKey)

	got, err := svc.Decrypt(context.Background(), ciphertext, keyRef)
	require.NoError(t, err)
	assert.Equal(t, keys, got)
}

func TestDecryptContextMismatch(t *testing.T) {
	prod := newTestService(t, Context{Service: "lumenbro-session-keys", Environment: "production"})
	test := newTestService(t, Context{Service: "lumenbro-session-keys", Environment: "test"})

	ciphertext, keyRef, err := prod.Encrypt(context.Background(), types.SessionKeyPair{
		APIPublicKey:  "02aa",
		APIPrivateKey: strings.Repeat("cd", 32),
	})
	require.NoError(t, err)

	_, err = test.Decrypt(context.Background(), ciphertext, keyRef)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextMismatch)
	assert.NotErrorIs(t, err, ErrCiphertextCorrupt)
}

func TestDecryptCorruptCiphertext(t *testing.T) {
	svc := newTestService(t, Context{Service: "lumenbro-session-keys", Environment: "test"})

	t.Run("not base64", func(t *testing.T) {
		_, err := svc.Decrypt(context.Background(), "not-base64!!!", "local/v1")
		assert.ErrorIs(t, err, ErrCiphertextCorrupt)
	})

	t.Run("tampered blob", func(t *testing.T) {
		ciphertext, keyRef, err := svc.Encrypt(context.Background(), types.SessionKeyPair{
			APIPublicKey:  "02bb",
			APIPrivateKey: strings.Repeat("ef", 32),
		})
		require.NoError(t, err)

		raw, err := base64.StdEncoding.DecodeString(ciphertext)
		require.NoError(t, err)
		// Flip a byte inside the provider blob.
		raw[len(raw)-10] ^= 0xff
		tampered := base64.StdEncoding.EncodeToString(raw)

		_, err = svc.Decrypt(context.Background(), tampered, keyRef)
		assert.ErrorIs(t, err, ErrCiphertextCorrupt)
	})
}

func TestDecryptLegacyRawBlob(t *testing.T) {
	bound := Context{Service: "lumenbro-session-keys", Environment: "test"}
	provider, err := NewLocalProvider(testMasterKey)
	require.NoError(t, err)
	svc := New(provider, bound)

	keys := types.SessionKeyPair{
		APIPublicKey:  "02cc",
		APIPrivateKey: strings.Repeat("12", 32),
	}
	plaintext := []byte(`{"apiPublicKey":"02cc","apiPrivateKey":"` + keys.APIPrivateKey + `"}`)

	// Rows written before the enveloped format store the provider blob
	// directly.
	blob, keyRef, err := provider.Encrypt(context.Background(), plaintext, bound.asMap())
	require.NoError(t, err)

	got, err := svc.Decrypt(context.Background(), base64.StdEncoding.EncodeToString(blob), keyRef)
	require.NoError(t, err)
	assert.Equal(t, keys, got)
}

func TestDecryptRaw(t *testing.T) {
	svc := newTestService(t, Context{Service: "lumenbro-session-keys", Environment: "test"})
	provider, err := NewLocalProvider(testMasterKey)
	require.NoError(t, err)

	secret := []byte("SB3KDPP5NANQIHRJHAH42HJATCBGABMBXG3DOHHCTOTGE6WNMQRESD32")
	blob, keyRef, err := provider.Encrypt(context.Background(), secret,
		Context{Service: "lumenbro-session-keys", Environment: "test"}.asMap())
	require.NoError(t, err)

	got, err := svc.DecryptRaw(context.Background(), base64.StdEncoding.EncodeToString(blob), keyRef)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestLocalProviderRejectsBadKey(t *testing.T) {
	_, err := NewLocalProvider("too-short")
	assert.Error(t, err)
}
