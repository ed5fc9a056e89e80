package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-jwt-secret")

func TestIssueAndVerify(t *testing.T) {
	token, err := Issue(testSecret, 123456789, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	telegramID, err := Verify(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), telegramID)
}

func TestVerifyExpired(t *testing.T) {
	token, err := Issue(testSecret, 123456789, -time.Minute)
	require.NoError(t, err)

	_, err = Verify(testSecret, token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := Issue(testSecret, 123456789, time.Hour)
	require.NoError(t, err)

	_, err = Verify([]byte("different-secret"), token)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestVerifyMalformed(t *testing.T) {
	_, err := Verify(testSecret, "not.a.jwt")
	assert.Error(t, err)

	_, err = Verify(testSecret, "garbage")
	assert.ErrorIs(t, err, ErrTokenMalformed)
}

func TestVerifyRejectsUnsignedAlg(t *testing.T) {
	claims := Claims{
		TelegramID: 123456789,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = Verify(testSecret, signed)
	assert.Error(t, err)
}

func TestVerifyMissingIdentityClaim(t *testing.T) {
	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = Verify(testSecret, signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
