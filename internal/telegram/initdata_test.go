package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBotToken = "123456:ABC-TEST-TOKEN"

// signInitData computes the hash the way the platform does, so Verify is
// tested against an independently produced value.
func signInitData(values url.Values, botToken string) string {
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func validInitData(t *testing.T, authDate time.Time) string {
	t.Helper()
	values := url.Values{}
	values.Set("user", `{"id":123456789,"username":"lumenfan","first_name":"Lumen"}`)
	values.Set("auth_date", fmt.Sprintf("%d", authDate.Unix()))
	values.Set("query_id", "AAHtest")
	values.Set("hash", signInitData(values, testBotToken))
	return values.Encode()
}

func TestVerifyValid(t *testing.T) {
	initData := validInitData(t, time.Now())

	user, err := Verify(initData, testBotToken, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(123456789), user.ID)
	assert.Equal(t, "lumenfan", user.Username)
}

func TestVerifyMissingHash(t *testing.T) {
	_, err := Verify("user=%7B%22id%22%3A1%7D&auth_date=1", testBotToken, time.Now())
	assert.ErrorIs(t, err, ErrMissingHash)
}

func TestVerifyWrongToken(t *testing.T) {
	initData := validInitData(t, time.Now())

	_, err := Verify(initData, "999999:OTHER-TOKEN", time.Now())
	assert.ErrorIs(t, err, ErrBadHash)
}

func TestVerifyTamperedUser(t *testing.T) {
	initData := validInitData(t, time.Now())
	tampered := strings.Replace(initData, "123456789", "987654321", 1)

	_, err := Verify(tampered, testBotToken, time.Now())
	assert.ErrorIs(t, err, ErrBadHash)
}

func TestVerifyStaleAuthDate(t *testing.T) {
	initData := validInitData(t, time.Now().Add(-25*time.Hour))

	_, err := Verify(initData, testBotToken, time.Now())
	assert.ErrorIs(t, err, ErrExpired)
}

func TestVerifyMissingUser(t *testing.T) {
	values := url.Values{}
	values.Set("auth_date", fmt.Sprintf("%d", time.Now().Unix()))
	values.Set("hash", signInitData(values, testBotToken))

	_, err := Verify(values.Encode(), testBotToken, time.Now())
	assert.ErrorIs(t, err, ErrNoUser)
}
