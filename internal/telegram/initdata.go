// Package telegram verifies the platform integrity token (WebApp initData)
// presented by clients of both services.
package telegram

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// MaxAuthAge is how old an initData auth_date may be before it is rejected.
const MaxAuthAge = 24 * time.Hour

var (
	ErrMissingHash = errors.New("initdata: missing hash")
	ErrBadHash     = errors.New("initdata: hash mismatch")
	ErrExpired     = errors.New("initdata: auth_date too old")
	ErrNoUser      = errors.New("initdata: missing user")
)

// User is the subset of the WebApp user object we consume.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Verify checks the initData HMAC against the bot token and the auth_date
// freshness window, returning the embedded user. The data-check string is
// the sorted key=value pairs excluding hash, joined with newlines; the
// secret key is HMAC-SHA256("WebAppData", botToken).
func Verify(initData, botToken string, now time.Time) (*User, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("initdata: malformed query: %w", err)
	}

	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, ErrMissingHash
	}

	pairs := make([]string, 0, len(values))
	for key, vals := range values {
		if key == "hash" || len(vals) == 0 {
			continue
		}
		pairs = append(pairs, key+"="+vals[0])
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	wantHash := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(wantHash), []byte(gotHash)) {
		return nil, ErrBadHash
	}

	if authDate := values.Get("auth_date"); authDate != "" {
		var ts int64
		if _, err := fmt.Sscanf(authDate, "%d", &ts); err != nil {
			return nil, fmt.Errorf("initdata: malformed auth_date")
		}
		if now.Sub(time.Unix(ts, 0)) > MaxAuthAge {
			return nil, ErrExpired
		}
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, ErrNoUser
	}
	var user User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil || user.ID == 0 {
		return nil, ErrNoUser
	}
	return &user, nil
}
