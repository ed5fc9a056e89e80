package session

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/custody"
	"github.com/lumenbro/photonbot-turnkey/internal/envelope"
	apperrors "github.com/lumenbro/photonbot-turnkey/pkg/errors"
	"github.com/lumenbro/photonbot-turnkey/pkg/hpke"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testBotToken   = "123456:ABC-TEST-TOKEN"
	testTelegramID = int64(123456789)
	testOrgID      = "0b19ff51-2d5f-4b1c-8f3f-111111111111"
	testMasterKey  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type fakeCustody struct {
	called bool
	result *custody.SessionResult
	err    error
}

func (f *fakeCustody) CreateSession(_ context.Context, _ []byte, _ string) (*custody.SessionResult, error) {
	f.called = true
	return f.result, f.err
}

type fakeCredentials struct {
	record *types.CredentialRecord

	savedSessionID  string
	savedCiphertext string
	savedKeyRef     string
	savedExpiry     time.Time
	cleared         bool
	recoveryOrgID   string
	recoveryExpires time.Time
	recoveryOff     bool
}

func (f *fakeCredentials) GetByTelegramID(_ context.Context, _ int64) (*types.CredentialRecord, error) {
	return f.record, nil
}

func (f *fakeCredentials) SaveEnvelopeSession(_ context.Context, _ int64, sessionID, ciphertext, keyRef string, expiry time.Time) error {
	f.savedSessionID = sessionID
	f.savedCiphertext = ciphertext
	f.savedKeyRef = keyRef
	f.savedExpiry = expiry
	return nil
}

func (f *fakeCredentials) ClearSession(_ context.Context, _ int64) error {
	f.cleared = true
	return nil
}

func (f *fakeCredentials) EnableRecovery(_ context.Context, _ int64, orgID string, expires time.Time) error {
	f.recoveryOrgID = orgID
	f.recoveryExpires = expires
	return nil
}

func (f *fakeCredentials) DisableRecovery(_ context.Context, _ int64) error {
	f.recoveryOff = true
	return nil
}

type fakeOrganizations struct {
	byOrgID map[string]*types.OrganizationRecord
}

func (f *fakeOrganizations) GetByOrgID(_ context.Context, orgID string) (*types.OrganizationRecord, error) {
	return f.byOrgID[orgID], nil
}

func signInitData(values url.Values) string {
	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(testBotToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(pairs, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func validInitData(telegramID int64) string {
	values := url.Values{}
	values.Set("user", fmt.Sprintf(`{"id":%d,"first_name":"Lumen"}`, telegramID))
	values.Set("auth_date", fmt.Sprintf("%d", time.Now().Unix()))
	values.Set("hash", signInitData(values))
	return values.Encode()
}

func testEnvelope(t *testing.T) *envelope.Service {
	t.Helper()
	provider, err := envelope.NewLocalProvider(testMasterKey)
	require.NoError(t, err)
	return envelope.New(provider, envelope.Context{
		Service:     "lumenbro-session-keys",
		Environment: "test",
	})
}

// makeBundle produces a credential bundle the way the authority does:
// encrypt the session private key to the caller's ephemeral public key.
func makeBundle(t *testing.T, ephemeralPrivHex string) (bundle, sessionPrivHex string) {
	t.Helper()
	sessionKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	sessionPriv := sessionKey.D.FillBytes(make([]byte, 32))

	ephemeralBytes, err := hex.DecodeString(ephemeralPrivHex)
	require.NoError(t, err)
	recipient, err := ecdh.P256().NewPrivateKey(ephemeralBytes)
	require.NoError(t, err)

	encapsulated, ciphertext, err := hpke.Seal(recipient.PublicKey(), sessionPriv, bundleInfo)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(append(encapsulated, ciphertext...)),
		hex.EncodeToString(sessionPriv)
}

func newEphemeral(t *testing.T) string {
	t.Helper()
	priv, err := hpke.GenerateKeyPair()
	require.NoError(t, err)
	return hex.EncodeToString(priv.Bytes())
}

func newManager(t *testing.T, fc *fakeCustody, creds *fakeCredentials, orgs *fakeOrganizations) *Manager {
	t.Helper()
	return NewManager(fc, testEnvelope(t), creds, orgs, testBotToken, 24*time.Hour)
}

func TestCreateSession(t *testing.T) {
	ephemeralHex := newEphemeral(t)
	bundle, sessionPrivHex := makeBundle(t, ephemeralHex)

	fc := &fakeCustody{result: &custody.SessionResult{
		SessionID:        "session-1",
		CredentialBundle: bundle,
	}}
	creds := &fakeCredentials{record: &types.CredentialRecord{TelegramID: testTelegramID}}
	m := newManager(t, fc, creds, &fakeOrganizations{})

	err := m.Create(context.Background(), CreateRequest{
		TelegramID:          testTelegramID,
		SignedBody:          []byte(`{"type":"ACTIVITY_TYPE_CREATE_READ_WRITE_SESSION_V2"}`),
		Stamp:               "caller-stamp",
		EphemeralPrivateKey: ephemeralHex,
		InitData:            validInitData(testTelegramID),
	})
	require.NoError(t, err)

	require.True(t, fc.called)
	assert.Equal(t, "session-1", creds.savedSessionID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), creds.savedExpiry, time.Minute)

	// Only the envelope-encrypted form reaches the store, and it must
	// decrypt back to the key the bundle carried.
	assert.NotContains(t, creds.savedCiphertext, sessionPrivHex)
	keys, err := testEnvelope(t).Decrypt(context.Background(), creds.savedCiphertext, creds.savedKeyRef)
	require.NoError(t, err)
	assert.Equal(t, sessionPrivHex, keys.APIPrivateKey)

	derived, err := custody.DerivePublicKey(sessionPrivHex)
	require.NoError(t, err)
	assert.Equal(t, derived, keys.APIPublicKey)
}

func TestCreateRejectsMalformedEphemeralBeforeAuthorityCall(t *testing.T) {
	fc := &fakeCustody{}
	m := newManager(t, fc, &fakeCredentials{}, &fakeOrganizations{})

	err := m.Create(context.Background(), CreateRequest{
		TelegramID:          testTelegramID,
		SignedBody:          []byte(`{}`),
		Stamp:               "stamp",
		EphemeralPrivateKey: "not-hex",
		InitData:            validInitData(testTelegramID),
	})
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
	assert.False(t, fc.called)
}

func TestCreateRejectsMismatchedUser(t *testing.T) {
	fc := &fakeCustody{}
	m := newManager(t, fc, &fakeCredentials{}, &fakeOrganizations{})

	err := m.Create(context.Background(), CreateRequest{
		TelegramID:          999,
		SignedBody:          []byte(`{}`),
		Stamp:               "stamp",
		EphemeralPrivateKey: newEphemeral(t),
		InitData:            validInitData(testTelegramID),
	})
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, appErr.Code)
	assert.False(t, fc.called)
}

func TestCreateUpstreamFailure(t *testing.T) {
	fc := &fakeCustody{err: fmt.Errorf("custody authority returned status 500")}
	creds := &fakeCredentials{record: &types.CredentialRecord{TelegramID: testTelegramID}}
	m := newManager(t, fc, creds, &fakeOrganizations{})

	err := m.Create(context.Background(), CreateRequest{
		TelegramID:          testTelegramID,
		SignedBody:          []byte(`{}`),
		Stamp:               "stamp",
		EphemeralPrivateKey: newEphemeral(t),
		InitData:            validInitData(testTelegramID),
	})
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUpstreamAuthority, appErr.Code)
	assert.Empty(t, creds.savedCiphertext)
}

func TestCreateBadBundleWritesNothing(t *testing.T) {
	fc := &fakeCustody{result: &custody.SessionResult{
		SessionID:        "session-1",
		CredentialBundle: base64.RawURLEncoding.EncodeToString([]byte("garbage")),
	}}
	creds := &fakeCredentials{record: &types.CredentialRecord{TelegramID: testTelegramID}}
	m := newManager(t, fc, creds, &fakeOrganizations{})

	err := m.Create(context.Background(), CreateRequest{
		TelegramID:          testTelegramID,
		SignedBody:          []byte(`{}`),
		Stamp:               "stamp",
		EphemeralPrivateKey: newEphemeral(t),
		InitData:            validInitData(testTelegramID),
	})
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeDecryptionFailure, appErr.Code)
	assert.Empty(t, creds.savedCiphertext)
}

func TestEnableRecoveryOwned(t *testing.T) {
	creds := &fakeCredentials{}
	orgs := &fakeOrganizations{byOrgID: map[string]*types.OrganizationRecord{
		testOrgID: {TelegramID: testTelegramID, OrgID: testOrgID},
	}}
	m := newManager(t, &fakeCustody{}, creds, orgs)

	expires, err := m.EnableRecovery(context.Background(), testTelegramID, testOrgID)
	require.NoError(t, err)

	assert.Equal(t, testOrgID, creds.recoveryOrgID)
	assert.WithinDuration(t, time.Now().Add(RecoveryTTL), expires, time.Minute)
}

func TestEnableRecoveryRejectsForeignOrg(t *testing.T) {
	creds := &fakeCredentials{}
	orgs := &fakeOrganizations{byOrgID: map[string]*types.OrganizationRecord{
		testOrgID: {TelegramID: 42, OrgID: testOrgID},
	}}
	m := newManager(t, &fakeCustody{}, creds, orgs)

	_, err := m.EnableRecovery(context.Background(), testTelegramID, testOrgID)
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, appErr.Code)
	assert.Empty(t, creds.recoveryOrgID)
}

func TestEnableRecoveryRejectsNonUUID(t *testing.T) {
	m := newManager(t, &fakeCustody{}, &fakeCredentials{}, &fakeOrganizations{})

	_, err := m.EnableRecovery(context.Background(), testTelegramID, "not-a-uuid")
	require.Error(t, err)

	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidInput, appErr.Code)
}

func TestLogoutClearsSession(t *testing.T) {
	creds := &fakeCredentials{}
	m := newManager(t, &fakeCustody{}, creds, &fakeOrganizations{})

	require.NoError(t, m.Logout(context.Background(), testTelegramID))
	assert.True(t, creds.cleared)
}
