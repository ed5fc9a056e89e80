// Package custody talks to the external custody authority (Turnkey). Its
// calls are blocking I/O; timeouts apply to the call but a timeout must not
// be read as "it didn't happen" — the authority may already hold the state.
package custody

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

const (
	createSessionPath  = "/public/v1/submit/create_read_write_session"
	signRawPayloadPath = "/public/v1/submit/sign_raw_payload"
)

// Client is an HTTP client for the custody authority.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a custody client for the given endpoint. The endpoint
// comes from configuration so test and production authorities are selected
// explicitly, never ambiently.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SessionResult is the authority's answer to a session-create activity.
type SessionResult struct {
	SessionID        string
	CredentialBundle string
}

// activityEnvelope covers the response shapes we consume.
type activityEnvelope struct {
	Activity struct {
		Result struct {
			CreateReadWriteSessionResultV2 *struct {
				APIKeyID         string `json:"apiKeyId"`
				CredentialBundle string `json:"credentialBundle"`
			} `json:"createReadWriteSessionResultV2"`
			SignRawPayloadResult *struct {
				R string `json:"r"`
				S string `json:"s"`
			} `json:"signRawPayloadResult"`
		} `json:"result"`
	} `json:"activity"`
}

// CreateSession forwards a caller-signed session-create body verbatim, with
// its stamp. The body was stamped by the caller; re-encoding it here would
// break stamp verification.
func (c *Client) CreateSession(ctx context.Context, signedBody []byte, stamp string) (*SessionResult, error) {
	env, err := c.submit(ctx, createSessionPath, "create_session", signedBody, stamp)
	if err != nil {
		return nil, err
	}

	result := env.Activity.Result.CreateReadWriteSessionResultV2
	if result == nil || result.APIKeyID == "" || result.CredentialBundle == "" {
		return nil, fmt.Errorf("custody authority returned no session result")
	}
	return &SessionResult{
		SessionID:        result.APIKeyID,
		CredentialBundle: result.CredentialBundle,
	}, nil
}

// SignRawPayload asks the authority to sign payloadHex (a transaction hash)
// with the key signWith under orgID, stamping the request with the session
// key pair. Returns the raw 64-byte ed25519 signature (r || s).
func (c *Client) SignRawPayload(ctx context.Context, orgID, signWith, payloadHex string, keys types.SessionKeyPair) ([]byte, error) {
	body := map[string]any{
		"type":           "ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2",
		"timestampMs":    strconv.FormatInt(time.Now().UnixMilli(), 10),
		"organizationId": orgID,
		"parameters": map[string]any{
			"signWith":     signWith,
			"payload":      payloadHex,
			"encoding":     "PAYLOAD_ENCODING_HEXADECIMAL",
			"hashFunction": "HASH_FUNCTION_NOT_APPLICABLE",
		},
	}

	// json.Marshal sorts map keys, matching the canonical encoding the
	// stamp is verified against.
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sign request: %w", err)
	}

	stamp, err := Stamp(bodyBytes, keys.APIPublicKey, keys.APIPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp sign request: %w", err)
	}

	env, err := c.submit(ctx, signRawPayloadPath, "sign_raw_payload", bodyBytes, stamp)
	if err != nil {
		return nil, err
	}

	result := env.Activity.Result.SignRawPayloadResult
	if result == nil {
		return nil, fmt.Errorf("custody authority returned no signature")
	}

	sig, err := hex.DecodeString(result.R + result.S)
	if err != nil || len(sig) != 64 {
		return nil, fmt.Errorf("custody authority returned malformed signature")
	}
	return sig, nil
}

func (c *Client) submit(ctx context.Context, path, activity string, body []byte, stamp string) (*activityEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Stamp", stamp)
	req.Header.Set("X-Idempotency-Key", uuid.NewString())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.CustodyRequestDuration.WithLabelValues(activity).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("custody authority request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read custody authority response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custody authority returned status %d: %s", resp.StatusCode, respBody)
	}

	var env activityEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to decode custody authority response: %w", err)
	}
	return &env, nil
}
