package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
)

// ProviderType represents supported master-key providers
type ProviderType string

const (
	// ProviderLocal uses a local master key (development/test deployments)
	ProviderLocal ProviderType = "local"

	// ProviderAWSKMS uses AWS KMS
	ProviderAWSKMS ProviderType = "aws-kms"

	// ProviderVault uses HashiCorp Vault Transit engine
	ProviderVault ProviderType = "vault"
)

// ProviderConfig contains configuration for master-key providers
type ProviderConfig struct {
	Provider string

	// Local provider config
	LocalMasterKeyHex string

	// AWS KMS config
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault config
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// NewProvider creates a MasterKeyProvider based on the configuration
func NewProvider(cfg *ProviderConfig) (MasterKeyProvider, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderLocal, "":
		return NewLocalProvider(cfg.LocalMasterKeyHex)
	case ProviderAWSKMS:
		return NewAWSKMSProvider(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case ProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unsupported master-key provider: %s (supported: %s, %s, %s)",
			cfg.Provider, ProviderLocal, ProviderAWSKMS, ProviderVault)
	}
}

// contextBytes serializes an encryption context deterministically so it can
// be bound as AEAD additional data.
func contextBytes(encCtx map[string]string) []byte {
	keys := make([]string, 0, len(encCtx))
	for k := range encCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([][2]string, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, [2]string{k, encCtx[k]})
	}
	b, _ := json.Marshal(ordered)
	return b
}

// LocalProvider implements MasterKeyProvider using a local AES-256-GCM
// master key with the encryption context bound as additional data.
type LocalProvider struct {
	masterKey []byte
}

const localKeyRef = "local/v1"

// NewLocalProvider creates a new local master-key provider from a
// hex-encoded 32-byte key.
func NewLocalProvider(masterKeyHex string) (*LocalProvider, error) {
	if masterKeyHex == "" {
		return nil, fmt.Errorf("master key is required for local provider")
	}
	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil || len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 hex-encoded bytes")
	}
	return &LocalProvider{masterKey: masterKey}, nil
}

// Encrypt encrypts plaintext with AES-GCM, binding encCtx as AAD.
func (p *LocalProvider) Encrypt(ctx context.Context, plaintext []byte, encCtx map[string]string) ([]byte, string, error) {
	block, err := aes.NewCipher(p.masterKey)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := gcm.Seal(nonce, nonce, plaintext, contextBytes(encCtx))
	return blob, localKeyRef, nil
}

// Decrypt decrypts blob with AES-GCM under the same AAD.
func (p *LocalProvider) Decrypt(ctx context.Context, blob []byte, keyRef string, encCtx map[string]string) ([]byte, error) {
	block, err := aes.NewCipher(p.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, contextBytes(encCtx))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (p *LocalProvider) Provider() string {
	return string(ProviderLocal)
}

// AWSKMSProvider implements MasterKeyProvider using AWS KMS. The encryption
// context maps directly onto KMS EncryptionContext, so decryption under a
// different context fails inside KMS.
type AWSKMSProvider struct {
	keyID  string
	region string
	client *kms.Client
}

// NewAWSKMSProvider creates a new AWS KMS provider
func NewAWSKMSProvider(keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Default credential chain: env vars, shared config, IAM role.
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		region: region,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Encrypt encrypts data using AWS KMS
func (p *AWSKMSProvider) Encrypt(ctx context.Context, plaintext []byte, encCtx map[string]string) ([]byte, string, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(p.keyID),
		Plaintext:         plaintext,
		EncryptionContext: encCtx,
	})
	if err != nil {
		return nil, "", fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, p.keyID, nil
}

// Decrypt decrypts data using AWS KMS
func (p *AWSKMSProvider) Decrypt(ctx context.Context, blob []byte, keyRef string, encCtx map[string]string) ([]byte, error) {
	keyID := keyRef
	if keyID == "" || keyID == localKeyRef {
		keyID = p.keyID
	}
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(keyID),
		CiphertextBlob:    blob,
		EncryptionContext: encCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Provider returns the provider name
func (p *AWSKMSProvider) Provider() string {
	return string(ProviderAWSKMS)
}

// VaultProvider implements MasterKeyProvider using the HashiCorp Vault
// Transit engine with a derived key, passing the encryption context as the
// Transit context parameter.
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a new Vault provider
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("Vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("Vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("Vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{transitKey: transitKey, client: client}, nil
}

// Encrypt encrypts data using the Vault Transit engine
func (p *VaultProvider) Encrypt(ctx context.Context, plaintext []byte, encCtx map[string]string) ([]byte, string, error) {
	path := fmt.Sprintf("transit/encrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
		"context":   base64.StdEncoding.EncodeToString(contextBytes(encCtx)),
	})
	if err != nil {
		return nil, "", fmt.Errorf("Vault Transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, "", fmt.Errorf("Vault Transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, "", fmt.Errorf("Vault Transit encrypt: ciphertext not found in response")
	}

	// The blob is a vault:v1:... string.
	return []byte(ciphertext), p.transitKey, nil
}

// Decrypt decrypts data using the Vault Transit engine
func (p *VaultProvider) Decrypt(ctx context.Context, blob []byte, keyRef string, encCtx map[string]string) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(blob),
		"context":    base64.StdEncoding.EncodeToString(contextBytes(encCtx)),
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

// Provider returns the provider name
func (p *VaultProvider) Provider() string {
	return string(ProviderVault)
}

// Ensure providers implement MasterKeyProvider
var (
	_ MasterKeyProvider = (*LocalProvider)(nil)
	_ MasterKeyProvider = (*AWSKMSProvider)(nil)
	_ MasterKeyProvider = (*VaultProvider)(nil)
)
