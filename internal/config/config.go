// Package config loads service configuration from the environment. Behavior
// switches (test vs production) are explicit values threaded into the
// envelope context and custody endpoint selection, never implicit globals.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environments. The value selects the envelope encryption context, the
// custody endpoint, and the Stellar network passphrase.
const (
	EnvProduction = "production"
	EnvTest       = "test"
)

const (
	pubnetPassphrase  = "Public Global Stellar Network ; September 2015"
	testnetPassphrase = "Test SDF Network ; September 2015"
)

// Config holds configuration shared by the signer and session services.
type Config struct {
	// Database
	PostgresDSN string

	// Server
	Port int

	// Environment: "production" or "test".
	Environment string

	// Auth gate
	JWTSecret string
	BotToken  string
	TokenTTL  time.Duration

	// Envelope key service
	KMSProvider       string // local, aws-kms, or vault
	KMSKeyID          string
	KMSRegion         string
	KMSLocalMasterKey string
	VaultAddress      string
	VaultToken        string
	VaultTransitKey   string
	EnvelopeService   string // logical service tag bound into every encrypt

	// Custody authority
	CustodyURL        string
	CustodyOrgID      string
	CustodyAPIPublic  string
	CustodyAPIPrivate string
	SessionTTL        time.Duration

	// Signing
	FeeWallet        string
	TestSignerSecret string

	// Rate limiting
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitEnabled bool
}

// Load loads configuration from a .env file (if present) and the
// environment.
func Load() (*Config, error) {
	// Missing .env is fine; the environment may be fully populated already.
	_ = godotenv.Load()

	cfg := &Config{
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		Port:              getEnvInt("PORT", 8080),
		Environment:       getEnv("ENVIRONMENT", EnvProduction),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		BotToken:          getEnv("BOT_TOKEN", ""),
		TokenTTL:          getEnvDuration("TOKEN_TTL", 24*time.Hour),
		KMSProvider:       getEnv("KMS_PROVIDER", "aws-kms"),
		KMSKeyID:          getEnv("KMS_KEY_ID", ""),
		KMSRegion:         getEnv("KMS_REGION", "us-west-1"),
		KMSLocalMasterKey: getEnv("KMS_LOCAL_MASTER_KEY", ""),
		VaultAddress:      getEnv("VAULT_ADDR", ""),
		VaultToken:        getEnv("VAULT_TOKEN", ""),
		VaultTransitKey:   getEnv("VAULT_TRANSIT_KEY", ""),
		EnvelopeService:   getEnv("ENVELOPE_SERVICE", "lumenbro-session-keys"),
		CustodyURL:        getEnv("TURNKEY_API_URL", "https://api.turnkey.com"),
		CustodyOrgID:      getEnv("TURNKEY_ORGANIZATION_ID", ""),
		CustodyAPIPublic:  getEnv("TURNKEY_API_PUBLIC_KEY", ""),
		CustodyAPIPrivate: getEnv("TURNKEY_API_PRIVATE_KEY", ""),
		SessionTTL:        getEnvDuration("SESSION_TTL", 365*24*time.Hour),
		FeeWallet:         getEnv("FEE_WALLET", ""),
		TestSignerSecret:  getEnv("TEST_SIGNER_SECRET", ""),
		RateLimitRPS:      getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    getEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Environment != EnvProduction && c.Environment != EnvTest {
		return fmt.Errorf("ENVIRONMENT must be %q or %q, got: %s", EnvProduction, EnvTest, c.Environment)
	}

	switch c.KMSProvider {
	case "local":
		if c.KMSLocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case "aws-kms":
		if c.KMSKeyID == "" {
			return fmt.Errorf("KMS_KEY_ID is required when KMS_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.VaultAddress == "" || c.VaultToken == "" || c.VaultTransitKey == "" {
			return fmt.Errorf("VAULT_ADDR, VAULT_TOKEN and VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMSProvider)
	}

	if c.Environment == EnvTest && c.TestSignerSecret == "" {
		return fmt.Errorf("TEST_SIGNER_SECRET is required when ENVIRONMENT is 'test'")
	}

	return nil
}

// NetworkPassphrase returns the Stellar network passphrase for the
// configured environment.
func (c *Config) NetworkPassphrase() string {
	if c.Environment == EnvTest {
		return testnetPassphrase
	}
	return pubnetPassphrase
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
