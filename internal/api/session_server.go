package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/config"
	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
	"github.com/lumenbro/photonbot-turnkey/internal/middleware"
	"github.com/lumenbro/photonbot-turnkey/internal/session"
	"github.com/lumenbro/photonbot-turnkey/pkg/types"
)

// SessionManager is the subset of the session manager used by the API layer.
type SessionManager interface {
	Create(ctx context.Context, req session.CreateRequest) error
	Logout(ctx context.Context, telegramID int64) error
	EnableRecovery(ctx context.Context, telegramID int64, orgID string) (time.Time, error)
	DisableRecovery(ctx context.Context, telegramID int64) error
	Recovery(ctx context.Context, telegramID int64) (*session.RecoveryStatus, error)
}

// LegacyExporter decrypts the legacy wrapped secret for the export endpoint.
type LegacyExporter interface {
	DecryptRaw(ctx context.Context, ciphertext, keyRef string) ([]byte, error)
}

// CredentialReader is the read slice of the credential repository the
// session API needs.
type CredentialReader interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*types.CredentialRecord, error)
}

// WalletSwitcher flips which organization record is active for a user.
type WalletSwitcher interface {
	GetByOrgID(ctx context.Context, orgID string) (*types.OrganizationRecord, error)
	ListByTelegramID(ctx context.Context, telegramID int64) ([]*types.OrganizationRecord, error)
	Activate(ctx context.Context, telegramID int64, orgID string) error
}

// SessionServer is the HTTP server of the session lifecycle service.
type SessionServer struct {
	config      *config.Config
	manager     SessionManager
	exporter    LegacyExporter
	credentials CredentialReader
	wallets     WalletSwitcher
	authGate    *middleware.AuthGate
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewSessionServer creates the session service's HTTP server.
func NewSessionServer(cfg *config.Config, manager SessionManager, exporter LegacyExporter, credentials CredentialReader, wallets WalletSwitcher) *SessionServer {
	return &SessionServer{
		config:      cfg,
		manager:     manager,
		exporter:    exporter,
		credentials: credentials,
		wallets:     wallets,
		authGate:    middleware.NewAuthGate(cfg.JWTSecret),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
	}
}

// Start starts the HTTP server.
func (s *SessionServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Session creation authenticates through the integrity token in its
	// body; there is no bearer token yet at that point.
	mux.Handle("POST /api/session",
		s.rateLimiter.Limit(http.HandlerFunc(s.handleCreateSession)))

	mux.Handle("DELETE /api/session",
		s.authGate.Authenticate(http.HandlerFunc(s.handleLogout)))

	mux.Handle("GET /api/recovery",
		s.authGate.Authenticate(http.HandlerFunc(s.handleRecoveryStatus)))
	mux.Handle("POST /api/recovery",
		s.authGate.Authenticate(http.HandlerFunc(s.handleEnableRecovery)))
	mux.Handle("DELETE /api/recovery",
		s.authGate.Authenticate(http.HandlerFunc(s.handleDisableRecovery)))

	mux.Handle("POST /api/wallet/switch",
		s.authGate.Authenticate(http.HandlerFunc(s.handleWalletSwitch)))
	mux.Handle("GET /api/wallets",
		s.authGate.Authenticate(http.HandlerFunc(s.handleListWallets)))

	mux.Handle("GET /api/export/legacy",
		s.authGate.Authenticate(http.HandlerFunc(s.handleLegacyExport)))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      middleware.RequestID(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *SessionServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
