// Package api hosts the HTTP surfaces of the two services: the transaction
// signer and the session lifecycle manager.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/config"
	"github.com/lumenbro/photonbot-turnkey/internal/metrics"
	"github.com/lumenbro/photonbot-turnkey/internal/middleware"
	"github.com/lumenbro/photonbot-turnkey/internal/resolver"
	"github.com/lumenbro/photonbot-turnkey/internal/signer"
)

// SigningService is the subset of the signer used by the API layer. It is an
// interface to allow handler-level unit tests without a database.
type SigningService interface {
	Sign(ctx context.Context, telegramID int64, req signer.Request) (*signer.Result, error)
}

// MethodResolver resolves credential state for the authenticator endpoint.
type MethodResolver interface {
	Resolve(ctx context.Context, telegramID int64) (*resolver.Resolution, error)
}

// SignerServer is the HTTP server of the signing service.
type SignerServer struct {
	config      *config.Config
	signing     SigningService
	resolver    MethodResolver
	authGate    *middleware.AuthGate
	rateLimiter *middleware.RateLimiter
	httpServer  *http.Server
}

// NewSignerServer creates the signing service's HTTP server.
func NewSignerServer(cfg *config.Config, signing SigningService, res MethodResolver) *SignerServer {
	return &SignerServer{
		config:      cfg,
		signing:     signing,
		resolver:    res,
		authGate:    middleware.NewAuthGate(cfg.JWTSecret),
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled),
	}
}

// Start starts the HTTP server.
func (s *SignerServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/auth/telegram", s.handleTelegramAuth)

	mux.Handle("POST /api/sign",
		s.authGate.Authenticate(s.rateLimiter.Limit(http.HandlerFunc(s.handleSign))))
	mux.Handle("GET /api/authenticator",
		s.authGate.Authenticate(http.HandlerFunc(s.handleAuthenticator)))

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
func (s *SignerServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
