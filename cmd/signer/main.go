package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenbro/photonbot-turnkey/internal/api"
	"github.com/lumenbro/photonbot-turnkey/internal/config"
	"github.com/lumenbro/photonbot-turnkey/internal/custody"
	"github.com/lumenbro/photonbot-turnkey/internal/envelope"
	"github.com/lumenbro/photonbot-turnkey/internal/logger"
	"github.com/lumenbro/photonbot-turnkey/internal/resolver"
	"github.com/lumenbro/photonbot-turnkey/internal/signer"
	"github.com/lumenbro/photonbot-turnkey/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	store, err := storage.New(cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	slog.Info("connected to database")

	provider, err := envelope.NewProvider(&envelope.ProviderConfig{
		Provider:          cfg.KMSProvider,
		LocalMasterKeyHex: cfg.KMSLocalMasterKey,
		AWSKMSKeyID:       cfg.KMSKeyID,
		AWSKMSRegion:      cfg.KMSRegion,
		VaultAddress:      cfg.VaultAddress,
		VaultToken:        cfg.VaultToken,
		VaultTransitKey:   cfg.VaultTransitKey,
	})
	if err != nil {
		slog.Error("failed to initialize master-key provider", "error", err)
		os.Exit(1)
	}

	envelopeService := envelope.New(provider, envelope.Context{
		Service:     cfg.EnvelopeService,
		Environment: cfg.Environment,
	})

	credentials := storage.NewCredentialRepository(store)
	organizations := storage.NewOrganizationRepository(store)
	methodResolver := resolver.New(credentials, organizations)
	custodyClient := custody.NewClient(cfg.CustodyURL)

	// The test environment signs with a local keypair instead of the
	// custody authority.
	var local *signer.LocalSigner
	if cfg.Environment == config.EnvTest && cfg.TestSignerSecret != "" {
		local, err = signer.NewLocalSigner(cfg.TestSignerSecret)
		if err != nil {
			slog.Error("failed to initialize local signer", "error", err)
			os.Exit(1)
		}
		slog.Info("using local test signer", "address", local.Address())
	}

	signingService := signer.New(
		methodResolver,
		envelopeService,
		custodyClient,
		cfg.NetworkPassphrase(),
		cfg.FeeWallet,
		cfg.CustodyOrgID,
		local,
	)

	server := api.NewSignerServer(cfg, signingService, methodResolver)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()
	slog.Info("signer service started", "port", cfg.Port, "environment", cfg.Environment)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
			os.Exit(1)
		}
		slog.Info("server stopped")
	}
}
