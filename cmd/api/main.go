package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/api/auth"
	"github.com/feral-file/passport-ledger/internal/api/middleware"
	"github.com/feral-file/passport-ledger/internal/api/rest"
	"github.com/feral-file/passport-ledger/internal/api/server"
	"github.com/feral-file/passport-ledger/internal/blob"
	"github.com/feral-file/passport-ledger/internal/config"
	"github.com/feral-file/passport-ledger/internal/ledger"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/providers/jetstream"
	"github.com/feral-file/passport-ledger/internal/ratelimit"
	"github.com/feral-file/passport-ledger/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Passport Ledger API", zap.String("backend", cfg.Ledger.Backend))

	// Initialize adapters
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()

	// Select the ledger backend. Webhook clients and wallet nonces live in postgres,
	// the in-memory backend keeps nonces in process and has no webhook clients.
	var (
		backend   ledger.Backend
		dataStore store.Store
		nonces    auth.NonceStore
	)
	switch cfg.Ledger.Backend {
	case config.LedgerBackendMemory:
		backend = ledger.NewMemoryBackend()
		nonces = auth.NewMemoryNonceStore()
		logger.WarnCtx(ctx, "Using the in-memory ledger backend, state is lost on restart")
	default:
		db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
		if err != nil {
			logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
		}
		if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
			logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
		}
		logger.InfoCtx(ctx, "Connected to database",
			zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
			zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
		)

		dataStore = store.NewPGStore(db)
		backend = dataStore
		nonces = dataStore
	}

	l := ledger.New(ledger.Options{Backend: backend, Clock: clock})
	l.Subscribe("log", ledger.LogSubscriber())

	// Publish committed events to JetStream for the event bridge
	if cfg.NATS.URL != "" {
		publisher, err := jetstream.NewPublisher(ctx, jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
		}, adapter.NewNatsJetStream(), jsonAdapter)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create event publisher", zap.Error(err), zap.String("url", cfg.NATS.URL))
		}
		defer publisher.Close()
		l.Subscribe("jetstream", publisher)
		logger.InfoCtx(ctx, "Publishing ledger events", zap.String("stream", cfg.NATS.StreamName))
	} else {
		logger.WarnCtx(ctx, "NATS URL not configured, ledger events will not reach webhook clients")
	}

	authService, err := auth.NewService(auth.Config{
		JWTPrivateKey: cfg.Auth.JWTPrivateKey,
		JWTIssuer:     cfg.Auth.JWTIssuer,
		TokenTTL:      cfg.Auth.TokenTTL,
		ChallengeTTL:  cfg.Auth.ChallengeTTL,
		Chain:         cfg.Ledger.Chain,
	}, nonces, jsonAdapter, clock)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create auth service", zap.Error(err))
	}

	blobStore := blob.NewIPFSStore(blob.Config{
		APIURL:        cfg.IPFS.APIURL,
		APIKey:        cfg.IPFS.APIKey,
		APISecret:     cfg.IPFS.APISecret,
		MaxUploadSize: cfg.IPFS.MaxUploadSize,
	}, adapter.NewHTTPClient(cfg.IPFS.Timeout), jsonAdapter)

	var limits rest.RouteLimits
	if cfg.RateLimit.Enabled {
		limits.Login, err = ratelimit.NewLimiter(cfg.RateLimit.Login, cfg.RateLimit.IdleTTL, clock)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create login rate limiter", zap.Error(err))
		}
		limits.Mutation, err = ratelimit.NewLimiter(cfg.RateLimit.Mutation, cfg.RateLimit.IdleTTL, clock)
		if err != nil {
			logger.FatalCtx(ctx, "Failed to create mutation rate limiter", zap.Error(err))
		}
	} else {
		logger.WarnCtx(ctx, "API rate limiting disabled")
	}

	serverConfig := server.Config{
		Debug:          cfg.Debug,
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(cfg.Server.IdleTimeout) * time.Second,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxUploadSize:  cfg.IPFS.MaxUploadSize,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			JWTIssuer:    cfg.Auth.JWTIssuer,
			APIKeys:      cfg.Auth.APIKeys,
		},
		RateLimits: limits,
	}

	handler := rest.NewHandler(rest.Config{
		Debug:         cfg.Debug,
		MaxUploadSize: cfg.IPFS.MaxUploadSize,
	}, l, authService, blobStore, dataStore)

	// Create and start server
	srv := server.New(serverConfig, handler)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Don't reuse the canceled ctx for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
