package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/config"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/providers/jetstream"
	temporal "github.com/feral-file/passport-ledger/internal/providers/temporal"
	"github.com/feral-file/passport-ledger/internal/store"
	"github.com/feral-file/passport-ledger/internal/sweeper"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadSweeperConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "sweeper",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Sweeper")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err), zap.String("host", cfg.Database.Host))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	dataStore := store.NewPGStore(db)

	// Connect to Temporal for webhook notifications
	temporalLogger := temporal.NewZapLoggerAdapter(logger.Default())
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporalLogger,
	})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to Temporal", zap.Error(err), zap.String("host_port", cfg.Temporal.HostPort))
	}
	defer temporalClient.Close()
	logger.InfoCtx(ctx, "Connected to Temporal", zap.String("namespace", cfg.Temporal.Namespace))

	sweeperConfig := sweeper.DelegationExpirySweeperConfig{
		Interval:        cfg.DelegationExpirySweeper.Interval,
		BatchSize:       cfg.DelegationExpirySweeper.BatchSize,
		WorkerPoolSize:  cfg.DelegationExpirySweeper.Worker.WorkerPoolSize,
		WorkerQueueSize: cfg.DelegationExpirySweeper.Worker.WorkerQueueSize,
		TaskQueue:       cfg.Temporal.WebhookTaskQueue,
	}
	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()
	expirySweeper := sweeper.NewDelegationExpirySweeper(sweeperConfig, dataStore, jsonAdapter, clock, temporalClient)
	sweepers := []sweeper.Sweeper{expirySweeper}

	logger.InfoCtx(ctx, "Initialized delegation expiry sweeper",
		zap.Duration("interval", cfg.DelegationExpirySweeper.Interval),
		zap.Int("batch_size", cfg.DelegationExpirySweeper.BatchSize),
		zap.Int("worker_pool_size", cfg.DelegationExpirySweeper.Worker.WorkerPoolSize),
	)

	// Republish journal events the api could not hand to JetStream
	if cfg.JournalRelay.Enabled && cfg.NATS.URL != "" {
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

		relay := sweeper.NewJournalRelay(sweeper.JournalRelayConfig{
			Interval:  cfg.JournalRelay.Interval,
			BatchSize: cfg.JournalRelay.BatchSize,
		}, dataStore, publisher, clock)
		sweepers = append(sweepers, relay)
		logger.InfoCtx(ctx, "Initialized journal relay",
			zap.Duration("interval", cfg.JournalRelay.Interval),
			zap.Int("batch_size", cfg.JournalRelay.BatchSize),
		)
	} else {
		logger.WarnCtx(ctx, "Journal relay disabled, events the api fails to publish are not retried")
	}

	// Start the sweepers in goroutines
	errChan := make(chan error, len(sweepers))
	for _, s := range sweepers {
		go func(s sweeper.Sweeper) {
			if err := s.Start(ctx); err != nil {
				errChan <- err
			}
		}(s)
	}

	// Wait for interrupt signal or error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errChan:
		logger.ErrorCtx(ctx, err)
	}

	// Cancel context to stop the sweeper
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()

	for _, s := range sweepers {
		if err := s.Stop(shutdownCtx); err != nil {
			logger.ErrorCtx(shutdownCtx, err, zap.String("sweeper", s.Name()))
		}
	}

	logger.InfoCtx(shutdownCtx, "Sweeper stopped")
}
