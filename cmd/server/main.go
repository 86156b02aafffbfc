package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/miiworld/lotsettle/service/config"
	"github.com/miiworld/lotsettle/service/db"
	"github.com/miiworld/lotsettle/service/distribution"
	"github.com/miiworld/lotsettle/service/metrics"
	"github.com/miiworld/lotsettle/service/nats"
	"github.com/miiworld/lotsettle/service/server"
	"github.com/miiworld/lotsettle/service/settlement"
	"github.com/miiworld/lotsettle/service/solana"
	"github.com/miiworld/lotsettle/service/swap"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
	)

	// Decode the treasury key and token mint before any I/O so a bad
	// configuration fails here, not mid-distribution.
	treasuryKey, err := solana.ParseSecretKey(cfg.TreasurySecretKey)
	if err != nil {
		logger.Error("invalid treasury secret key", "error", err)
		os.Exit(1)
	}
	mint, err := solanago.PublicKeyFromBase58(cfg.TokenMintAddress)
	if err != nil {
		logger.Error("invalid token mint address", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	// Verify database connection
	if err := dbPool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize database store
	store := db.NewStore(dbPool)

	// Initialize Prometheus metrics
	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	// Initialize Solana RPC client and confirmation poller
	// Note: For premium RPC endpoints, include API key in the URL
	solanaRPC := solana.NewRPCClient(cfg.SolanaRPCURL)
	solanaClient := solana.NewClient(solanaRPC, cfg.SolanaRPCURL, m, logger)
	poller := solana.NewConfirmationPoller(solanaRPC, solana.PollPolicy{
		ConfirmAttempts: cfg.ConfirmAttempts,
		ConfirmDelay:    cfg.ConfirmDelay,
		TxFetchAttempts: cfg.TxFetchAttempts,
		TxFetchDelay:    cfg.TxFetchDelay,
	}, m, logger)
	logger.Info("initialized solana RPC client", "url", cfg.SolanaRPCURL)

	// Initialize swap aggregator client
	swapClient := swap.NewClient(cfg.SwapAPIBase, nil, logger)

	// Initialize NATS publisher (optional; events are skipped when unset)
	var publisher nats.Publisher
	if cfg.NATSURL != "" {
		jsPublisher, err := nats.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to initialize NATS publisher", "error", err)
			os.Exit(1)
		}
		defer jsPublisher.Close()
		publisher = jsPublisher
	} else {
		logger.Warn("NATS_URL not set, event publishing disabled")
	}

	// Initialize the settlement and distribution services
	settlementSvc := settlement.NewService(store, solanaClient, swapClient, poller, mint, publisher, m, logger)
	distributor := distribution.NewDistributor(
		store, solanaClient, poller,
		treasuryKey, mint,
		cfg.DistributionSettleDelay,
		publisher, m, logger,
	)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, store, settlementSvc, distributor, m, logger)

	logger.Info("server initialized, all dependencies ready",
		"solana_rpc", cfg.SolanaRPCURL,
		"swap_api", cfg.SwapAPIBase,
		"mint", mint.String(),
		"treasury", treasuryKey.PublicKey().String(),
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
