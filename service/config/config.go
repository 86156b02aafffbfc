package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// Solana configuration
	SolanaRPCURL     string
	TokenMintAddress string

	// Treasury signing key. Accepted encodings: JSON number array,
	// base58, or base64. Decoded lazily by the solana package so that
	// a malformed key fails before any I/O, not mid-distribution.
	TreasurySecretKey string

	// Swap aggregator configuration
	SwapAPIBase string

	// NATS configuration (optional; empty disables event publishing)
	NATSURL string

	// Confirmation polling configuration
	ConfirmAttempts         int
	ConfirmDelay            time.Duration
	TxFetchAttempts         int
	TxFetchDelay            time.Duration
	DistributionSettleDelay time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// Solana configuration
	// For premium RPC endpoints, include the API key in the URL,
	// e.g. https://mainnet.helius-rpc.com/?api-key=YOUR-KEY
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.TokenMintAddress = os.Getenv("TOKEN_MINT_ADDRESS")
	if cfg.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TOKEN_MINT_ADDRESS is required"))
	}

	cfg.TreasurySecretKey = os.Getenv("TREASURY_SECRET_KEY")
	if cfg.TreasurySecretKey == "" {
		errs = append(errs, fmt.Errorf("TREASURY_SECRET_KEY is required"))
	}

	// Swap aggregator configuration
	cfg.SwapAPIBase = getEnvOrDefault("SWAP_API_BASE", "https://swap-v2.solanatracker.io")

	// NATS configuration (optional)
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Confirmation polling configuration
	confirmAttempts, err := parseInt("CONFIRM_ATTEMPTS", 12)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmAttempts = confirmAttempts
	}

	confirmDelay, err := parseDuration("CONFIRM_DELAY", "1500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmDelay = confirmDelay
	}

	txFetchAttempts, err := parseInt("TX_FETCH_ATTEMPTS", 4)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TxFetchAttempts = txFetchAttempts
	}

	txFetchDelay, err := parseDuration("TX_FETCH_DELAY", "1200ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TxFetchDelay = txFetchDelay
	}

	settleDelay, err := parseDuration("DISTRIBUTION_SETTLE_DELAY", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DistributionSettleDelay = settleDelay
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.TokenMintAddress == "" {
		errs = append(errs, fmt.Errorf("TokenMintAddress is required"))
	}

	if c.TreasurySecretKey == "" {
		errs = append(errs, fmt.Errorf("TreasurySecretKey is required"))
	}

	if c.SwapAPIBase == "" {
		errs = append(errs, fmt.Errorf("SwapAPIBase is required"))
	}

	if c.ConfirmAttempts < 1 {
		errs = append(errs, fmt.Errorf("ConfirmAttempts must be at least 1"))
	}

	if c.ConfirmDelay < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ConfirmDelay must be at least 100ms"))
	}

	if c.TxFetchAttempts < 1 {
		errs = append(errs, fmt.Errorf("TxFetchAttempts must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
