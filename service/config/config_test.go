package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ServerAddr:              ":8080",
		LogLevel:                "info",
		DatabaseURL:             "postgres://localhost/lotsettle",
		SolanaRPCURL:            "https://mainnet.helius-rpc.com/?api-key=test",
		TokenMintAddress:        "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		TreasurySecretKey:       "[1,2,3]",
		SwapAPIBase:             "https://swap-v2.solanatracker.io",
		ConfirmAttempts:         12,
		ConfirmDelay:            1500 * time.Millisecond,
		TxFetchAttempts:         4,
		TxFetchDelay:            1200 * time.Millisecond,
		DistributionSettleDelay: 500 * time.Millisecond,
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	// none of the required env vars are set in the test environment
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SOLANA_RPC_URL", "")
	t.Setenv("TOKEN_MINT_ADDRESS", "")
	t.Setenv("TREASURY_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
	assert.Contains(t, err.Error(), "TOKEN_MINT_ADDRESS is required")
	assert.Contains(t, err.Error(), "TREASURY_SECRET_KEY is required")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lotsettle")
	t.Setenv("SOLANA_RPC_URL", "https://mainnet.helius-rpc.com/?api-key=test")
	t.Setenv("TOKEN_MINT_ADDRESS", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	t.Setenv("TREASURY_SECRET_KEY", "[1,2,3]")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "https://swap-v2.solanatracker.io", cfg.SwapAPIBase)
	assert.Equal(t, 12, cfg.ConfirmAttempts)
	assert.Equal(t, 1500*time.Millisecond, cfg.ConfirmDelay)
	assert.Equal(t, 4, cfg.TxFetchAttempts)
	assert.Equal(t, 1200*time.Millisecond, cfg.TxFetchDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.DistributionSettleDelay)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lotsettle")
	t.Setenv("SOLANA_RPC_URL", "https://mainnet.helius-rpc.com/?api-key=test")
	t.Setenv("TOKEN_MINT_ADDRESS", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	t.Setenv("TREASURY_SECRET_KEY", "[1,2,3]")
	t.Setenv("CONFIRM_DELAY", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIRM_DELAY")
}

func TestValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.DatabaseURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestValidate_PollingBounds(t *testing.T) {
	cfg := validConfig()
	cfg.ConfirmAttempts = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfirmAttempts")

	cfg = validConfig()
	cfg.ConfirmDelay = 10 * time.Millisecond
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfirmDelay")
}
