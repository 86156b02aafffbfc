package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/miiworld/lotsettle/service/metrics"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetAccountInfoWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetBalanceResult, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		signatures ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)

	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)
}

// Client wraps the RPC client with the domain-specific ledger operations the
// settlement and distribution flows need. It holds no state beyond its
// dependencies; every method is a straight pass-through to the external
// ledger with logging and metrics.
type Client struct {
	rpc      RPCClient
	logger   *slog.Logger
	metrics  *metrics.Metrics
	endpoint string // RPC endpoint identifier for metrics labeling
}

// NewClient creates a new Solana client.
// The endpoint parameter is used for metrics labeling (e.g., "mainnet" or RPC hostname).
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:      rpcClient,
		logger:   logger,
		metrics:  m,
		endpoint: endpoint,
	}
}

// GetAccountInfo fetches an account at the given commitment level.
// Returns (nil, nil) when the account does not exist.
func (c *Client) GetAccountInfo(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*rpc.Account, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Commitment: commitment,
	})
	c.recordRPC("GetAccountInfo", err, time.Since(start))

	if errors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}
	return out.Value, nil
}

// GetMint fetches and decodes the mint account, resolving which of the two
// supported token programs owns it. Callers fetch this once per run and cache
// the result for the run's duration.
func (c *Client) GetMint(ctx context.Context, mintAddress solana.PublicKey, commitment rpc.CommitmentType) (*Mint, error) {
	account, err := c.GetAccountInfo(ctx, mintAddress, commitment)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("mint account not found: %s", mintAddress)
	}

	program, err := TokenProgramFromOwner(account.Owner)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", mintAddress, err)
	}

	var mint token.Mint
	if err := bin.NewBinDecoder(account.Data.GetBinary()).Decode(&mint); err != nil {
		return nil, fmt.Errorf("decode mint %s: %w", mintAddress, err)
	}

	c.logger.DebugContext(ctx, "resolved mint",
		"mint", mintAddress.String(),
		"decimals", mint.Decimals,
		"program", program.String(),
	)

	return &Mint{
		Address:  mintAddress,
		Decimals: mint.Decimals,
		Program:  program,
	}, nil
}

// GetNativeBalance returns the account's lamport balance, or nil on any
// failure. Balance checks are advisory pre-flight only, never authoritative,
// so errors are logged and swallowed rather than propagated.
func (c *Client) GetNativeBalance(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) *uint64 {
	start := time.Now()
	out, err := c.rpc.GetBalance(ctx, address, commitment)
	c.recordRPC("GetBalance", err, time.Since(start))

	if err != nil {
		c.logger.WarnContext(ctx, "balance fetch failed",
			"address", address.String(),
			"error", err,
		)
		return nil
	}
	if out == nil {
		return nil
	}
	balance := out.Value
	return &balance
}

// SubmitTransaction broadcasts a signed transaction and returns its
// signature. It does not wait for confirmation; pair with a
// ConfirmationPoller for that. Submission is NOT idempotent: re-submitting
// after an unknown outcome risks a duplicate on-chain transfer.
func (c *Client) SubmitTransaction(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: commitment,
	})
	c.recordRPC("SendTransaction", err, time.Since(start))

	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}

	c.logger.InfoContext(ctx, "transaction submitted", "signature", sig.String())
	return sig, nil
}

// RecentBlockhash fetches the latest blockhash for transaction construction.
func (c *Client) RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, commitment)
	c.recordRPC("GetLatestBlockhash", err, time.Since(start))

	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

func (c *Client) recordRPC(method string, err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil && !errors.Is(err, rpc.ErrNotFound) {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, d.Seconds())
}
