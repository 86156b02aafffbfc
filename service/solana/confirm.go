package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/miiworld/lotsettle/service/metrics"
)

// Poller terminal errors. OnChainExecution is terminal for the signature:
// the transaction ran and failed, so re-polling (or worse, re-submitting)
// the same signature is never useful.
var (
	ErrOnChainExecution    = errors.New("transaction failed on-chain")
	ErrConfirmationTimeout = errors.New("transaction not confirmed after retries")
	ErrTransactionNotFound = errors.New("transaction body missing after confirmation")
)

// PollPolicy bounds the two polling loops. Status polling and body fetching
// are retried independently because the ledger's status and transaction-body
// indexes become consistent at different times.
type PollPolicy struct {
	ConfirmAttempts int
	ConfirmDelay    time.Duration
	TxFetchAttempts int
	TxFetchDelay    time.Duration
}

// DefaultPollPolicy matches the latency profile of a premium mainnet RPC:
// roughly 18s of status polling and 10s of body fetching worst-case.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		ConfirmAttempts: 12,
		ConfirmDelay:    1500 * time.Millisecond,
		TxFetchAttempts: 4,
		TxFetchDelay:    1200 * time.Millisecond,
	}
}

// ConfirmationPoller polls the ledger for transaction finality with bounded
// retries and fixed backoff.
type ConfirmationPoller struct {
	rpc     RPCClient
	policy  PollPolicy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewConfirmationPoller creates a poller over the given RPC client.
// If metrics is nil, no metrics will be recorded.
func NewConfirmationPoller(rpcClient RPCClient, policy PollPolicy, m *metrics.Metrics, logger *slog.Logger) *ConfirmationPoller {
	return &ConfirmationPoller{
		rpc:     rpcClient,
		policy:  policy,
		logger:  logger,
		metrics: m,
	}
}

// WaitForConfirmation polls signature status until the ledger reports the
// transaction confirmed or finalized. An absent status is pending, not a
// failure: ledger indexing lags broadcast. Returns ErrOnChainExecution if
// the transaction executed and failed, ErrConfirmationTimeout when attempts
// are exhausted.
func (p *ConfirmationPoller) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	for attempt := 1; attempt <= p.policy.ConfirmAttempts; attempt++ {
		out, err := p.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			// Transient RPC failure counts as an attempt; the status may
			// simply not be indexed yet.
			p.logger.WarnContext(ctx, "signature status fetch failed",
				"signature", sig.String(),
				"attempt", attempt,
				"error", err,
			)
			if p.metrics != nil {
				p.metrics.RecordRPCRetry("GetSignatureStatuses", "rpc_error")
			}
			if err := sleep(ctx, p.policy.ConfirmDelay); err != nil {
				return err
			}
			continue
		}

		var status *rpc.SignatureStatusesResult
		if out != nil && len(out.Value) > 0 {
			status = out.Value[0]
		}

		p.logger.DebugContext(ctx, "signature status",
			"signature", sig.String(),
			"attempt", attempt,
			"found", status != nil,
		)

		if status == nil {
			if err := sleep(ctx, p.policy.ConfirmDelay); err != nil {
				return err
			}
			continue
		}

		if status.Err != nil {
			return fmt.Errorf("%w: %v", ErrOnChainExecution, status.Err)
		}

		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized ||
			status.Confirmations == nil {
			return nil
		}

		if err := sleep(ctx, p.policy.ConfirmDelay); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %s", ErrConfirmationTimeout, sig)
}

// FetchTransaction retrieves the full transaction body after its status has
// confirmed, trying the confirmed commitment first and finalized as a
// fallback. Returns ErrTransactionNotFound if the body never materializes;
// a confirmed status with no body is reported, never treated as success.
func (p *ConfirmationPoller) FetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	commitments := []rpc.CommitmentType{rpc.CommitmentConfirmed, rpc.CommitmentFinalized}
	maxVersion := uint64(0)

	for _, commitment := range commitments {
		for attempt := 1; attempt <= p.policy.TxFetchAttempts; attempt++ {
			out, err := p.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
				Encoding:                       solana.EncodingBase64,
				Commitment:                     commitment,
				MaxSupportedTransactionVersion: &maxVersion,
			})
			if err != nil && !errors.Is(err, rpc.ErrNotFound) {
				p.logger.WarnContext(ctx, "transaction fetch failed",
					"signature", sig.String(),
					"commitment", string(commitment),
					"attempt", attempt,
					"error", err,
				)
				if p.metrics != nil {
					p.metrics.RecordRPCRetry("GetTransaction", "rpc_error")
				}
			}

			if err == nil && out != nil {
				return out, nil
			}

			if err := sleep(ctx, p.policy.TxFetchDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, sig)
}

// TransactionSubmitter broadcasts a signed transaction. *Client satisfies it.
type TransactionSubmitter interface {
	SubmitTransaction(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error)
}

// SubmitAndConfirm broadcasts the transaction and blocks until the poller
// observes the requested outcome. The submission itself happens at most
// once; any retry after this returns re-polls the returned signature.
func (p *ConfirmationPoller) SubmitAndConfirm(ctx context.Context, submitter TransactionSubmitter, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error) {
	sig, err := submitter.SubmitTransaction(ctx, tx, commitment)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := p.WaitForConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// sleep blocks for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
