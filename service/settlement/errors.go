package settlement

import (
	"errors"

	lsol "github.com/miiworld/lotsettle/service/solana"
)

// Settlement-flow errors. Each maps to a distinct failure the caller can act
// on; the HTTP layer translates them to status codes.
var (
	// ErrValidation covers bad input shape or range. No side effects have
	// occurred; safe to reject outright.
	ErrValidation = errors.New("invalid request")

	// ErrListingNotFound means the listing id resolves to nothing.
	ErrListingNotFound = errors.New("listing not found")

	// ErrAlreadySold is the benign race outcome: a concurrent settlement won
	// the conditional update, or the listing was sold before this call began.
	ErrAlreadySold = errors.New("listing already sold")

	// ErrInsufficientFunds is the advisory pre-flight rejection: the buyer's
	// known balance cannot cover price plus the fee buffer.
	ErrInsufficientFunds = errors.New("insufficient SOL balance")

	// ErrIntentNotFound means finalize referenced an intent that was never
	// created or has been purged.
	ErrIntentNotFound = errors.New("purchase intent not found")

	// ErrIntentMismatch means the intent exists but disagrees with the
	// claimed listing, user, or buyer wallet.
	ErrIntentMismatch = errors.New("purchase intent does not match request")

	// ErrIntentExpired means the quote lapsed before finalize.
	ErrIntentExpired = errors.New("purchase intent expired")

	// ErrSwapOutputMissing means the confirmed transaction's post balances
	// contain no entry for the configured mint.
	ErrSwapOutputMissing = errors.New("swap output mint not found in transaction")

	// ErrRecipientMismatch means the transaction credited a wallet other
	// than the claimed buyer.
	ErrRecipientMismatch = errors.New("swap output not credited to buyer wallet")

	// ErrZeroOutput means the swap credited a non-positive token amount.
	ErrZeroOutput = errors.New("swap output zero")
)

// RetryDisposition tells a caller what a failed finalize permits. Ledger
// transfers are not idempotent, so "retry" must distinguish a call that
// never touched the ledger from one whose submitted transaction has an
// unknown outcome.
type RetryDisposition int

const (
	// RetryNone: terminal. The signature executed and failed, the listing is
	// sold, or the request itself is invalid. Do not retry.
	RetryNone RetryDisposition = iota

	// RetryRepoll: the transaction was broadcast but its outcome is unknown.
	// Retry the finalize call with the SAME txid; never resubmit.
	RetryRepoll

	// RetryFresh: nothing was submitted. Safe to start over from create.
	RetryFresh
)

// DispositionOf classifies a settlement error into a retry disposition.
func DispositionOf(err error) RetryDisposition {
	switch {
	case err == nil:
		return RetryNone
	case errors.Is(err, lsol.ErrConfirmationTimeout),
		errors.Is(err, lsol.ErrTransactionNotFound):
		return RetryRepoll
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrListingNotFound),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrIntentNotFound),
		errors.Is(err, ErrIntentMismatch),
		errors.Is(err, ErrIntentExpired):
		return RetryFresh
	default:
		return RetryNone
	}
}
