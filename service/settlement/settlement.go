package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	"github.com/miiworld/lotsettle/service/db"
	"github.com/miiworld/lotsettle/service/metrics"
	"github.com/miiworld/lotsettle/service/nats"
	lsol "github.com/miiworld/lotsettle/service/solana"
	"github.com/miiworld/lotsettle/service/swap"
)

// MinSOLPurchaseBuffer is added to the listing price for the advisory
// balance check, covering network and priority fees.
const MinSOLPurchaseBuffer = 0.003

// DefaultIntentTTL bounds how long a quote stays valid between create and
// finalize.
const DefaultIntentTTL = 15 * time.Minute

// Store is the subset of database operations the settlement flow needs.
type Store interface {
	GetListing(ctx context.Context, id string) (*db.Listing, error)
	MarkListingSold(ctx context.Context, listingID, userID string) (bool, error)
	AppendUserItem(ctx context.Context, userID, listingID string) error
	CreateIntent(ctx context.Context, params db.CreateIntentParams) (*db.PurchaseIntent, error)
	GetIntent(ctx context.Context, id string) (*db.PurchaseIntent, error)
}

// Ledger is the subset of ledger reads the settlement flow needs.
type Ledger interface {
	GetNativeBalance(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) *uint64
}

// Swapper builds quotes and swap transactions via the external aggregator.
type Swapper interface {
	Rate(ctx context.Context, params swap.RateParams) (*swap.RateAmounts, error)
	BuildSwap(ctx context.Context, params swap.SwapParams) (*swap.SwapResult, error)
}

// Confirmer polls the ledger for transaction finality.
type Confirmer interface {
	WaitForConfirmation(ctx context.Context, sig solana.Signature) error
	FetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
}

// Service implements the two-phase purchase settlement: create issues a
// quote and an unsigned swap transaction; the buyer signs and broadcasts it
// out-of-band; finalize confirms delivery on-chain and transitions listing
// ownership exactly once.
type Service struct {
	store     Store
	ledger    Ledger
	swapper   Swapper
	confirmer Confirmer
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mint      solana.PublicKey
	intentTTL time.Duration
}

// NewService creates a purchase settlement service. Publisher and metrics
// may be nil.
func NewService(
	store Store,
	ledger Ledger,
	swapper Swapper,
	confirmer Confirmer,
	mint solana.PublicKey,
	publisher nats.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		swapper:   swapper,
		confirmer: confirmer,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		mint:      mint,
		intentTTL: DefaultIntentTTL,
	}
}

// CreateParams are the inputs to the quote phase.
type CreateParams struct {
	ListingID        string
	UserID           string
	BuyerWallet      string
	Slippage         float64
	PriorityFee      string // numeric string or "auto"
	PriorityFeeLevel string
}

// Quote is the create-phase result: an unsigned swap transaction the buyer
// signs and broadcasts, plus the persisted intent id finalize will validate.
type Quote struct {
	IntentID    string            `json:"intentId"`
	ListingID   string            `json:"listingId"`
	Price       float64           `json:"price"`
	Txn         string            `json:"txn"`
	Rate        *swap.RateAmounts `json:"rate,omitempty"`
	TxType      string            `json:"txType"`
	BuyerWallet string            `json:"buyerPubkey"`
	Mint        string            `json:"mint"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

// Create validates the request, performs the advisory balance check, and
// requests a swap transaction from the aggregator. It mutates no listing or
// user state; the only persisted side effect is the purchase intent.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Quote, error) {
	start := time.Now()
	quote, err := s.create(ctx, params)
	s.record("create", err, time.Since(start))
	return quote, err
}

func (s *Service) create(ctx context.Context, params CreateParams) (*Quote, error) {
	buyer, err := solana.PublicKeyFromBase58(params.BuyerWallet)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid buyer wallet: %v", ErrValidation, err)
	}
	if params.Slippage < 0 || params.Slippage >= 100 {
		return nil, fmt.Errorf("%w: slippage must be in [0, 100)", ErrValidation)
	}

	listing, err := s.store.GetListing(ctx, params.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}
	if listing.IsSold {
		return nil, ErrAlreadySold
	}
	if listing.PurchasePrice <= 0 {
		return nil, fmt.Errorf("%w: listing has no valid price", ErrValidation)
	}

	// Advisory pre-flight: if the balance is known and clearly short, fail
	// before incurring the aggregator round-trips. An unknown balance never
	// blocks the purchase.
	required := listing.PurchasePrice + MinSOLPurchaseBuffer
	if lamports := s.ledger.GetNativeBalance(ctx, buyer, rpc.CommitmentProcessed); lamports != nil {
		balance := lsol.LamportsToSOL(*lamports)
		if balance+1e-9 < required {
			return nil, fmt.Errorf("%w: need %.3f SOL (price + fees) but wallet has %.3f SOL",
				ErrInsufficientFunds, required, balance)
		}
	}

	// Rate quote is informational; a failure here never blocks the swap build.
	rate, err := s.swapper.Rate(ctx, swap.RateParams{
		From:       lsol.WrappedSOLMint.String(),
		To:         s.mint.String(),
		Amount:     listing.PurchasePrice,
		AmountSide: "from",
		Slippage:   params.Slippage,
		Payer:      buyer.String(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "rate quote failed",
			"listing_id", params.ListingID,
			"error", err,
		)
		rate = nil
	}

	swapResult, err := s.swapper.BuildSwap(ctx, swap.SwapParams{
		From:             lsol.WrappedSOLMint.String(),
		To:               s.mint.String(),
		FromAmount:       listing.PurchasePrice,
		Slippage:         params.Slippage,
		Payer:            buyer.String(),
		PriorityFee:      params.PriorityFee,
		PriorityFeeLevel: params.PriorityFeeLevel,
	})
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.intentTTL)
	intent, err := s.store.CreateIntent(ctx, db.CreateIntentParams{
		ID:          uuid.NewString(),
		ListingID:   listing.ID,
		UserID:      params.UserID,
		BuyerWallet: buyer.String(),
		QuotedPrice: listing.PurchasePrice,
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "purchase quote created",
		"listing_id", listing.ID,
		"intent_id", intent.ID,
		"price_sol", listing.PurchasePrice,
		"buyer", buyer.String(),
	)

	if rate == nil {
		rate = swapResult.Rate
	}

	return &Quote{
		IntentID:    intent.ID,
		ListingID:   listing.ID,
		Price:       listing.PurchasePrice,
		Txn:         swapResult.Txn,
		Rate:        rate,
		TxType:      swapResult.Type,
		BuyerWallet: buyer.String(),
		Mint:        s.mint.String(),
		ExpiresAt:   expiresAt,
	}, nil
}

// FinalizeParams are the inputs to the confirmation phase.
type FinalizeParams struct {
	ListingID string
	UserID    string
	IntentID  string
	TxID      string
}

// Settlement is the finalize-phase result.
type Settlement struct {
	ListingID   string  `json:"listingId"`
	UserID      string  `json:"owner"`
	TxID        string  `json:"txid"`
	TokenAmount float64 `json:"tokenAmount"`

	// InventoryReconciled is false when the ownership transfer committed but
	// the owned-items append failed. The append is idempotent and keyed by
	// listing id, so re-running finalize (or an offline reconciliation)
	// repairs it without risking a second transfer.
	InventoryReconciled bool `json:"inventoryReconciled"`
}

// Finalize confirms the broadcast transaction on-chain, verifies the swap
// credited the expected mint to the buyer, and transitions listing ownership
// behind a conditional update so exactly one of any concurrent finalize
// calls succeeds.
func (s *Service) Finalize(ctx context.Context, params FinalizeParams) (*Settlement, error) {
	start := time.Now()
	settlement, err := s.finalize(ctx, params)
	s.record("finalize", err, time.Since(start))
	return settlement, err
}

func (s *Service) finalize(ctx context.Context, params FinalizeParams) (*Settlement, error) {
	sig, err := solana.SignatureFromBase58(params.TxID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid transaction signature: %v", ErrValidation, err)
	}

	intent, err := s.store.GetIntent(ctx, params.IntentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, ErrIntentNotFound
	}
	if intent.ListingID != params.ListingID || intent.UserID != params.UserID {
		return nil, ErrIntentMismatch
	}
	if time.Now().After(intent.ExpiresAt) {
		return nil, ErrIntentExpired
	}

	// Re-check sold state; time has passed since create. The conditional
	// update below remains the authoritative serialization point.
	listing, err := s.store.GetListing(ctx, params.ListingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}
	if listing.IsSold {
		return nil, ErrAlreadySold
	}

	if err := s.confirmer.WaitForConfirmation(ctx, sig); err != nil {
		return nil, err
	}

	result, err := s.confirmer.FetchTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	if lsol.TransactionFailed(result) {
		return nil, fmt.Errorf("%w: %v", lsol.ErrOnChainExecution, result.Meta.Err)
	}

	tokenBalance, ok := lsol.PostTokenBalanceForMint(result, s.mint)
	if !ok {
		return nil, ErrSwapOutputMissing
	}

	// A transaction that paid someone else must not credit this listing to
	// the claimed buyer.
	if tokenBalance.Owner != nil && tokenBalance.Owner.String() != intent.BuyerWallet {
		return nil, fmt.Errorf("%w: credited %s", ErrRecipientMismatch, tokenBalance.Owner.String())
	}

	amount := lsol.TokenBalanceUiAmount(tokenBalance)
	if amount <= 0 {
		return nil, ErrZeroOutput
	}

	sold, err := s.store.MarkListingSold(ctx, params.ListingID, params.UserID)
	if err != nil {
		return nil, err
	}
	if !sold {
		// A concurrent finalize won. The transfer already happened on-chain;
		// report the race distinctly and do nothing further.
		return nil, ErrAlreadySold
	}

	settlement := &Settlement{
		ListingID:           params.ListingID,
		UserID:              params.UserID,
		TxID:                params.TxID,
		TokenAmount:         amount,
		InventoryReconciled: true,
	}

	// Ownership is committed; the inventory append is a reconciliation step.
	// A failure here is reported but does not unwind the settlement.
	if err := s.store.AppendUserItem(ctx, params.UserID, params.ListingID); err != nil {
		s.logger.ErrorContext(ctx, "inventory append failed after ownership transfer",
			"listing_id", params.ListingID,
			"user_id", params.UserID,
			"error", err,
		)
		settlement.InventoryReconciled = false
	}

	s.logger.InfoContext(ctx, "purchase settled",
		"listing_id", params.ListingID,
		"user_id", params.UserID,
		"signature", params.TxID,
		"token_amount", amount,
	)

	if s.publisher != nil {
		event := &nats.SettlementEvent{
			ListingID:   params.ListingID,
			UserID:      params.UserID,
			BuyerWallet: intent.BuyerWallet,
			Signature:   params.TxID,
			TokenAmount: amount,
			PublishedAt: time.Now().UTC(),
		}
		if err := s.publisher.PublishSettlement(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "settlement event publish failed", "error", err)
		}
	}

	return settlement, nil
}

func (s *Service) record(phase string, err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadySold):
		outcome = "already_sold"
	case errors.Is(err, ErrValidation):
		outcome = "validation"
	case errors.Is(err, ErrInsufficientFunds):
		outcome = "insufficient_funds"
	case errors.Is(err, lsol.ErrOnChainExecution):
		outcome = "on_chain_error"
	case errors.Is(err, lsol.ErrConfirmationTimeout), errors.Is(err, lsol.ErrTransactionNotFound):
		outcome = "unconfirmed"
	default:
		outcome = "error"
	}
	s.metrics.RecordSettlement(phase, outcome, d.Seconds())
}
