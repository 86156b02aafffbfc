// Package distribution implements the periodic treasury payout: every owned
// listing's advertised yield is aggregated per owner wallet and paid out as
// one SPL token transfer from the treasury per recipient.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/miiworld/lotsettle/service/db"
	"github.com/miiworld/lotsettle/service/metrics"
	"github.com/miiworld/lotsettle/service/nats"
	lsol "github.com/miiworld/lotsettle/service/solana"
)

// DefaultSettleDelay is the pause after creating the treasury's own token
// account, giving the ledger time to make the new account visible to the
// transfers that follow.
const DefaultSettleDelay = 500 * time.Millisecond

// Store is the subset of database operations the distribution run needs.
type Store interface {
	ListOwnedListings(ctx context.Context) ([]*db.OwnedListing, error)
	CreateDistribution(ctx context.Context, params db.CreateDistributionParams) (*db.DistributionRecord, error)
}

// Ledger is the subset of ledger operations the distribution run needs.
// *solana.Client satisfies it.
type Ledger interface {
	GetMint(ctx context.Context, mintAddress solana.PublicKey, commitment rpc.CommitmentType) (*lsol.Mint, error)
	GetAccountInfo(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*rpc.Account, error)
	RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, error)
	SubmitTransaction(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error)
}

// Confirmer blocks until a submitted transaction confirms.
type Confirmer interface {
	SubmitAndConfirm(ctx context.Context, submitter lsol.TransactionSubmitter, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error)
}

// Distributor runs treasury distributions. One wallet's failure never
// aborts the run; each recipient is settled independently.
type Distributor struct {
	store     Store
	ledger    Ledger
	confirmer Confirmer
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	treasury    solana.PrivateKey
	treasuryPub solana.PublicKey
	mint        solana.PublicKey
	settleDelay time.Duration
}

// NewDistributor creates a Distributor. Publisher and metrics may be nil.
func NewDistributor(
	store Store,
	ledger Ledger,
	confirmer Confirmer,
	treasury solana.PrivateKey,
	mint solana.PublicKey,
	settleDelay time.Duration,
	publisher nats.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Distributor {
	if settleDelay <= 0 {
		settleDelay = DefaultSettleDelay
	}
	return &Distributor{
		store:       store,
		ledger:      ledger,
		confirmer:   confirmer,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		treasury:    treasury,
		treasuryPub: treasury.PublicKey(),
		mint:        mint,
		settleDelay: settleDelay,
	}
}

// WalletResult is one successful payout.
type WalletResult struct {
	OwnerWallet string   `json:"ownerWallet"`
	ListingIDs  []string `json:"listingIds"`
	LotNumbers  []int64  `json:"lotNumbers"`
	TokenAmount float64  `json:"tokenAmount"`
	Signature   string   `json:"signature"`
	SolscanURL  string   `json:"solscanUrl"`
}

// WalletFailure is one failed payout. Other recipients are unaffected.
type WalletFailure struct {
	OwnerWallet string   `json:"ownerWallet"`
	ListingIDs  []string `json:"listingIds"`
	TokenAmount float64  `json:"tokenAmount"`
	Error       string   `json:"error"`
}

// RunResult summarizes one distribution run.
type RunResult struct {
	Mint            string          `json:"mint"`
	TotalRecipients int             `json:"totalRecipients"`
	Distributed     int             `json:"distributed"`
	Failed          int             `json:"failed"`
	Successes       []WalletResult  `json:"successes"`
	Failures        []WalletFailure `json:"failures"`
}

type walletPayout struct {
	owner      solana.PublicKey
	tokens     float64
	listingIDs []string
	lotNumbers []int64
}

// Run executes one distribution pass: aggregate yields per owner wallet,
// ensure the treasury's token account exists, then pay each wallet with a
// single transfer. Returns an error only when the run cannot start at all;
// per-wallet failures are reported in the result.
func (d *Distributor) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result, err := d.run(ctx)
	if d.metrics != nil {
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case result.Failed > 0 && result.Distributed > 0:
			outcome = "partial"
		case result.Failed > 0:
			outcome = "failed"
		}
		d.metrics.RecordDistributionRun(outcome, time.Since(start).Seconds())
	}
	return result, err
}

func (d *Distributor) run(ctx context.Context) (*RunResult, error) {
	mint, err := d.ledger.GetMint(ctx, d.mint, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("fetch mint %s: %w", d.mint, err)
	}

	listings, err := d.store.ListOwnedListings(ctx)
	if err != nil {
		return nil, err
	}

	payouts := d.aggregate(ctx, listings)
	result := &RunResult{
		Mint:            d.mint.String(),
		TotalRecipients: len(payouts),
	}
	if len(payouts) == 0 {
		d.logger.InfoContext(ctx, "distribution run found no payable owners")
		return result, nil
	}

	treasuryATA, err := d.ensureTreasuryATA(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("ensure treasury token account: %w", err)
	}

	// Deterministic order keeps runs comparable across invocations.
	wallets := make([]string, 0, len(payouts))
	for w := range payouts {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	for _, wallet := range wallets {
		payout := payouts[wallet]
		res, err := d.payWallet(ctx, mint, treasuryATA, payout)
		if errors.Is(err, lsol.ErrInvalidAmount) {
			// Nothing was submitted; the aggregated yield is below one base
			// unit at this mint's precision.
			d.logger.WarnContext(ctx, "skipping wallet with sub-unit payout",
				"owner_wallet", wallet,
				"token_amount", payout.tokens,
				"error", err,
			)
			continue
		}
		if err != nil {
			d.logger.ErrorContext(ctx, "distribution transfer failed",
				"owner_wallet", wallet,
				"token_amount", payout.tokens,
				"error", err,
			)
			if d.metrics != nil {
				d.metrics.RecordDistributionTransfer("error", 0)
			}
			result.Failed++
			result.Failures = append(result.Failures, WalletFailure{
				OwnerWallet: wallet,
				ListingIDs:  payout.listingIDs,
				TokenAmount: payout.tokens,
				Error:       err.Error(),
			})
			continue
		}
		if d.metrics != nil {
			d.metrics.RecordDistributionTransfer("success", res.TokenAmount)
		}
		result.Distributed++
		result.Successes = append(result.Successes, *res)
	}

	d.logger.InfoContext(ctx, "distribution run complete",
		"recipients", result.TotalRecipients,
		"distributed", result.Distributed,
		"failed", result.Failed,
	)
	return result, nil
}

// aggregate folds owned listings into one payout per owner wallet. Listings
// with no wallet, an unparseable wallet, or a non-positive yield are skipped
// with a log line rather than failing the run.
func (d *Distributor) aggregate(ctx context.Context, listings []*db.OwnedListing) map[string]*walletPayout {
	payouts := make(map[string]*walletPayout)
	for _, l := range listings {
		if l.OwnerWallet == nil || *l.OwnerWallet == "" {
			d.logger.WarnContext(ctx, "skipping listing with no owner wallet", "listing_id", l.ID)
			continue
		}
		if l.RentYield <= 0 || math.IsNaN(l.RentYield) || math.IsInf(l.RentYield, 0) {
			d.logger.WarnContext(ctx, "skipping listing with no payable yield",
				"listing_id", l.ID,
				"rent_yield", l.RentYield,
			)
			continue
		}
		owner, err := solana.PublicKeyFromBase58(*l.OwnerWallet)
		if err != nil {
			d.logger.WarnContext(ctx, "skipping listing with invalid owner wallet",
				"listing_id", l.ID,
				"owner_wallet", *l.OwnerWallet,
			)
			continue
		}
		p, ok := payouts[owner.String()]
		if !ok {
			p = &walletPayout{owner: owner}
			payouts[owner.String()] = p
		}
		p.tokens += l.RentYield
		p.listingIDs = append(p.listingIDs, l.ID)
		p.lotNumbers = append(p.lotNumbers, l.LotNumber)
	}
	return payouts
}

// ensureTreasuryATA derives the treasury's associated token account and
// creates it if absent, pausing afterwards so subsequent transfers see it.
func (d *Distributor) ensureTreasuryATA(ctx context.Context, mint *lsol.Mint) (solana.PublicKey, error) {
	ata, err := lsol.FindAssociatedTokenAddress(d.treasuryPub, mint.Address, mint.Program)
	if err != nil {
		return solana.PublicKey{}, err
	}

	account, err := d.ledger.GetAccountInfo(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if account != nil {
		return ata, nil
	}

	d.logger.InfoContext(ctx, "creating treasury token account", "ata", ata.String())
	ix := lsol.NewCreateAssociatedTokenAccountInstruction(d.treasuryPub, ata, d.treasuryPub, mint.Address, mint.Program)
	if _, err := d.submitSigned(ctx, []solana.Instruction{ix}); err != nil {
		return solana.PublicKey{}, err
	}
	if err := sleep(ctx, d.settleDelay); err != nil {
		return solana.PublicKey{}, err
	}
	return ata, nil
}

// payWallet transfers one wallet's aggregated yield, creating the recipient
// token account in the same transaction when it does not exist yet.
func (d *Distributor) payWallet(ctx context.Context, mint *lsol.Mint, treasuryATA solana.PublicKey, payout *walletPayout) (*WalletResult, error) {
	amount, err := lsol.ToBaseUnits(payout.tokens, mint.Decimals)
	if err != nil {
		return nil, fmt.Errorf("convert %f tokens: %w", payout.tokens, err)
	}

	recipientATA, err := lsol.FindAssociatedTokenAddress(payout.owner, mint.Address, mint.Program)
	if err != nil {
		return nil, err
	}

	var instructions []solana.Instruction
	account, err := d.ledger.GetAccountInfo(ctx, recipientATA, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, err
	}
	if account == nil {
		instructions = append(instructions,
			lsol.NewCreateAssociatedTokenAccountInstruction(d.treasuryPub, recipientATA, payout.owner, mint.Address, mint.Program))
	}
	instructions = append(instructions,
		lsol.NewTokenTransferInstruction(treasuryATA, recipientATA, d.treasuryPub, amount, mint.Program))

	sig, err := d.submitSigned(ctx, instructions)
	if err != nil {
		return nil, err
	}

	res := &WalletResult{
		OwnerWallet: payout.owner.String(),
		ListingIDs:  payout.listingIDs,
		LotNumbers:  payout.lotNumbers,
		TokenAmount: payout.tokens,
		Signature:   sig.String(),
		SolscanURL:  lsol.SolscanTxURLPrefix + sig.String(),
	}

	// The transfer is confirmed on-chain; record-keeping failures are
	// reported but do not convert a paid wallet into a failure.
	if _, err := d.store.CreateDistribution(ctx, db.CreateDistributionParams{
		OwnerWallet: res.OwnerWallet,
		ListingIDs:  res.ListingIDs,
		TokenAmount: res.TokenAmount,
		Signature:   res.Signature,
		SolscanURL:  res.SolscanURL,
	}); err != nil {
		d.logger.ErrorContext(ctx, "distribution record write failed after confirmed transfer",
			"owner_wallet", res.OwnerWallet,
			"signature", res.Signature,
			"error", err,
		)
	}

	if d.publisher != nil {
		event := &nats.DistributionEvent{
			OwnerWallet: res.OwnerWallet,
			ListingIDs:  res.ListingIDs,
			TokenAmount: res.TokenAmount,
			Signature:   res.Signature,
			PublishedAt: time.Now().UTC(),
		}
		if err := d.publisher.PublishDistribution(ctx, event); err != nil {
			d.logger.WarnContext(ctx, "distribution event publish failed", "error", err)
		}
	}

	d.logger.InfoContext(ctx, "distribution transfer confirmed",
		"owner_wallet", res.OwnerWallet,
		"token_amount", res.TokenAmount,
		"signature", res.Signature,
	)
	return res, nil
}

// submitSigned builds a treasury-signed transaction from the instructions,
// broadcasts it, and blocks until it confirms.
func (d *Distributor) submitSigned(ctx context.Context, instructions []solana.Instruction) (solana.Signature, error) {
	blockhash, err := d.ledger.RecentBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solana.Signature{}, err
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(d.treasuryPub))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(d.treasuryPub) {
			return &d.treasury
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	return d.confirmer.SubmitAndConfirm(ctx, d.ledger, tx, rpc.CommitmentConfirmed)
}

func sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
