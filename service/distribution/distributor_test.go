package distribution

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sort"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miiworld/lotsettle/service/db"
	"github.com/miiworld/lotsettle/service/nats"
	lsol "github.com/miiworld/lotsettle/service/solana"
)

var (
	testTreasury = solana.NewWallet().PrivateKey
	testMintAddr = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

func testMint() *lsol.Mint {
	return &lsol.Mint{
		Address:  testMintAddr,
		Decimals: 6,
		Program:  lsol.TokenProgramLegacy,
	}
}

type mockStore struct {
	listings  []*db.OwnedListing
	listErr   error
	records   []db.CreateDistributionParams
	createErr error
}

func (m *mockStore) ListOwnedListings(ctx context.Context) ([]*db.OwnedListing, error) {
	return m.listings, m.listErr
}

func (m *mockStore) CreateDistribution(ctx context.Context, params db.CreateDistributionParams) (*db.DistributionRecord, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.records = append(m.records, params)
	return &db.DistributionRecord{
		OwnerWallet: params.OwnerWallet,
		ListingIDs:  params.ListingIDs,
		TokenAmount: params.TokenAmount,
		Signature:   params.Signature,
		SolscanURL:  params.SolscanURL,
	}, nil
}

type mockLedger struct {
	mint       *lsol.Mint
	mintErr    error
	accounts   map[solana.PublicKey]bool // ATAs that already exist
	submitted  []*solana.Transaction
	submitErrs map[int]error // keyed by submit call index
}

func (m *mockLedger) GetMint(ctx context.Context, mintAddress solana.PublicKey, commitment rpc.CommitmentType) (*lsol.Mint, error) {
	return m.mint, m.mintErr
}

func (m *mockLedger) GetAccountInfo(ctx context.Context, address solana.PublicKey, commitment rpc.CommitmentType) (*rpc.Account, error) {
	if m.accounts[address] {
		return &rpc.Account{}, nil
	}
	return nil, nil
}

func (m *mockLedger) RecentBlockhash(ctx context.Context, commitment rpc.CommitmentType) (solana.Hash, error) {
	return solana.Hash{1}, nil
}

func (m *mockLedger) SubmitTransaction(ctx context.Context, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error) {
	idx := len(m.submitted)
	m.submitted = append(m.submitted, tx)
	if err, ok := m.submitErrs[idx]; ok {
		return solana.Signature{}, err
	}
	var sig solana.Signature
	sig[0] = byte(idx + 1)
	return sig, nil
}

type mockConfirmer struct {
	waitErr error
	calls   int // confirmation waits, counted after a successful submit
}

func (m *mockConfirmer) SubmitAndConfirm(ctx context.Context, submitter lsol.TransactionSubmitter, tx *solana.Transaction, commitment rpc.CommitmentType) (solana.Signature, error) {
	sig, err := submitter.SubmitTransaction(ctx, tx, commitment)
	if err != nil {
		return solana.Signature{}, err
	}
	m.calls++
	if m.waitErr != nil {
		return sig, m.waitErr
	}
	return sig, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

func ownedListing(id string, lot int64, yield float64, wallet *string) *db.OwnedListing {
	return &db.OwnedListing{
		Listing: db.Listing{
			ID:        id,
			LotNumber: lot,
			RentYield: yield,
			IsSold:    true,
		},
		OwnerWallet: wallet,
	}
}

// ledgerWithATAs returns a ledger where the treasury ATA and the given
// owners' ATAs already exist, so no create instructions are needed.
func ledgerWithATAs(t *testing.T, owners ...solana.PublicKey) *mockLedger {
	t.Helper()
	mint := testMint()
	accounts := make(map[solana.PublicKey]bool)
	treasuryATA, err := lsol.FindAssociatedTokenAddress(testTreasury.PublicKey(), mint.Address, mint.Program)
	require.NoError(t, err)
	accounts[treasuryATA] = true
	for _, owner := range owners {
		ata, err := lsol.FindAssociatedTokenAddress(owner, mint.Address, mint.Program)
		require.NoError(t, err)
		accounts[ata] = true
	}
	return &mockLedger{mint: mint, accounts: accounts}
}

func newTestDistributor(store Store, ledger Ledger, confirmer Confirmer, pub nats.Publisher) *Distributor {
	return NewDistributor(store, ledger, confirmer, testTreasury, testMintAddr, 1, pub, nil, testLogger())
}

// transferAmount decodes the token amount from the last instruction of a
// submitted transaction.
func transferAmount(t *testing.T, tx *solana.Transaction) uint64 {
	t.Helper()
	require.NotEmpty(t, tx.Message.Instructions)
	data := tx.Message.Instructions[len(tx.Message.Instructions)-1].Data
	require.Len(t, []byte(data), 9)
	require.Equal(t, byte(3), data[0])
	return binary.LittleEndian.Uint64(data[1:9])
}

func TestRun_AggregatesPerWallet(t *testing.T) {
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()
	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 1.5, strPtr(alice.String())),
		ownedListing("lot-2", 2, 2.5, strPtr(alice.String())),
		ownedListing("lot-3", 3, 4, strPtr(bob.String())),
	}}
	ledger := ledgerWithATAs(t, alice, bob)
	confirmer := &mockConfirmer{}
	pub := nats.NewMockPublisher()
	d := newTestDistributor(store, ledger, confirmer, pub)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRecipients)
	assert.Equal(t, 2, result.Distributed)
	assert.Zero(t, result.Failed)
	require.Len(t, result.Successes, 2)
	require.Len(t, ledger.submitted, 2, "one transfer per wallet, no ATA creations")
	assert.Equal(t, 2, confirmer.calls)

	byWallet := make(map[string]WalletResult)
	for _, s := range result.Successes {
		byWallet[s.OwnerWallet] = s
	}
	assert.Equal(t, float64(4), byWallet[alice.String()].TokenAmount)
	assert.ElementsMatch(t, []string{"lot-1", "lot-2"}, byWallet[alice.String()].ListingIDs)
	assert.ElementsMatch(t, []int64{1, 2}, byWallet[alice.String()].LotNumbers)
	assert.Equal(t, float64(4), byWallet[bob.String()].TokenAmount)

	require.Len(t, store.records, 2)
	assert.Contains(t, store.records[0].SolscanURL, lsol.SolscanTxURLPrefix)
	assert.Len(t, pub.Distributions(), 2)
}

func TestRun_TransferAmountUsesMintDecimals(t *testing.T) {
	alice := solana.NewWallet().PublicKey()
	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 1.5, strPtr(alice.String())),
	}}
	ledger := ledgerWithATAs(t, alice)
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ledger.submitted, 1)
	assert.Equal(t, uint64(1_500_000), transferAmount(t, ledger.submitted[0]))
}

func TestRun_SkipsUnpayableListings(t *testing.T) {
	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 1.5, nil),
		ownedListing("lot-2", 2, 1.5, strPtr("")),
		ownedListing("lot-3", 3, 1.5, strPtr("not-a-wallet")),
		ownedListing("lot-4", 4, 0, strPtr(solana.NewWallet().PublicKey().String())),
		ownedListing("lot-5", 5, -3, strPtr(solana.NewWallet().PublicKey().String())),
	}}
	ledger := &mockLedger{mint: testMint(), accounts: map[solana.PublicKey]bool{}}
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.TotalRecipients)
	assert.Empty(t, ledger.submitted, "nothing payable, nothing submitted")
}

func TestRun_DustPayoutSkippedNotFailed(t *testing.T) {
	dusty := solana.NewWallet().PublicKey()
	alice := solana.NewWallet().PublicKey()
	store := &mockStore{listings: []*db.OwnedListing{
		// 1e-10 tokens truncates to zero base units at 6 decimals.
		ownedListing("lot-1", 1, 1e-10, strPtr(dusty.String())),
		ownedListing("lot-2", 2, 1.5, strPtr(alice.String())),
	}}
	ledger := ledgerWithATAs(t, dusty, alice)
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalRecipients)
	assert.Equal(t, 1, result.Distributed)
	assert.Zero(t, result.Failed, "a sub-unit payout is skipped, not failed")
	assert.Empty(t, result.Failures)
	require.Len(t, ledger.submitted, 1, "no transaction submitted for the dust wallet")
	assert.Equal(t, alice.String(), result.Successes[0].OwnerWallet)
}

func TestRun_CreatesTreasuryATAWhenMissing(t *testing.T) {
	alice := solana.NewWallet().PublicKey()
	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 2, strPtr(alice.String())),
	}}
	// No ATAs exist at all: treasury ATA gets its own creation transaction,
	// the recipient ATA is created inside the transfer transaction.
	ledger := &mockLedger{mint: testMint(), accounts: map[solana.PublicKey]bool{}}
	confirmer := &mockConfirmer{}
	d := newTestDistributor(store, ledger, confirmer, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Distributed)
	require.Len(t, ledger.submitted, 2)
	// Creation transaction carries a single empty-data instruction.
	require.Len(t, ledger.submitted[0].Message.Instructions, 1)
	assert.Empty(t, []byte(ledger.submitted[0].Message.Instructions[0].Data))
	// Transfer transaction carries create + transfer.
	assert.Len(t, ledger.submitted[1].Message.Instructions, 2)
	assert.Equal(t, 2, confirmer.calls)
}

func TestRun_WalletFailureIsIsolated(t *testing.T) {
	walletA := solana.NewWallet().PublicKey()
	walletB := solana.NewWallet().PublicKey()
	wallets := []string{walletA.String(), walletB.String()}
	sort.Strings(wallets)

	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 1, strPtr(walletA.String())),
		ownedListing("lot-2", 2, 2, strPtr(walletB.String())),
	}}
	ledger := ledgerWithATAs(t, walletA, walletB)
	ledger.submitErrs = map[int]error{0: errors.New("blockhash expired")}
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Distributed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, wallets[0], result.Failures[0].OwnerWallet)
	assert.Contains(t, result.Failures[0].Error, "blockhash expired")
	require.Len(t, result.Successes, 1)
	assert.Equal(t, wallets[1], result.Successes[0].OwnerWallet)
	require.Len(t, store.records, 1, "only the confirmed transfer is recorded")
}

func TestRun_ConfirmationFailureCountsAsFailed(t *testing.T) {
	alice := solana.NewWallet().PublicKey()
	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 1, strPtr(alice.String())),
	}}
	ledger := ledgerWithATAs(t, alice)
	confirmer := &mockConfirmer{waitErr: lsol.ErrConfirmationTimeout}
	d := newTestDistributor(store, ledger, confirmer, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Distributed)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, store.records)
}

func TestRun_RecordWriteFailureDoesNotFailWallet(t *testing.T) {
	alice := solana.NewWallet().PublicKey()
	store := &mockStore{
		listings:  []*db.OwnedListing{ownedListing("lot-1", 1, 1, strPtr(alice.String()))},
		createErr: errors.New("db down"),
	}
	ledger := ledgerWithATAs(t, alice)
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	result, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Distributed)
	assert.Zero(t, result.Failed)
}

func TestRun_MintFetchFailureAbortsRun(t *testing.T) {
	store := &mockStore{}
	ledger := &mockLedger{mintErr: errors.New("rpc down")}
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	_, err := d.Run(context.Background())
	require.Error(t, err)
}

func TestRun_TransactionSignedByTreasury(t *testing.T) {
	alice := solana.NewWallet().PublicKey()
	store := &mockStore{listings: []*db.OwnedListing{
		ownedListing("lot-1", 1, 1, strPtr(alice.String())),
	}}
	ledger := ledgerWithATAs(t, alice)
	d := newTestDistributor(store, ledger, &mockConfirmer{}, nil)

	_, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, ledger.submitted, 1)
	tx := ledger.submitted[0]
	require.NotEmpty(t, tx.Signatures)
	require.NotEmpty(t, tx.Message.AccountKeys)
	assert.Equal(t, testTreasury.PublicKey(), tx.Message.AccountKeys[0], "treasury is the fee payer")
	assert.NoError(t, tx.VerifySignatures())
}
