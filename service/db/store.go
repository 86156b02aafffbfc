package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the service.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Listing represents a tokenized real-estate lot.
// Once IsSold is true the owner reference is non-null and immutable; the
// only mutation path is the conditional update in MarkListingSold.
type Listing struct {
	ID            string
	LotNumber     int64
	Tier          string
	RentYield     float64 // advertised yield, UI token units per run
	PurchasePrice float64 // in SOL
	IsSold        bool
	OwnerUserID   *string
	CreatedAt     time.Time
}

// OwnedListing is a listing joined to its owner's wallet address, used by
// the distribution run.
type OwnedListing struct {
	Listing
	OwnerWallet *string
}

// GetListing retrieves a listing by id. Returns (nil, nil) when no listing
// with that id exists.
func (s *Store) GetListing(ctx context.Context, id string) (*Listing, error) {
	var l Listing
	err := s.pool.QueryRow(ctx, `
		SELECT id, lot_number, tier, rent_yield, purchase_price, is_sold, owner_user_id, created_at
		FROM real_estate
		WHERE id = $1
	`, id).Scan(&l.ID, &l.LotNumber, &l.Tier, &l.RentYield, &l.PurchasePrice, &l.IsSold, &l.OwnerUserID, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return &l, nil
}

// ListOwnedListings retrieves every listing with a non-null owner, joined to
// the owner's wallet address. Listings whose owner has no wallet come back
// with a nil OwnerWallet; the distribution run skips them.
func (s *Store) ListOwnedListings(ctx context.Context) ([]*OwnedListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.lot_number, l.tier, l.rent_yield, l.purchase_price, l.is_sold,
		       l.owner_user_id, l.created_at, u.wallet_public_key
		FROM real_estate l
		JOIN users u ON u.id = l.owner_user_id
		WHERE l.owner_user_id IS NOT NULL
		ORDER BY l.lot_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list owned listings: %w", err)
	}
	defer rows.Close()

	var listings []*OwnedListing
	for rows.Next() {
		var l OwnedListing
		if err := rows.Scan(&l.ID, &l.LotNumber, &l.Tier, &l.RentYield, &l.PurchasePrice,
			&l.IsSold, &l.OwnerUserID, &l.CreatedAt, &l.OwnerWallet); err != nil {
			return nil, fmt.Errorf("scan owned listing: %w", err)
		}
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}

// MarkListingSold atomically transitions a listing to sold and assigns the
// owner, but only if it is still unsold. Returns false when the conditional
// update affected zero rows, meaning a concurrent settlement won the race.
func (s *Store) MarkListingSold(ctx context.Context, listingID, userID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE real_estate
		SET is_sold = true, owner_user_id = $2
		WHERE id = $1 AND is_sold = false
	`, listingID, userID)
	if err != nil {
		return false, fmt.Errorf("mark listing %s sold: %w", listingID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// User represents a platform user and their owned listings.
type User struct {
	ID              string
	WalletPublicKey *string
	Items           []string
	CreatedAt       time.Time
}

// GetUser retrieves a user by id. Returns (nil, nil) when absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, wallet_public_key, items, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.WalletPublicKey, &u.Items, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return &u, nil
}

// AppendUserItem appends a listing id to the user's owned-items list.
// Idempotent: appending an item already present is a no-op, so the
// settlement saga can safely re-run this step.
func (s *Store) AppendUserItem(ctx context.Context, userID, listingID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET items = array_append(items, $2)
		WHERE id = $1 AND NOT (items @> ARRAY[$2])
	`, userID, listingID)
	if err != nil {
		return fmt.Errorf("append item %s to user %s: %w", listingID, userID, err)
	}
	return nil
}

// PurchaseIntent is the persisted quote issued by the create step. Finalize
// must look it up and validate listing, buyer, and expiry before touching
// the ledger.
type PurchaseIntent struct {
	ID          string
	ListingID   string
	UserID      string
	BuyerWallet string
	QuotedPrice float64
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// CreateIntentParams contains the parameters for persisting a purchase intent.
type CreateIntentParams struct {
	ID          string
	ListingID   string
	UserID      string
	BuyerWallet string
	QuotedPrice float64
	ExpiresAt   time.Time
}

// CreateIntent persists a purchase intent.
func (s *Store) CreateIntent(ctx context.Context, params CreateIntentParams) (*PurchaseIntent, error) {
	var intent PurchaseIntent
	err := s.pool.QueryRow(ctx, `
		INSERT INTO purchase_intents (id, listing_id, user_id, buyer_wallet, quoted_price, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, listing_id, user_id, buyer_wallet, quoted_price, expires_at, created_at
	`, params.ID, params.ListingID, params.UserID, params.BuyerWallet, params.QuotedPrice,
		pgtype.Timestamptz{Time: params.ExpiresAt, Valid: true},
	).Scan(&intent.ID, &intent.ListingID, &intent.UserID, &intent.BuyerWallet,
		&intent.QuotedPrice, &intent.ExpiresAt, &intent.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	return &intent, nil
}

// GetIntent retrieves a purchase intent by id. Returns (nil, nil) when absent.
func (s *Store) GetIntent(ctx context.Context, id string) (*PurchaseIntent, error) {
	var intent PurchaseIntent
	err := s.pool.QueryRow(ctx, `
		SELECT id, listing_id, user_id, buyer_wallet, quoted_price, expires_at, created_at
		FROM purchase_intents
		WHERE id = $1
	`, id).Scan(&intent.ID, &intent.ListingID, &intent.UserID, &intent.BuyerWallet,
		&intent.QuotedPrice, &intent.ExpiresAt, &intent.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get intent %s: %w", id, err)
	}
	return &intent, nil
}

// DeleteExpiredIntents removes intents whose expiry has passed. Returns the
// number deleted.
func (s *Store) DeleteExpiredIntents(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM purchase_intents WHERE expires_at < $1
	`, pgtype.Timestamptz{Time: before, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("delete expired intents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DistributionRecord logs one successful treasury transfer. Append-only;
// never mutated or deleted by this system.
type DistributionRecord struct {
	ID          int64
	OwnerWallet string
	ListingIDs  []string
	TokenAmount float64
	Signature   string
	SolscanURL  string
	CreatedAt   time.Time
}

// CreateDistributionParams contains the parameters for logging a distribution.
type CreateDistributionParams struct {
	OwnerWallet string
	ListingIDs  []string
	TokenAmount float64
	Signature   string
	SolscanURL  string
}

// CreateDistribution appends a distribution record.
func (s *Store) CreateDistribution(ctx context.Context, params CreateDistributionParams) (*DistributionRecord, error) {
	var rec DistributionRecord
	err := s.pool.QueryRow(ctx, `
		INSERT INTO token_distributions (owner_wallet, listing_ids, token_amount, signature, solscan_url)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, owner_wallet, listing_ids, token_amount, signature, solscan_url, created_at
	`, params.OwnerWallet, params.ListingIDs, params.TokenAmount, params.Signature, params.SolscanURL,
	).Scan(&rec.ID, &rec.OwnerWallet, &rec.ListingIDs, &rec.TokenAmount,
		&rec.Signature, &rec.SolscanURL, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create distribution record: %w", err)
	}
	return &rec, nil
}

// ListDistributions retrieves the most recent distribution records.
func (s *Store) ListDistributions(ctx context.Context, limit int32) ([]*DistributionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_wallet, listing_ids, token_amount, signature, solscan_url, created_at
		FROM token_distributions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	var records []*DistributionRecord
	for rows.Next() {
		var rec DistributionRecord
		if err := rows.Scan(&rec.ID, &rec.OwnerWallet, &rec.ListingIDs, &rec.TokenAmount,
			&rec.Signature, &rec.SolscanURL, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan distribution record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// ListListings retrieves listings ordered by lot number, for operator
// inspection via the CLI.
func (s *Store) ListListings(ctx context.Context, limit int32) ([]*Listing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lot_number, tier, rent_yield, purchase_price, is_sold, owner_user_id, created_at
		FROM real_estate
		ORDER BY lot_number
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	var listings []*Listing
	for rows.Next() {
		var l Listing
		if err := rows.Scan(&l.ID, &l.LotNumber, &l.Tier, &l.RentYield, &l.PurchasePrice,
			&l.IsSold, &l.OwnerUserID, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, &l)
	}
	return listings, rows.Err()
}
