package nats

import "time"

// SettlementEvent is published to "settlements.{listing_id}" when a purchase
// finalizes successfully.
type SettlementEvent struct {
	ListingID   string    `json:"listing_id"`
	UserID      string    `json:"user_id"`
	BuyerWallet string    `json:"buyer_wallet"`
	Signature   string    `json:"signature"`
	TokenAmount float64   `json:"token_amount"`
	PublishedAt time.Time `json:"published_at"`
}

// DistributionEvent is published to "distributions.{owner_wallet}" for each
// successful treasury transfer.
type DistributionEvent struct {
	OwnerWallet string    `json:"owner_wallet"`
	ListingIDs  []string  `json:"listing_ids"`
	TokenAmount float64   `json:"token_amount"`
	Signature   string    `json:"signature"`
	PublishedAt time.Time `json:"published_at"`
}
