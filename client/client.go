// Package client provides an HTTP client for the lotsettle service API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Listing is a tokenized lot as returned by the server.
type Listing struct {
	ID            string    `json:"ID"`
	LotNumber     int64     `json:"LotNumber"`
	Tier          string    `json:"Tier"`
	RentYield     float64   `json:"RentYield"`
	PurchasePrice float64   `json:"PurchasePrice"`
	IsSold        bool      `json:"IsSold"`
	OwnerUserID   *string   `json:"OwnerUserID,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
}

// Quote is the create-phase response: an unsigned swap transaction plus the
// intent id the finalize call must echo back.
type Quote struct {
	IntentID    string    `json:"intentId"`
	ListingID   string    `json:"listingId"`
	Price       float64   `json:"price"`
	Txn         string    `json:"txn"`
	TxType      string    `json:"txType"`
	BuyerWallet string    `json:"buyerPubkey"`
	Mint        string    `json:"mint"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Settlement is the finalize-phase response.
type Settlement struct {
	ListingID           string  `json:"listingId"`
	UserID              string  `json:"owner"`
	TxID                string  `json:"txid"`
	TokenAmount         float64 `json:"tokenAmount"`
	InventoryReconciled bool    `json:"inventoryReconciled"`
}

// DistributionResult summarizes one distribution run.
type DistributionResult struct {
	Mint            string `json:"mint"`
	TotalRecipients int    `json:"totalRecipients"`
	Distributed     int    `json:"distributed"`
	Failed          int    `json:"failed"`
	Successes       []struct {
		OwnerWallet string   `json:"ownerWallet"`
		ListingIDs  []string `json:"listingIds"`
		TokenAmount float64  `json:"tokenAmount"`
		Signature   string   `json:"signature"`
		SolscanURL  string   `json:"solscanUrl"`
	} `json:"successes"`
	Failures []struct {
		OwnerWallet string  `json:"ownerWallet"`
		TokenAmount float64 `json:"tokenAmount"`
		Error       string  `json:"error"`
	} `json:"failures"`
}

// DistributionRecord is one logged treasury transfer.
type DistributionRecord struct {
	ID          int64     `json:"ID"`
	OwnerWallet string    `json:"OwnerWallet"`
	ListingIDs  []string  `json:"ListingIDs"`
	TokenAmount float64   `json:"TokenAmount"`
	Signature   string    `json:"Signature"`
	SolscanURL  string    `json:"SolscanURL"`
	CreatedAt   time.Time `json:"CreatedAt"`
}

// APIError is a non-2xx server response. Retry carries the server's retry
// disposition for settlement failures: "none", "repoll", or "fresh".
type APIError struct {
	StatusCode int
	Message    string
	Retry      string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is the HTTP client for the lotsettle service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new service client. A nil httpClient gets a 90s
// timeout, long enough to cover a worst-case finalize confirmation poll.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// CreatePurchaseParams are the inputs to CreatePurchase.
type CreatePurchaseParams struct {
	ListingID        string
	UserID           string
	BuyerPubkey      string
	Slippage         float64
	PriorityFee      string
	PriorityFeeLevel string
}

// CreatePurchase requests a quote and an unsigned swap transaction for a
// listing. The returned transaction must be signed and broadcast by the
// buyer's wallet, then confirmed with FinalizePurchase.
func (c *Client) CreatePurchase(ctx context.Context, params CreatePurchaseParams) (*Quote, error) {
	body := map[string]any{
		"mode":        "create",
		"listingId":   params.ListingID,
		"userId":      params.UserID,
		"buyerPubkey": params.BuyerPubkey,
		"slippage":    params.Slippage,
	}
	if params.PriorityFee != "" {
		body["priorityFee"] = params.PriorityFee
	}
	if params.PriorityFeeLevel != "" {
		body["priorityFeeLevel"] = params.PriorityFeeLevel
	}

	var out struct {
		Quote *Quote `json:"quote"`
	}
	if err := c.post(ctx, "/api/v1/purchases", body, &out); err != nil {
		return nil, err
	}
	if out.Quote == nil {
		return nil, fmt.Errorf("server response missing quote")
	}
	c.logger.Debug("purchase quote created", "listing_id", params.ListingID, "intent_id", out.Quote.IntentID)
	return out.Quote, nil
}

// FinalizePurchaseParams are the inputs to FinalizePurchase.
type FinalizePurchaseParams struct {
	ListingID        string
	UserID           string
	PurchaseIntentID string
	TxID             string
}

// FinalizePurchase confirms a broadcast swap transaction and transfers
// listing ownership. Safe to call again with the same txid if the server
// reported a retry disposition of "repoll".
func (c *Client) FinalizePurchase(ctx context.Context, params FinalizePurchaseParams) (*Settlement, error) {
	body := map[string]any{
		"mode":             "finalize",
		"listingId":        params.ListingID,
		"userId":           params.UserID,
		"purchaseIntentId": params.PurchaseIntentID,
		"txid":             params.TxID,
	}

	var out struct {
		Settlement *Settlement `json:"settlement"`
	}
	if err := c.post(ctx, "/api/v1/purchases", body, &out); err != nil {
		return nil, err
	}
	if out.Settlement == nil {
		return nil, fmt.Errorf("server response missing settlement")
	}
	return out.Settlement, nil
}

// RunDistribution triggers a treasury distribution run and returns its
// result. A partial run (some wallets paid, some failed) is returned without
// error; callers inspect Failed.
func (c *Client) RunDistribution(ctx context.Context) (*DistributionResult, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/distributions", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// 207 means partial success; the result body is still well-formed.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, c.parseErrorResponse(resp)
	}

	var out struct {
		Result *DistributionResult `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Result == nil {
		return nil, fmt.Errorf("server response missing result")
	}
	return out.Result, nil
}

// ListDistributions retrieves recent distribution records.
func (c *Client) ListDistributions(ctx context.Context, limit int) ([]*DistributionRecord, error) {
	u := c.baseURL + "/api/v1/distributions"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Distributions []*DistributionRecord `json:"distributions"`
	}
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Distributions, nil
}

// ListListings retrieves listings ordered by lot number.
func (c *Client) ListListings(ctx context.Context, limit int) ([]*Listing, error) {
	u := c.baseURL + "/api/v1/listings"
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Listings []*Listing `json:"listings"`
	}
	if err := c.get(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Listings, nil
}

// GetListing retrieves one listing by id.
func (c *Client) GetListing(ctx context.Context, id string) (*Listing, error) {
	var listing Listing
	if err := c.get(ctx, c.baseURL+"/api/v1/listings/"+url.PathEscape(id), &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Health checks the server's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body map[string]any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse extracts an error message and retry disposition from a
// non-2xx response body.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error string `json:"error"`
		Retry string `json:"retry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Retry = body.Retry
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
