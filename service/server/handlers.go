package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/miiworld/lotsettle/service/db"
	"github.com/miiworld/lotsettle/service/distribution"
	"github.com/miiworld/lotsettle/service/settlement"
	lsol "github.com/miiworld/lotsettle/service/solana"
	"github.com/miiworld/lotsettle/service/swap"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB

	defaultListLimit = 100
	maxListLimit     = 1000
)

// SettlementService is the settlement surface the purchase handler needs.
// *settlement.Service satisfies it.
type SettlementService interface {
	Create(ctx context.Context, params settlement.CreateParams) (*settlement.Quote, error)
	Finalize(ctx context.Context, params settlement.FinalizeParams) (*settlement.Settlement, error)
}

// DistributionRunner is the distribution surface the trigger handler needs.
// *distribution.Distributor satisfies it.
type DistributionRunner interface {
	Run(ctx context.Context) (*distribution.RunResult, error)
}

// ListingStore is the read surface the lookup handlers need. *db.Store
// satisfies it.
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*db.Listing, error)
	ListListings(ctx context.Context, limit int32) ([]*db.Listing, error)
	ListDistributions(ctx context.Context, limit int32) ([]*db.DistributionRecord, error)
}

// purchaseRequest is the body of POST /api/v1/purchases. Mode selects the
// phase: "create" quotes and returns an unsigned swap transaction,
// "finalize" confirms a broadcast signature and transfers ownership.
type purchaseRequest struct {
	Mode             string  `json:"mode"`
	ListingID        string  `json:"listingId"`
	UserID           string  `json:"userId"`
	BuyerPubkey      string  `json:"buyerPubkey,omitempty"`
	Slippage         float64 `json:"slippage,omitempty"`
	PriorityFee      string  `json:"priorityFee,omitempty"`
	PriorityFeeLevel string  `json:"priorityFeeLevel,omitempty"`
	PurchaseIntentID string  `json:"purchaseIntentId,omitempty"`
	TxID             string  `json:"txid,omitempty"`
}

// handlePurchase dispatches the two settlement phases on the mode field.
// POST /api/v1/purchases
func handlePurchase(svc SettlementService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req purchaseRequest
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.ListingID == "" || req.UserID == "" {
			writeError(w, "listingId and userId are required", http.StatusBadRequest)
			return
		}

		switch req.Mode {
		case "create":
			quote, err := svc.Create(r.Context(), settlement.CreateParams{
				ListingID:        req.ListingID,
				UserID:           req.UserID,
				BuyerWallet:      req.BuyerPubkey,
				Slippage:         req.Slippage,
				PriorityFee:      req.PriorityFee,
				PriorityFeeLevel: req.PriorityFeeLevel,
			})
			if err != nil {
				logger.Error("purchase create failed",
					"listing_id", req.ListingID,
					"user_id", req.UserID,
					"error", err,
				)
				writeSettlementError(w, err)
				return
			}
			writeJSON(w, map[string]any{"success": true, "quote": quote}, http.StatusOK)

		case "finalize":
			if req.TxID == "" || req.PurchaseIntentID == "" {
				writeError(w, "txid and purchaseIntentId are required to finalize", http.StatusBadRequest)
				return
			}
			result, err := svc.Finalize(r.Context(), settlement.FinalizeParams{
				ListingID: req.ListingID,
				UserID:    req.UserID,
				IntentID:  req.PurchaseIntentID,
				TxID:      req.TxID,
			})
			if err != nil {
				logger.Error("purchase finalize failed",
					"listing_id", req.ListingID,
					"user_id", req.UserID,
					"txid", req.TxID,
					"error", err,
				)
				writeSettlementError(w, err)
				return
			}
			writeJSON(w, map[string]any{"success": true, "settlement": result}, http.StatusOK)

		default:
			writeError(w, "mode must be \"create\" or \"finalize\"", http.StatusBadRequest)
		}
	})
}

// handleRunDistribution triggers a distribution run synchronously.
// POST /api/v1/distributions
func handleRunDistribution(d DistributionRunner, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The caller's scheduler owns run cadence; detach from the request
		// deadline so a slow run is not cut off mid-transfer.
		result, err := d.Run(context.WithoutCancel(r.Context()))
		if err != nil {
			logger.Error("distribution run failed to start", "error", err)
			writeError(w, err.Error(), http.StatusInternalServerError)
			return
		}

		status := http.StatusOK
		switch {
		case result.Failed > 0 && result.Distributed > 0:
			status = http.StatusMultiStatus
		case result.Failed > 0:
			status = http.StatusInternalServerError
		}
		writeJSON(w, map[string]any{
			"success": result.Failed == 0,
			"result":  result,
		}, status)
	})
}

// handleListDistributions returns recent distribution records.
// GET /api/v1/distributions?limit={n}
func handleListDistributions(store ListingStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.ListDistributions(r.Context(), limit)
		if err != nil {
			logger.Error("failed to list distributions", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"distributions": records}, http.StatusOK)
	})
}

// handleListListings returns listings ordered by lot number.
// GET /api/v1/listings?limit={n}
func handleListListings(store ListingStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, err := parseLimit(r.URL.Query().Get("limit"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		listings, err := store.ListListings(r.Context(), limit)
		if err != nil {
			logger.Error("failed to list listings", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"listings": listings}, http.StatusOK)
	})
}

// handleGetListing returns one listing.
// GET /api/v1/listings/{id}
func handleGetListing(store ListingStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		listing, err := store.GetListing(r.Context(), id)
		if err != nil {
			logger.Error("failed to get listing", "listing_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if listing == nil {
			writeError(w, "listing not found", http.StatusNotFound)
			return
		}
		writeJSON(w, listing, http.StatusOK)
	})
}

// writeSettlementError maps settlement failures to HTTP statuses. The body
// always carries the retry disposition so clients know whether to re-poll
// the same signature or start over.
func writeSettlementError(w http.ResponseWriter, err error) {
	status := http.StatusUnprocessableEntity
	var apiErr *swap.APIError
	switch {
	case errors.Is(err, settlement.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, settlement.ErrListingNotFound),
		errors.Is(err, settlement.ErrIntentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, settlement.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, settlement.ErrAlreadySold),
		errors.Is(err, settlement.ErrIntentExpired),
		errors.Is(err, settlement.ErrIntentMismatch):
		status = http.StatusConflict
	case errors.Is(err, lsol.ErrConfirmationTimeout),
		errors.Is(err, lsol.ErrTransactionNotFound):
		status = http.StatusGatewayTimeout
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}

	var retry string
	switch settlement.DispositionOf(err) {
	case settlement.RetryRepoll:
		retry = "repoll"
	case settlement.RetryFresh:
		retry = "fresh"
	default:
		retry = "none"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
		"retry":   retry,
	})
}

func parseLimit(raw string) (int32, error) {
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errors.New("limit must be an integer between 1 and 1000")
	}
	return int32(n), nil
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
