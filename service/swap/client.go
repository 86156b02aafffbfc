package swap

import (
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

// Client talks to the external token-swap aggregator. It exposes the two
// read endpoints the settlement flow needs: a rate quote and a
// swap-transaction build. Both are side-effect free on the ledger.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new aggregator client. If httpClient is nil a default
// client with a 30s timeout is used.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Rate fetches a rate quote for the given pair and amount.
func (c *Client) Rate(ctx context.Context, params RateParams) (*RateAmounts, error) {
	q := url.Values{}
	q.Set("from", params.From)
	q.Set("to", params.To)
	q.Set("amount", formatAmount(params.Amount))
	q.Set("amountSide", params.AmountSide)
	q.Set("slippage", formatAmount(params.Slippage))
	q.Set("payer", params.Payer)
	q.Set("txVersion", "v0")

	body, err := c.get(ctx, "rate", q)
	if err != nil {
		return nil, err
	}

	// The rate payload may nest amounts under "rate" or return them at the
	// top level depending on the aggregator version.
	var envelope struct {
		RateAmounts
		Rate *RateAmounts `json:"rate"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("rate response parse error: %w", err)
	}

	amounts := envelope.RateAmounts
	if envelope.Rate != nil {
		if amounts.AmountIn == 0 {
			amounts.AmountIn = envelope.Rate.AmountIn
		}
		if amounts.AmountOut == 0 {
			amounts.AmountOut = envelope.Rate.AmountOut
		}
		if amounts.MinAmountOut == 0 {
			amounts.MinAmountOut = envelope.Rate.MinAmountOut
		}
	}

	c.logger.DebugContext(ctx, "rate quote",
		"from", params.From,
		"to", params.To,
		"amount_in", amounts.AmountIn,
		"amount_out", amounts.AmountOut,
	)

	return &amounts, nil
}

// BuildSwap requests an unsigned swap transaction payload from the
// aggregator. The caller (the buyer's client) signs and broadcasts it.
func (c *Client) BuildSwap(ctx context.Context, params SwapParams) (*SwapResult, error) {
	q := url.Values{}
	q.Set("from", params.From)
	q.Set("to", params.To)
	q.Set("fromAmount", formatAmount(params.FromAmount))
	q.Set("slippage", formatAmount(params.Slippage))
	q.Set("payer", params.Payer)
	q.Set("txVersion", "v0")
	q.Set("feeType", "add")
	if params.PriorityFee != "" {
		q.Set("priorityFee", params.PriorityFee)
	}
	if params.PriorityFee == "auto" && params.PriorityFeeLevel != "" {
		q.Set("priorityFeeLevel", params.PriorityFeeLevel)
	}

	body, err := c.get(ctx, "swap", q)
	if err != nil {
		return nil, err
	}

	var result SwapResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("swap response parse error: %w", err)
	}
	if result.Txn == "" {
		return nil, fmt.Errorf("swap response missing transaction payload")
	}

	c.logger.DebugContext(ctx, "swap built",
		"from", params.From,
		"to", params.To,
		"type", result.Type,
	)

	return &result, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	reqURL := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

func formatAmount(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
