package swap

import "fmt"

// RateParams are the inputs to a rate quote.
type RateParams struct {
	From       string // source asset mint
	To         string // destination asset mint
	Amount     float64
	AmountSide string // "from" or "to"
	Slippage   float64
	Payer      string
}

// RateAmounts is the flattened rate quote. The aggregator sometimes nests
// these under a "rate" object and sometimes returns them at the top level;
// the client normalizes both shapes.
type RateAmounts struct {
	AmountIn     float64 `json:"amountIn"`
	AmountOut    float64 `json:"amountOut"`
	MinAmountOut float64 `json:"minAmountOut"`
}

// SwapParams are the inputs to a swap-transaction build.
type SwapParams struct {
	From             string
	To               string
	FromAmount       float64
	Slippage         float64
	Payer            string
	PriorityFee      string // numeric string or "auto"
	PriorityFeeLevel string // "min" ... "unsafeMax", used when PriorityFee is "auto"
}

// SwapResult is the built, unsigned swap transaction returned to the buyer
// for signing and broadcasting out-of-band.
type SwapResult struct {
	Txn  string       `json:"txn"`
	Rate *RateAmounts `json:"rate,omitempty"`
	Type string       `json:"type"`
}

// APIError is a non-2xx aggregator response, surfaced with the raw body for
// operator review.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("swap %s API error: %d: %s", e.Endpoint, e.Status, e.Body)
}
