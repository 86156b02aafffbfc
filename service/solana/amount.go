package solana

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidAmount indicates a UI amount that cannot be represented as a
// positive base-unit quantity. Callers in batch flows should skip the entry
// rather than abort.
var ErrInvalidAmount = errors.New("invalid token amount")

// ToBaseUnits converts a UI-denominated token amount to base units using the
// mint's decimal precision. The result is floor(ui * 10^decimals): truncation
// never rounds up, so a transfer can never move more tokens than the UI
// amount represents.
func ToBaseUnits(ui float64, decimals uint8) (uint64, error) {
	if math.IsNaN(ui) || math.IsInf(ui, 0) {
		return 0, fmt.Errorf("%w: not finite", ErrInvalidAmount)
	}
	if ui < 0 {
		return 0, fmt.Errorf("%w: negative amount %v", ErrInvalidAmount, ui)
	}

	base := math.Floor(ui * math.Pow10(int(decimals)))
	if base <= 0 {
		return 0, fmt.Errorf("%w: %v truncates to zero at %d decimals", ErrInvalidAmount, ui, decimals)
	}
	if base >= math.MaxUint64 {
		return 0, fmt.Errorf("%w: %v overflows at %d decimals", ErrInvalidAmount, ui, decimals)
	}

	return uint64(base), nil
}

// ToUiUnits converts a base-unit amount back to UI units. It is not an exact
// inverse of ToBaseUnits because of floor truncation.
func ToUiUnits(base uint64, decimals uint8) float64 {
	return float64(base) / math.Pow10(int(decimals))
}

// LamportsToSOL converts native base units to SOL for display and advisory
// balance checks.
func LamportsToSOL(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}
