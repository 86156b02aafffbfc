package solana

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		name     string
		ui       float64
		decimals uint8
		want     uint64
	}{
		{"whole amount", 5, 6, 5_000_000},
		{"fractional amount", 1.5, 9, 1_500_000_000},
		{"zero decimals", 42, 0, 42},
		{"truncates down", 0.0000015, 6, 1},
		{"sub-unit dust floors", 1.9999999, 6, 1_999_999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToBaseUnits(tt.ui, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToBaseUnits_NeverRoundsUp(t *testing.T) {
	// The converted amount must never imply more tokens than the UI amount
	// represents.
	for _, ui := range []float64{0.1, 0.333333333, 7.777777, 123.456789} {
		for _, decimals := range []uint8{0, 2, 6, 9} {
			got, err := ToBaseUnits(ui, decimals)
			if err != nil {
				// Truncated to zero; acceptable for small amounts.
				continue
			}
			assert.LessOrEqual(t, float64(got), ui*math.Pow10(int(decimals)),
				"ui=%v decimals=%d", ui, decimals)
		}
	}
}

func TestToBaseUnits_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		ui       float64
		decimals uint8
	}{
		{"negative", -1, 6},
		{"nan", math.NaN(), 6},
		{"positive infinity", math.Inf(1), 6},
		{"negative infinity", math.Inf(-1), 6},
		{"zero", 0, 6},
		{"truncates to zero", 0.0000001, 6},
		{"exactly 2^64", math.Pow(2, 64), 0},
		{"overflows uint64", 18.5e18, 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ToBaseUnits(tt.ui, tt.decimals)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestToUiUnits(t *testing.T) {
	assert.Equal(t, 1.5, ToUiUnits(1_500_000_000, 9))
	assert.Equal(t, 42.0, ToUiUnits(42, 0))
}

func TestLamportsToSOL(t *testing.T) {
	assert.Equal(t, 1.5, LamportsToSOL(1_500_000_000))
	assert.Equal(t, 0.003, LamportsToSOL(3_000_000))
}
