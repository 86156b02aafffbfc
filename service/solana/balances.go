package solana

import (
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// TransactionFailed reports whether the fetched transaction executed and
// failed on-chain.
func TransactionFailed(result *rpc.GetTransactionResult) bool {
	return result != nil && result.Meta != nil && result.Meta.Err != nil
}

// PostTokenBalanceForMint locates the post-transaction token balance entry
// for the given mint. The settlement flow uses this to verify the swap
// actually credited the expected token.
func PostTokenBalanceForMint(result *rpc.GetTransactionResult, mint solana.PublicKey) (rpc.TokenBalance, bool) {
	if result == nil || result.Meta == nil {
		return rpc.TokenBalance{}, false
	}
	for _, tb := range result.Meta.PostTokenBalances {
		if tb.Mint.Equals(mint) {
			return tb, true
		}
	}
	return rpc.TokenBalance{}, false
}

// TokenBalanceUiAmount extracts the UI-denominated amount from a token
// balance entry, falling back to the string form when the float is absent.
func TokenBalanceUiAmount(tb rpc.TokenBalance) float64 {
	if tb.UiTokenAmount == nil {
		return 0
	}
	if tb.UiTokenAmount.UiAmount != nil {
		return *tb.UiTokenAmount.UiAmount
	}
	if v, err := strconv.ParseFloat(tb.UiTokenAmount.UiAmountString, 64); err == nil {
		return v
	}
	return 0
}
