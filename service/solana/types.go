package solana

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Well-known Solana program and account addresses.
var (
	// TokenProgramID is the SPL Token program.
	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token Extensions program (Token-2022).
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// AssociatedTokenProgramID derives per-owner-per-mint token accounts.
	AssociatedTokenProgramID = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// SystemProgramID is the native SOL program.
	SystemProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")

	// WrappedSOLMint is the native currency's mint address, used as the
	// "from" side of purchase swaps.
	WrappedSOLMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

const (
	// LamportsPerSOL is the number of base units in one SOL.
	LamportsPerSOL = 1_000_000_000

	// SolscanTxURLPrefix is the explorer link prefix recorded alongside
	// distribution signatures.
	SolscanTxURLPrefix = "https://solscan.io/tx/"
)

// TokenProgram is the closed set of token-program variants a mint may be
// owned by. It is resolved once from the mint account's owner and threaded
// explicitly through account derivation and transfer construction.
type TokenProgram int

const (
	TokenProgramLegacy TokenProgram = iota
	TokenProgramToken2022
)

// ID returns the on-chain program address for the variant.
func (p TokenProgram) ID() solana.PublicKey {
	if p == TokenProgramToken2022 {
		return Token2022ProgramID
	}
	return TokenProgramID
}

func (p TokenProgram) String() string {
	if p == TokenProgramToken2022 {
		return "token-2022"
	}
	return "token"
}

// TokenProgramFromOwner resolves the variant from a mint account's owning
// program. Mints owned by any other program are rejected.
func TokenProgramFromOwner(owner solana.PublicKey) (TokenProgram, error) {
	switch {
	case owner.Equals(TokenProgramID):
		return TokenProgramLegacy, nil
	case owner.Equals(Token2022ProgramID):
		return TokenProgramToken2022, nil
	default:
		return 0, fmt.Errorf("unsupported token program %s", owner)
	}
}

// Mint is our domain view of an SPL mint account: the fields the settlement
// and distribution flows actually need.
type Mint struct {
	Address  solana.PublicKey
	Decimals uint8
	Program  TokenProgram
}
