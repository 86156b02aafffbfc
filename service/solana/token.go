package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Token program instruction types.
const (
	tokenTransferInstruction = uint8(3)
)

// FindAssociatedTokenAddress derives the deterministic per-owner-per-mint
// token account for the given token program variant. The stock helper in
// solana-go hardcodes the legacy token program, so we derive it ourselves to
// support Token-2022 mints.
func FindAssociatedTokenAddress(owner, mint solana.PublicKey, program TokenProgram) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			owner.Bytes(),
			program.ID().Bytes(),
			mint.Bytes(),
		},
		AssociatedTokenProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token address: %w", err)
	}
	return addr, nil
}

// NewCreateAssociatedTokenAccountInstruction builds the instruction that
// creates the associated token account for owner+mint, funded by payer.
// The token program is threaded explicitly so both supported variants work.
func NewCreateAssociatedTokenAccountInstruction(payer, ata, owner, mint solana.PublicKey, program TokenProgram) solana.Instruction {
	return solana.NewInstruction(
		AssociatedTokenProgramID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(payer, true, true),
			solana.NewAccountMeta(ata, true, false),
			solana.NewAccountMeta(owner, false, false),
			solana.NewAccountMeta(mint, false, false),
			solana.NewAccountMeta(SystemProgramID, false, false),
			solana.NewAccountMeta(program.ID(), false, false),
		},
		[]byte{},
	)
}

// NewTokenTransferInstruction builds an SPL token transfer of amount base
// units from the source token account to the destination token account,
// authorized by owner.
func NewTokenTransferInstruction(source, destination, owner solana.PublicKey, amount uint64, program TokenProgram) solana.Instruction {
	data := make([]byte, 9)
	data[0] = tokenTransferInstruction
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return solana.NewInstruction(
		program.ID(),
		solana.AccountMetaSlice{
			solana.NewAccountMeta(source, true, false),
			solana.NewAccountMeta(destination, true, false),
			solana.NewAccountMeta(owner, false, true),
		},
		data,
	)
}
