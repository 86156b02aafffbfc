package main

import (
	"encoding/json"
	"fmt"
	"os"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/urfave/cli/v2"

	lsol "github.com/miiworld/lotsettle/service/solana"
)

func treasuryPubkeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "pubkey",
		Usage: "Derive the treasury public key and token account from the configured secret key",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "secret-key",
				Usage:   "Treasury secret key (JSON array, base58, or base64)",
				EnvVars: []string{"TREASURY_SECRET_KEY"},
			},
			&cli.StringFlag{
				Name:    "mint",
				Usage:   "Token mint address, for the associated token account",
				EnvVars: []string{"TOKEN_MINT_ADDRESS"},
			},
			&cli.BoolFlag{
				Name:  "token-2022",
				Usage: "Derive the token account against the Token-2022 program",
			},
		},
		Action: func(c *cli.Context) error {
			raw := c.String("secret-key")
			if raw == "" {
				return fmt.Errorf("secret-key is required (set TREASURY_SECRET_KEY env var or use --secret-key)")
			}

			key, err := lsol.ParseSecretKey(raw)
			if err != nil {
				return fmt.Errorf("failed to parse secret key: %w", err)
			}

			pub := key.PublicKey()
			fmt.Printf("Public key: %s\n", pub)

			if mintStr := c.String("mint"); mintStr != "" {
				mint, err := solanago.PublicKeyFromBase58(mintStr)
				if err != nil {
					return fmt.Errorf("invalid mint address: %w", err)
				}
				program := lsol.TokenProgramLegacy
				if c.Bool("token-2022") {
					program = lsol.TokenProgramToken2022
				}
				ata, err := lsol.FindAssociatedTokenAddress(pub, mint, program)
				if err != nil {
					return fmt.Errorf("failed to derive token account: %w", err)
				}
				fmt.Printf("Token account (%s): %s\n", program, ata)
			}
			return nil
		},
	}
}

func treasuryGenerateCommand() *cli.Command {
	return &cli.Command{
		Name:  "generate",
		Usage: "Generate a new keypair and print it in all accepted encodings",
		Action: func(c *cli.Context) error {
			wallet := solanago.NewWallet()

			ints := make([]int, len(wallet.PrivateKey))
			for i, b := range wallet.PrivateKey {
				ints[i] = int(b)
			}
			jsonKey, err := json.Marshal(ints)
			if err != nil {
				return err
			}

			fmt.Printf("Public key:  %s\n", wallet.PublicKey())
			fmt.Printf("Base58:      %s\n", wallet.PrivateKey.String())
			fmt.Printf("JSON array:  %s\n", jsonKey)
			fmt.Fprintln(os.Stderr, "\nStore the secret key securely; it signs treasury transfers.")
			return nil
		},
	}
}
