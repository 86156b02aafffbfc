package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/miiworld/lotsettle/client"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with the lotsettle service",
		Subcommands: []*cli.Command{
			quoteCommand(),
			finalizeCommand(),
			distributeCommand(),
			distributionsCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:      "quote",
		Usage:     "Request a purchase quote and unsigned swap transaction",
		ArgsUsage: "<listing-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "Buying user id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "buyer",
				Aliases:  []string{"b"},
				Usage:    "Buyer wallet public key (base58)",
				Required: true,
			},
			&cli.Float64Flag{
				Name:  "slippage",
				Usage: "Slippage tolerance in percent",
				Value: 5,
			},
			&cli.StringFlag{
				Name:  "priority-fee",
				Usage: "Priority fee in SOL, or \"auto\"",
			},
			&cli.StringFlag{
				Name:  "priority-fee-level",
				Usage: "Priority fee level when fee is \"auto\" (min..unsafeMax)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: listing id")
			}

			cl := newAPIClient(c)
			quote, err := cl.CreatePurchase(context.Background(), client.CreatePurchaseParams{
				ListingID:        c.Args().First(),
				UserID:           c.String("user"),
				BuyerPubkey:      c.String("buyer"),
				Slippage:         c.Float64("slippage"),
				PriorityFee:      c.String("priority-fee"),
				PriorityFeeLevel: c.String("priority-fee-level"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(quote)
			}

			fmt.Printf("Intent ID:   %s\n", quote.IntentID)
			fmt.Printf("Listing:     %s\n", quote.ListingID)
			fmt.Printf("Price:       %.4f SOL\n", quote.Price)
			fmt.Printf("Expires:     %s\n", quote.ExpiresAt)
			fmt.Printf("\nSign and broadcast the transaction below, then run:\n")
			fmt.Printf("  lotsettle client finalize %s --user %s --intent %s --txid <signature>\n\n",
				quote.ListingID, c.String("user"), quote.IntentID)
			fmt.Println(quote.Txn)
			return nil
		},
	}
}

func finalizeCommand() *cli.Command {
	return &cli.Command{
		Name:      "finalize",
		Usage:     "Finalize a purchase after broadcasting the swap transaction",
		ArgsUsage: "<listing-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "Buying user id",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "intent",
				Aliases:  []string{"i"},
				Usage:    "Purchase intent id from the quote",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "txid",
				Aliases:  []string{"t"},
				Usage:    "Broadcast transaction signature",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: listing id")
			}

			cl := newAPIClient(c)
			settlement, err := cl.FinalizePurchase(context.Background(), client.FinalizePurchaseParams{
				ListingID:        c.Args().First(),
				UserID:           c.String("user"),
				PurchaseIntentID: c.String("intent"),
				TxID:             c.String("txid"),
			})
			if err != nil {
				var apiErr *client.APIError
				if errors.As(err, &apiErr) && apiErr.Retry == "repoll" {
					return fmt.Errorf("%w\n\nThe transaction may still confirm; retry this exact command. Do NOT re-broadcast", err)
				}
				return err
			}

			if c.Bool("json") {
				return outputJSON(settlement)
			}

			fmt.Printf("✓ Purchase settled\n")
			fmt.Printf("  Listing:   %s\n", settlement.ListingID)
			fmt.Printf("  Owner:     %s\n", settlement.UserID)
			fmt.Printf("  Tokens:    %.4f\n", settlement.TokenAmount)
			fmt.Printf("  Signature: %s\n", settlement.TxID)
			if !settlement.InventoryReconciled {
				fmt.Printf("  WARNING: inventory append pending reconciliation\n")
			}
			return nil
		},
	}
}

func distributeCommand() *cli.Command {
	return &cli.Command{
		Name:  "distribute",
		Usage: "Trigger a treasury distribution run",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to the JSON result",
			},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			result, err := cl.RunDistribution(context.Background())
			if err != nil {
				return err
			}

			if expr := c.String("filter"); expr != "" {
				return outputFiltered(result, expr)
			}
			if c.Bool("json") {
				return outputJSON(result)
			}

			fmt.Printf("Distribution run complete\n")
			fmt.Printf("  Recipients:  %d\n", result.TotalRecipients)
			fmt.Printf("  Distributed: %d\n", result.Distributed)
			fmt.Printf("  Failed:      %d\n", result.Failed)
			for _, s := range result.Successes {
				fmt.Printf("  ✓ %s  %.4f tokens  %s\n", s.OwnerWallet, s.TokenAmount, s.SolscanURL)
			}
			for _, f := range result.Failures {
				fmt.Printf("  ✗ %s  %.4f tokens  %s\n", f.OwnerWallet, f.TokenAmount, f.Error)
			}
			return nil
		},
	}
}

func distributionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "distributions",
		Usage: "List recent distribution records via the API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records",
				Value:   50,
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Usage:   "jq expression applied to the JSON records",
			},
		},
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			records, err := cl.ListDistributions(context.Background(), c.Int("limit"))
			if err != nil {
				return err
			}

			if expr := c.String("filter"); expr != "" {
				return outputFiltered(records, expr)
			}
			return outputJSON(records)
		},
	}
}

// outputFiltered marshals v to plain JSON values and prints every result of
// running the given jq expression over it.
func outputFiltered(v any, expr string) error {
	query, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var plain any
	if err := json.Unmarshal(raw, &plain); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	iter := code.Run(plain)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
