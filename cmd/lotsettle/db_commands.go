package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/miiworld/lotsettle/service/db"
)

func listListingsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-listings",
		Usage:   "List listings ordered by lot number",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of listings to show",
				Value:   100,
			},
			&cli.BoolFlag{
				Name:  "unsold",
				Usage: "Show only unsold listings",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			listings, err := store.ListListings(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list listings: %w", err)
			}

			if c.Bool("unsold") {
				filtered := make([]*db.Listing, 0)
				for _, l := range listings {
					if !l.IsSold {
						filtered = append(filtered, l)
					}
				}
				listings = filtered
			}

			if c.Bool("json") {
				return outputJSON(listings)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LOT\tID\tTIER\tPRICE (SOL)\tYIELD\tSOLD\tOWNER")
			for _, l := range listings {
				fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%.4f\t%t\t%s\n",
					l.LotNumber,
					l.ID,
					l.Tier,
					l.PurchasePrice,
					l.RentYield,
					l.IsSold,
					formatOptional(l.OwnerUserID),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d listings\n", len(listings))
			return nil
		},
	}
}

func getListingCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-listing",
		Usage:     "Get listing details",
		Aliases:   []string{"get"},
		ArgsUsage: "<listing-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: listing id")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			listing, err := store.GetListing(context.Background(), c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get listing: %w", err)
			}
			if listing == nil {
				return fmt.Errorf("listing %q not found", c.Args().First())
			}

			if c.Bool("json") {
				return outputJSON(listing)
			}

			fmt.Printf("Lot Number:  %d\n", listing.LotNumber)
			fmt.Printf("ID:          %s\n", listing.ID)
			fmt.Printf("Tier:        %s\n", listing.Tier)
			fmt.Printf("Price:       %.4f SOL\n", listing.PurchasePrice)
			fmt.Printf("Rent Yield:  %.4f tokens/run\n", listing.RentYield)
			fmt.Printf("Sold:        %t\n", listing.IsSold)
			fmt.Printf("Owner:       %s\n", formatOptional(listing.OwnerUserID))
			fmt.Printf("Created:     %s\n", listing.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func listDistributionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list-distributions",
		Usage: "List recent distribution records",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of records to show",
				Value:   50,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			records, err := store.ListDistributions(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list distributions: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(records)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WALLET\tTOKENS\tLOTS\tSIGNATURE\tCREATED")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%.4f\t%d\t%s\t%s\n",
					rec.OwnerWallet,
					rec.TokenAmount,
					len(rec.ListingIDs),
					rec.Signature,
					rec.CreatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d records\n", len(records))
			return nil
		},
	}
}

func purgeIntentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge-intents",
		Usage: "Delete expired purchase intents",
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			n, err := store.DeleteExpiredIntents(context.Background(), time.Now())
			if err != nil {
				return fmt.Errorf("failed to purge intents: %w", err)
			}

			fmt.Printf("Purged %d expired purchase intents\n", n)
			return nil
		},
	}
}

// getStore connects to the database using the global database-url flag.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db.NewStore(pool), pool.Close, nil
}

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatOptional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
