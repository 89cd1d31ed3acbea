package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/avstrong/bnb/internal/app"
	"github.com/avstrong/bnb/internal/config"
	"github.com/avstrong/bnb/internal/migration"
	"github.com/avstrong/bnb/internal/pricing"
)

func quoteCmd() *cobra.Command {
	var roomID, checkIn, checkOut string
	var outputJSON bool

	cmd := &cobra.Command{
		Use:     "quote",
		Short:   "Price a stay night by night",
		Example: "  bnb quote --room family-apartment --check-in 2025-07-30 --check-out 2025-08-03",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if roomID == "" || checkIn == "" || checkOut == "" {
				return errors.New("--room, --check-in and --check-out are required")
			}

			from, err := time.Parse(time.DateOnly, checkIn)
			if err != nil {
				return fmt.Errorf("parse --check-in: %w", err)
			}

			to, err := time.Parse(time.DateOnly, checkOut)
			if err != nil {
				return fmt.Errorf("parse --check-out: %w", err)
			}

			if !from.Before(to) {
				return errors.New("--check-out must be after --check-in")
			}

			conf, l, err := load()
			if err != nil {
				return err
			}

			ctx := context.Background()

			store, closeStore, err := app.OpenStore(ctx, l, conf)
			if err != nil {
				return err
			}

			if closeStore != nil {
				defer func() {
					err = errors.Join(err, closeStore(ctx))
				}()
			}

			// The in-memory store starts empty, quote against the sample catalog.
			if conf.Store == config.StoreMemory {
				if _, err := migration.Up(ctx, l, store, time.Now()); err != nil {
					return fmt.Errorf("seed rooms: %w", err)
				}
			}

			room, err := store.GetRoom(ctx, roomID)
			if err != nil {
				return fmt.Errorf("get room: %w", err)
			}

			breakdown := pricing.Quote(room.Pricing, from, to)

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(breakdown) //nolint:wrapcheck
			}

			return printQuote(cmd.OutOrStdout(), room.Name, breakdown)
		},
	}

	cmd.Flags().StringVar(&roomID, "room", "", "Room id")
	cmd.Flags().StringVar(&checkIn, "check-in", "", "First night, YYYY-MM-DD")
	cmd.Flags().StringVar(&checkOut, "check-out", "", "Departure day, YYYY-MM-DD")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output JSON")

	return cmd
}

func printQuote(w io.Writer, roomName string, b pricing.Breakdown) error {
	fmt.Fprintf(w, "%s, %d nights\n\n", roomName, b.Nights)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0) //nolint:gomnd
	fmt.Fprintln(tw, "DATE\tDAY\tTIER\tPRICE")

	for _, n := range b.Lines {
		tier := string(n.Tier)
		if n.Label != "" {
			tier += " (" + n.Label + ")"
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Date.Format(time.DateOnly), n.Date.Format("Mon"), tier, n.Price)
	}

	fmt.Fprintf(tw, "\t\tTOTAL\t%s\n", b.Total)

	return tw.Flush() //nolint:wrapcheck
}
