package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/avstrong/bnb/internal/app"
	"github.com/avstrong/bnb/internal/migration"
)

func seedCmd() *cobra.Command {
	var adminEmail, adminPassword string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed sample rooms and optionally an admin account",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			if (adminEmail == "") != (adminPassword == "") {
				return errors.New("--admin-email and --admin-password go together")
			}

			conf, l, err := load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			c, err := app.Build(ctx, l, conf)
			if err != nil {
				return fmt.Errorf("build app: %w", err)
			}

			defer func() {
				err = errors.Join(err, c.Close(context.Background()))
			}()

			n, err := migration.Up(ctx, l, c.Store, time.Now())
			if err != nil {
				return fmt.Errorf("seed rooms: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d rooms seeded\n", n)

			if adminEmail == "" {
				return nil
			}

			return migration.SeedAdmin(ctx, l, c.Identity, adminEmail, adminPassword)
		},
	}

	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "Email of the admin account to create")
	cmd.Flags().StringVar(&adminPassword, "admin-password", "", "Password of the admin account")

	return cmd
}
