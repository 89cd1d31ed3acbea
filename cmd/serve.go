package cmd

import (
	"github.com/spf13/cobra"

	"github.com/avstrong/bnb/internal/app"
)

func serveCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, l, err := load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("seed") {
				conf.Seed = seed
			}

			if err := app.Run(l, conf); err != nil {
				l.LogErrorf("Failed to run app: %v", err.Error())

				return err
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "Seed sample rooms into an empty catalog on start (overrides BNB_SEED)")

	return cmd
}
