package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avstrong/bnb/internal/config"
	"github.com/avstrong/bnb/internal/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:          "bnb",
	Short:        "Bed and breakfast reservation service",
	SilenceUsage: true,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(quoteCmd())

	if err := rootCmd.Execute(); err != nil {
		return 1
	}

	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Read configuration from this dotenv file if it exists")
}

func load() (*config.Config, *logger.Logger, error) {
	conf, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	return conf, logger.New(os.Stdout, conf.LogLevel), nil
}
