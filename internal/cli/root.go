// Package cli implements the ledgerctl administration commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/splax/creditledger/pkg/config"
	"github.com/splax/creditledger/pkg/logger"
)

var (
	configFile string
	envFiles   []string
	verbose    bool

	cfg config.APIConfig
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "ledgerctl",
	Short:         "Administer the credit ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadEnvFiles(envFiles...)
		path := configFile
		if path == "" {
			path = os.Getenv("CONFIG_FILE")
		}
		if err := config.LoadFile(path); err != nil {
			return err
		}
		cfg = config.LoadAPIConfig()
		level := logger.ParseLevel(cfg.LogLevel)
		if verbose {
			level = slog.LevelDebug
		}
		log = logger.NewWithWriter(cmd.ErrOrStderr(), "ledgerctl", level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML file of environment overrides (defaults to $CONFIG_FILE)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (defaults to .env and .env.local)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the command tree with args.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.ExecuteContext(ctx)
}
