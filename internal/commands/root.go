package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jask/bankfeed/internal/aggregator"
	"github.com/jask/bankfeed/internal/config"
)

// RootOptions holds global flags and loaded configuration.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	EnvFile    string

	// Aggregator overrides the configured aggregator client (tests, demos).
	Aggregator aggregator.Client

	cfg config.Config
	log *slog.Logger
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}
	rootCmd := &cobra.Command{
		Use:   "bankfeed",
		Short: "Bank-feed reconciliation and categorization",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default $BANKFEED_CONFIG or ~/.config/bankfeed/config.toml)")
	rootCmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before configuration")

	rootCmd.AddCommand(
		newConnectCommand(opts),
		newSyncCommand(opts),
		newBalancesCommand(opts),
		newImportCommand(opts),
		newRulesCommand(opts),
		newReviewCommand(opts),
		newResetCursorCommand(opts),
		newKeysCommand(opts),
	)
	return rootCmd
}

func (o *RootOptions) load(cmd *cobra.Command) error {
	if o.EnvFile != "" {
		// existing environment wins over the file
		if err := godotenv.Load(o.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.EnvFile, err)
		}
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}
	o.cfg = cfg

	level := cfg.Log.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	o.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
	return nil
}
