package main

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/QTest-hq/riskplan/internal/app"
	"github.com/QTest-hq/riskplan/internal/config"
)

var version = "dev"

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:     "riskplan",
		Short:   "riskplan - risk-based test plan generation",
		Long:    `riskplan scores test cases by risk and assembles versioned test plans.`,
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(versionsCmd())
	rootCmd.AddCommand(rescoreCmd())

	return rootCmd
}

// openBackend loads configuration and opens the configured store
func openBackend(ctx context.Context) (*app.Backend, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	target := cfg.SQLitePath
	if cfg.StoreBackend == config.BackendPostgres {
		target = maskConnectionString(cfg.DatabaseURL)
	}
	log.Debug().Str("backend", cfg.StoreBackend).Str("target", target).Msg("opening store")

	b, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return b, cfg, nil
}

// maskConnectionString hides the password of a URL-style connection string
func maskConnectionString(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); !ok {
		return s
	}
	u.User = url.UserPassword(u.User.Username(), "****")
	return u.String()
}
