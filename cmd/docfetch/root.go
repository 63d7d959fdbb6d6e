package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docfetch/internal/config"
	"github.com/JakeFAU/docfetch/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp is a variable so tests can swap in a factory that skips cloud clients.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	return buildApp(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "docfetch",
		Short: "Resilient concurrent document fetcher.",
		Long: `docfetch downloads batches of URLs with a fixed worker pool, bounded
retries, an optional rotating proxy pool and hard limits on size and time.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newFetchCmd(), newServeCmd())
	return cmd
}

// appFrom returns the app built by the root command. Callers own it and must
// Close it, since cobra skips post-run hooks when RunE fails.
func appFrom(cmd *cobra.Command) (*app, bool) {
	a, ok := cmd.Context().Value(appKey).(*app)
	return a, ok && a != nil
}
