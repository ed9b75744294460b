// Package cmd defines the gatherer CLI: `serve` runs the work-order service and `gather`
// crawls one data source from the command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dealer-gatherer/internal/app"
	"github.com/JakeFAU/dealer-gatherer/internal/config"
	"github.com/JakeFAU/dealer-gatherer/internal/logging"
)

type appKeyType struct{}

var appKey appKeyType

// newApp builds the services for a command. Tests replace it.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "gatherer",
		Short: "Crawls automotive dealer sites and extracts vehicle listings.",
		Long: `gatherer executes GATHER and BUILD work orders against dealer web sites,
identifies vehicles against the make/model/trim catalog and keeps the product
store in sync with what each site currently lists.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML, JSON or TOML)")
	cmd.AddCommand(newServeCmd(), newGatherCmd())
	return cmd
}

func appFrom(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
