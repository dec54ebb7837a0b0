// Package cmd defines and implements the CLI commands for the link validator.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/config"
	"github.com/JakeFAU/link-validator/internal/logging"
	"github.com/JakeFAU/link-validator/internal/server"
)

// stateKeyType is the key for storing loaded state in the command context.
type stateKeyType string

const stateKey stateKeyType = "state"

type state struct {
	cfg    config.Config
	logger *zap.Logger
}

// Runner is what the long-running subcommands need from the application.
// It lets tests inject a fake.
type Runner interface {
	Run(ctx context.Context, roles server.Roles) error
	Close(ctx context.Context) error
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return server.Build(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "link-validator",
		Short: "Validates external links asynchronously.",
		Long: `link-validator stores external links, publishes a validation task for
each one, and runs workers that probe every URL with a HEAD request and
record whether it is VALIDATED or BROKEN.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), stateKey, &state{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if st, ok := cmd.Context().Value(stateKey).(*state); ok {
				_ = st.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/TOML/JSON); LINKVAL_* env vars override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func resolveState(ctx context.Context) (*state, error) {
	st, ok := ctx.Value(stateKey).(*state)
	if !ok || st == nil {
		return nil, errors.New("configuration not loaded")
	}
	return st, nil
}

// runApp builds the application, runs the given roles until shutdown and
// always closes it.
func runApp(ctx context.Context, roles server.Roles) error {
	st, err := resolveState(ctx)
	if err != nil {
		return err
	}
	app, err := newApp(ctx, st.cfg, st.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}

	runErr := app.Run(ctx, roles)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(st.cfg))
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		st.logger.Warn("application close failed", zap.Error(err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run: %w", runErr)
	}
	return nil
}

func shutdownTimeout(cfg config.Config) time.Duration {
	if cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		// cobra has already printed the error.
		os.Exit(1)
	}
}
