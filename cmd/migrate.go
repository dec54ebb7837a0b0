package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-validator/internal/config"
	"github.com/JakeFAU/link-validator/internal/storage/postgres"
	"github.com/JakeFAU/link-validator/internal/storage/sqlite"
)

// migrateFunc applies Postgres migrations. Tests replace it.
var migrateFunc = postgres.Migrate

// newMigrateCmd creates the 'migrate' subcommand.
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Applies or reverts the link store schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(postgres.Up), string(postgres.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			direction := postgres.Direction(args[0])

			switch st.cfg.Store.Driver {
			case config.StorePostgres:
				version, err := migrateFunc(st.cfg.Store.DSN, direction)
				if err != nil {
					return fmt.Errorf("migrate %s: %w", direction, err)
				}
				st.logger.Info("migration complete",
					zap.String("direction", string(direction)),
					zap.Uint("version", version),
				)
				return nil
			case config.StoreSQLite:
				if direction != postgres.Up {
					return fmt.Errorf("the sqlite store only supports migrate up")
				}
				store, err := sqlite.Open(cmd.Context(), st.cfg.Store.SQLitePath)
				if err != nil {
					return fmt.Errorf("migrate sqlite: %w", err)
				}
				st.logger.Info("migration complete", zap.String("path", st.cfg.Store.SQLitePath))
				return store.Close()
			default:
				return fmt.Errorf("store driver %q has no schema to migrate", st.cfg.Store.Driver)
			}
		},
	}
	return cmd
}
