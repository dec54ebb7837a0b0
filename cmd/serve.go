package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/link-validator/internal/server"
)

// newServeCmd creates the 'serve' subcommand: the REST API plus, unless
// disabled, in-process workers and the reconciler.
func newServeCmd() *cobra.Command {
	var apiOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the REST API, validation workers and reconciler",
		Long: `Starts the HTTP API on server.port. Unless --api-only is set, the same
process also subscribes to the validation channel with worker.concurrency
workers and, when reconciler.enabled, republishes stale PENDING links.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := resolveState(cmd.Context())
			if err != nil {
				return err
			}
			return runApp(cmd.Context(), server.Roles{
				API:        true,
				Workers:    !apiOnly,
				Reconciler: st.cfg.Reconciler.Enabled,
			})
		},
	}
	cmd.Flags().BoolVar(&apiOnly, "api-only", false, "do not start validation workers in this process")
	return cmd
}
