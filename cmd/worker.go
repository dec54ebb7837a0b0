package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/link-validator/internal/server"
)

// newWorkerCmd creates the 'worker' subcommand for headless worker nodes.
func newWorkerCmd() *cobra.Command {
	var withReconciler bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Runs validation workers without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), server.Roles{
				Workers:    true,
				Reconciler: withReconciler,
			})
		},
	}
	cmd.Flags().BoolVar(&withReconciler, "with-reconciler", false, "also run the stale PENDING sweep")
	return cmd
}
