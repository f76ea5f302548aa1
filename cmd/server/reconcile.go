package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	ServeOptions
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{ServeOptions: ServeOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and print the snapshot",
		Long: `Open the session from the configured cache, reconcile once against the
remote ledger service and print the resulting balance snapshot as JSON.

Example:
  server reconcile --remote http://localhost:9090 --user fan-42 --db ./points.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			sess, err := openSession(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.Engine.Reconcile(cmd.Context()); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sess.Engine.Snapshot())
		},
	}

	cmd.Flags().StringVar(&opts.RemoteURL, "remote", "", "remote ledger service base URL")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite cache path")
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id of the session")

	return cmd
}
