package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/remote"
)

// TwinOptions holds flags for the twin command.
type TwinOptions struct {
	*RootOptions
	Addr        string
	SeedUser    string
	SeedBalance int64
}

// NewTwinCommand creates the twin command.
func NewTwinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TwinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Serve an in-memory remote ledger and reward catalog",
		Long: `Serve an in-memory twin of the remote ledger service.

Actions can be confirmed server-side with
  curl -X POST localhost:9090/v1/users/<user>/transactions \
    -d '{"amount":100,"kind":"earned","source":"check_in","description":"Check-in","event_id":"evt-1"}'

Example:
  server twin --addr :9090 --seed-user fan-42 --seed-balance 3500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, err := opts.load()
			if err != nil {
				return err
			}

			twin := remote.NewTwin(remote.WithTwinLogger(log))
			if opts.SeedUser != "" {
				twin.Seed(opts.SeedUser, opts.SeedBalance)
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: opts.Addr, Handler: twin.Handler(), ReadHeaderTimeout: 5 * time.Second}
			errCh := make(chan error, 1)
			go func() {
				log.Info("twin starting", "addr", opts.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":9090", "HTTP listen address")
	cmd.Flags().StringVar(&opts.SeedUser, "seed-user", "", "user to seed with an opening balance")
	cmd.Flags().Int64Var(&opts.SeedBalance, "seed-balance", 0, "opening balance for --seed-user")

	return cmd
}
