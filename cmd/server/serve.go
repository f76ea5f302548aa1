package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/points/cache"
	"github.com/warp/points-ledger/remote"
	"github.com/warp/points-ledger/store/sqlite"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr      string
	RemoteURL string
	Database  string
	UserID    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine, API and background reconciler",
		Long: `Start one engine session and serve it over HTTP.

Without --remote (or remote.base_url) an in-process twin of the remote
ledger service is started on a loopback port and used instead.

Example:
  server serve --user fan-42 --db ./points.db
  server serve --remote http://localhost:9090 --addr :3000`,
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
			return runServe(cmd.Context(), cfg, log)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringVar(&opts.RemoteURL, "remote", "", "remote ledger service base URL")
	cmd.Flags().StringVar(&opts.Database, "db", "", `SQLite cache path (":memory:" allowed, empty keeps the cache in process memory)`)
	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id of the session")

	return cmd
}

func (o *ServeOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = o.Addr
	}
	if cmd.Flags().Changed("remote") {
		cfg.Remote.BaseURL = o.RemoteURL
	}
	if cmd.Flags().Changed("db") {
		cfg.Cache.Path = o.Database
	}
	if cmd.Flags().Changed("user") {
		cfg.Engine.UserID = o.UserID
	}
}

func runServe(parent context.Context, cfg config.Config, log *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer sess.Close()

	scheduler := api.NewScheduler(sess.Engine, api.SchedulerConfig{
		Interval: cfg.Scheduler.Interval,
		MinGap:   cfg.Scheduler.MinGap,
		Burst:    cfg.Scheduler.Burst,
		Logger:   log,
	})
	scheduler.Start(ctx)
	defer scheduler.Stop()

	handler := api.NewHandler(sess.Engine, sess.Client, scheduler)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Server.Addr, "user_id", cfg.Engine.UserID)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// =============================================================================
// SESSION WIRING
// =============================================================================

// session bundles an engine with the resources it was opened over.
type session struct {
	Engine *points.Engine
	Client *remote.Client

	closers []func() error
}

func (s *session) Close() {
	s.Engine.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openSession(ctx context.Context, cfg config.Config, log *slog.Logger) (*session, error) {
	sess := &session{}
	fail := func(err error) (*session, error) {
		for i := len(sess.closers) - 1; i >= 0; i-- {
			sess.closers[i]()
		}
		return nil, err
	}

	baseURL := cfg.Remote.BaseURL
	if baseURL == "" {
		url, shutdown, err := startLocalTwin(log)
		if err != nil {
			return fail(err)
		}
		sess.closers = append(sess.closers, shutdown)
		baseURL = url
	}
	sess.Client = remote.NewClient(baseURL,
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithClientLogger(log))

	var c points.Cache
	if cfg.Cache.Path != "" {
		store, err := sqlite.New(cfg.Cache.Path)
		if err != nil {
			return fail(fmt.Errorf("failed to open cache: %w", err))
		}
		sess.closers = append(sess.closers, store.Close)
		c = store
	} else {
		c = cache.NewMemory()
	}

	tiers, err := cfg.TierTable()
	if err != nil {
		return fail(err)
	}

	eng, err := points.Open(ctx, cfg.Engine.UserID, sess.Client.ForUser(cfg.Engine.UserID),
		points.WithLogger(log),
		points.WithCache(c),
		points.WithCatalog(sess.Client),
		points.WithTiers(tiers),
		points.WithPageSize(cfg.Engine.PageSize),
		points.WithStallThreshold(cfg.Engine.StallThreshold),
	)
	if err != nil {
		return fail(fmt.Errorf("failed to open session: %w", err))
	}
	sess.Engine = eng
	return sess, nil
}

// startLocalTwin serves a fresh twin on a loopback port.
func startLocalTwin(log *slog.Logger) (string, func() error, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to start local twin: %w", err)
	}
	twin := remote.NewTwin(remote.WithTwinLogger(log))
	srv := &http.Server{Handler: twin.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)

	url := "http://" + ln.Addr().String()
	log.Info("using in-process remote ledger twin", "url", url)
	return url, srv.Close, nil
}
