package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/knock/internal/api"
	"github.com/roach88/knock/internal/events"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the market over HTTP",
		Long: `Open the ledger and identity registry and serve the market's HTTP API.

Committed events are logged, counted in Prometheus metrics (GET /metrics) and,
when redis.addr is configured, appended to a Redis stream.

Example:
  knockd serve --config knockd.cue
  knockd serve --db ./knock.db --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		_ = opts.formatter(cmd).Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := opts.newLogger(cmd, cfg)
	slog.SetDefault(logger)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := events.NewMetricsSink(promReg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	sinks := []events.Sink{events.NewLogSink(logger, slog.LevelDebug), metrics}
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		sinks = append(sinks, events.NewRedisSink(client, cfg.Redis.Stream, cfg.Redis.MaxLen))
		logger.Info("redis event stream enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}
	dispatcher := events.NewDispatcher(logger, sinks...)

	rt, err := openRuntime(cmd, opts.RootOptions, dispatcher)
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := cfg.HTTP.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(rt.engine, rt.registry, promReg, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(context.Background()) }()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	logger.Info("knockd serving", "addr", addr, "db", cfg.Database, "day", rt.engine.CurrentDay())
	fmt.Fprintf(cmd.OutOrStdout(), "knockd listening on %s. Press Ctrl-C to stop.\n", addr)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = WrapExitError(ExitFailure, "http server error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	// Drain events already committed before closing the ledger.
	dispatcher.Close()
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logger.Warn("event dispatcher did not drain", "undelivered", dispatcher.Pending())
	}

	logger.Info("knockd stopped")
	return runErr
}
