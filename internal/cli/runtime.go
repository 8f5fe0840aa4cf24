package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/knock/internal/config"
	"github.com/roach88/knock/internal/engine"
	"github.com/roach88/knock/internal/identity"
	"github.com/roach88/knock/internal/payout"
	"github.com/roach88/knock/internal/store"
)

// runtime is everything one command needs: the ledger, the registry and an
// engine over both.
type runtime struct {
	cfg      config.Config
	store    *store.Store
	registry *identity.BadgerRegistry
	engine   *engine.Engine
	logger   *slog.Logger
	out      *OutputFormatter
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// loadConfig reads --config, or the schema defaults, then applies --db.
func (o *RootOptions) loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.Config != "" {
		cfg, err = config.Load(o.Config)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	return cfg, nil
}

func (o *RootOptions) newLogger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	level := cfg.Log.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// openRuntime loads config and opens the ledger, registry and engine.
// The caller must Close the runtime.
func openRuntime(cmd *cobra.Command, opts *RootOptions, publisher engine.Publisher) (*runtime, error) {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = out.Error(ErrCodeConfig, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := opts.newLogger(cmd, cfg)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Debug("opening ledger", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = out.Error(ErrCodeOpen, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open ledger", err)
	}

	regCfg := identity.DefaultConfig(cfg.Identity.Path)
	if cfg.Identity.InMemory {
		regCfg = identity.InMemoryConfig()
	}
	regCfg.Logger = logger
	reg, err := identity.Open(regCfg)
	if err != nil {
		st.Close()
		_ = out.Error(ErrCodeOpen, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to open identity registry", err)
	}

	var payer payout.Payer = payout.NewLedgerPayer(logger)
	if len(cfg.Unpayable) > 0 {
		payer = payout.NewUnpayable(payer, cfg.Unpayable...)
	}

	engineOpts := []engine.Option{engine.WithPayer(payer), engine.WithLogger(logger)}
	if opts.TimeSource != nil {
		engineOpts = append(engineOpts, engine.WithTimeSource(opts.TimeSource))
	}
	if opts.TxIDs != nil {
		engineOpts = append(engineOpts, engine.WithTxIDGenerator(opts.TxIDs))
	}
	if publisher != nil {
		engineOpts = append(engineOpts, engine.WithPublisher(publisher))
	}

	eng, err := engine.New(ctx, st, reg, engine.Config{FeeRecipient: cfg.FeeRecipient}, engineOpts...)
	if err != nil {
		reg.Close()
		st.Close()
		_ = out.Error(ErrCodeOpen, err.Error(), nil)
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}

	return &runtime{cfg: cfg, store: st, registry: reg, engine: eng, logger: logger, out: out}, nil
}

// Close releases the registry and the ledger.
func (r *runtime) Close() {
	if err := r.registry.Close(); err != nil {
		r.logger.Error("error closing identity registry", "error", err)
	}
	if err := r.store.Close(); err != nil {
		r.logger.Error("error closing ledger", "error", err)
	}
}

// withRuntime opens a runtime, runs fn and closes it.
func withRuntime(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, rt *runtime) error) error {
	rt, err := openRuntime(cmd, opts, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, rt)
}
