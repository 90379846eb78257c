package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/roach88/automata/internal/config"
	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/ir"
	"github.com/roach88/automata/internal/realtime"
	"github.com/roach88/automata/internal/store"
	"github.com/roach88/automata/internal/transition"
)

// app is what a command runs against: configuration, an open store and
// an engine over it.
type app struct {
	cfg      *config.Config
	store    *store.Store
	engine   *engine.Engine
	logger   *slog.Logger
	identity ir.Identity
	out      *OutputFormatter

	redis *redis.Client
}

// formatter builds the output formatter for cmd.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// openApp loads configuration, opens the database and builds the engine.
// The caller must Close the app.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	logger, err := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	cache := transition.NewCache(cfg.Engine.ExpressionCacheSize, cfg.Engine.ExpressionCacheTTL)
	eval, err := transition.NewCELEvaluator(cache, transition.WithCostLimit(cfg.Engine.CostLimit))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitInternal, "failed to create evaluator", err)
	}

	eng := engine.New(st, eval,
		engine.WithLogger(logger),
		engine.WithSnapshotInterval(cfg.Engine.SnapshotInterval),
		engine.WithBlueprintCacheSize(cfg.Engine.BlueprintCacheSize),
	)

	return &app{
		cfg:      cfg,
		store:    st,
		engine:   eng,
		logger:   logger,
		identity: ir.Identity{TenantID: opts.Tenant, AccountID: opts.Account},
		out:      formatter(opts, cmd),
	}, nil
}

// Close waits for post-commit work and releases resources.
func (a *app) Close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Error("error closing engine", "error", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("error closing redis client", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// newHub builds a realtime hub from the realtime configuration and
// attaches it to the engine.
func (a *app) newHub(gateway realtime.Gateway) (*realtime.Hub, error) {
	rc := a.cfg.Realtime

	var registry realtime.Registry
	switch rc.Registry {
	case config.RegistryRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: rc.RedisAddr})
		registry = realtime.NewRedisRegistry(a.redis, realtime.WithRedisPrefix(rc.RedisPrefix))
	default:
		mem, err := realtime.NewMemoryRegistry()
		if err != nil {
			return nil, err
		}
		registry = mem
	}

	codec, err := realtime.CodecByName(rc.Codec)
	if err != nil {
		return nil, err
	}

	hub := realtime.NewHub(registry, gateway, a.engine,
		realtime.WithLogger(a.logger),
		realtime.WithCodec(codec),
		realtime.WithTokenTTL(rc.TokenTTL),
		realtime.WithPushTimeout(rc.PushTimeout),
		realtime.WithFanout(rc.Fanout),
		realtime.WithTokenRate(rate.Limit(rc.TokenRate), rc.TokenBurst),
	)
	a.engine.SetNotifier(hub)
	return hub, nil
}

// newLogger builds the process logger: text on w at the configured
// level, or debug when verbose.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

// withApp opens the app, runs fn and closes the app.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(*app) error) error {
	a, err := openApp(opts, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// parseJSONObject decodes a flag value holding a JSON object. Empty
// input yields nil.
func parseJSONObject(flag, raw string) (ir.State, error) {
	if raw == "" {
		return nil, nil
	}
	s, err := ir.DecodeState([]byte(raw))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("--%s must be a JSON object", flag), err)
	}
	return s, nil
}
