// Package config loads runtime configuration for the automata binary.
//
// Configuration starts from Default, is merged with an optional YAML file
// (the --config flag or AUTOMATA_CONFIG), and finally with AUTOMATA_*
// environment variables. Later sources win.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/automata/internal/engine"
	"github.com/roach88/automata/internal/realtime"
	"github.com/roach88/automata/internal/transition"
)

// Registry backends.
const (
	RegistryMemory = "memory"
	RegistryRedis  = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file; ":memory:" for an in-memory store.
	Path string `yaml:"path"`
}

// EngineConfig configures the engine and its transition evaluator.
type EngineConfig struct {
	// SnapshotInterval is the snapshot spacing in versions; zero disables
	// snapshots.
	SnapshotInterval uint64 `yaml:"snapshot_interval"`

	// BlueprintCacheSize bounds the compiled blueprint cache.
	BlueprintCacheSize int `yaml:"blueprint_cache_size"`

	// ExpressionCacheSize and ExpressionCacheTTL bound the compiled
	// transition cache.
	ExpressionCacheSize int           `yaml:"expression_cache_size"`
	ExpressionCacheTTL  time.Duration `yaml:"expression_cache_ttl"`

	// CostLimit caps the evaluation cost of one transition.
	CostLimit uint64 `yaml:"cost_limit"`
}

// RealtimeConfig configures the subscription hub.
type RealtimeConfig struct {
	// Registry selects the subscription store: "memory" or "redis".
	Registry    string `yaml:"registry"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`

	// Codec names the frame encoding: "json" or "cbor".
	Codec string `yaml:"codec"`

	TokenTTL    time.Duration `yaml:"token_ttl"`
	PushTimeout time.Duration `yaml:"push_timeout"`
	Fanout      int           `yaml:"fanout"`
	TokenRate   float64       `yaml:"token_rate"`
	TokenBurst  int           `yaml:"token_burst"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "automata.db",
		},
		Engine: EngineConfig{
			SnapshotInterval:    engine.DefaultSnapshotInterval,
			BlueprintCacheSize:  engine.DefaultBlueprintCacheSize,
			ExpressionCacheSize: transition.DefaultCacheSize,
			ExpressionCacheTTL:  transition.DefaultCacheTTL,
			CostLimit:           transition.DefaultCostLimit,
		},
		Realtime: RealtimeConfig{
			Registry:    RegistryMemory,
			RedisPrefix: realtime.DefaultRedisPrefix,
			Codec:       realtime.JSONCodec{}.Name(),
			TokenTTL:    realtime.DefaultTokenTTL,
			PushTimeout: realtime.DefaultPushTimeout,
			Fanout:      realtime.DefaultFanout,
			TokenRate:   float64(realtime.DefaultTokenRate),
			TokenBurst:  realtime.DefaultTokenBurst,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from path (or AUTOMATA_CONFIG when path is
// empty) and the environment. With neither set, only the environment is
// applied over the defaults. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("AUTOMATA_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML file into c. Unknown keys are errors; an empty
// file changes nothing.
func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv merges AUTOMATA_* variables into c.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	uint64Var := func(key string, dst *uint64) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("AUTOMATA_DB", &c.Database.Path)
	str("AUTOMATA_LOG_LEVEL", &c.Log.Level)
	str("AUTOMATA_REGISTRY", &c.Realtime.Registry)
	str("AUTOMATA_REDIS_ADDR", &c.Realtime.RedisAddr)
	str("AUTOMATA_CODEC", &c.Realtime.Codec)
	uint64Var("AUTOMATA_SNAPSHOT_INTERVAL", &c.Engine.SnapshotInterval)
	duration("AUTOMATA_TOKEN_TTL", &c.Realtime.TokenTTL)
	duration("AUTOMATA_PUSH_TIMEOUT", &c.Realtime.PushTimeout)

	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}

	switch c.Realtime.Registry {
	case RegistryMemory:
	case RegistryRedis:
		if c.Realtime.RedisAddr == "" {
			errs = append(errs, errors.New("realtime.redis_addr is required for the redis registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("realtime.registry must be %q or %q, got %q",
			RegistryMemory, RegistryRedis, c.Realtime.Registry))
	}

	if c.Realtime.Codec != (realtime.JSONCodec{}).Name() && c.Realtime.Codec != (realtime.CBORCodec{}).Name() {
		errs = append(errs, fmt.Errorf("realtime.codec must be \"json\" or \"cbor\", got %q", c.Realtime.Codec))
	}
	if c.Realtime.TokenTTL <= 0 {
		errs = append(errs, errors.New("realtime.token_ttl must be positive"))
	}
	if c.Realtime.PushTimeout <= 0 {
		errs = append(errs, errors.New("realtime.push_timeout must be positive"))
	}
	if c.Realtime.Fanout <= 0 {
		errs = append(errs, errors.New("realtime.fanout must be positive"))
	}
	if c.Realtime.TokenRate <= 0 || c.Realtime.TokenBurst <= 0 {
		errs = append(errs, errors.New("realtime.token_rate and realtime.token_burst must be positive"))
	}

	return errors.Join(errs...)
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
