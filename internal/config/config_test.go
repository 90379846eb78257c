package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/automata/internal/realtime"
)

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AUTOMATA_CONFIG", "AUTOMATA_DB", "AUTOMATA_LOG_LEVEL", "AUTOMATA_REGISTRY",
		"AUTOMATA_REDIS_ADDR", "AUTOMATA_CODEC", "AUTOMATA_SNAPSHOT_INTERVAL",
		"AUTOMATA_TOKEN_TTL", "AUTOMATA_PUSH_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "automata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "automata.db", cfg.Database.Path)
	assert.Equal(t, uint64(62), cfg.Engine.SnapshotInterval)
	assert.Equal(t, 512, cfg.Engine.ExpressionCacheSize)
	assert.Equal(t, 10*time.Minute, cfg.Engine.ExpressionCacheTTL)
	assert.Equal(t, RegistryMemory, cfg.Realtime.Registry)
	assert.Equal(t, "json", cfg.Realtime.Codec)
	assert.Equal(t, 30*time.Second, cfg.Realtime.TokenTTL)
	assert.Equal(t, 2*time.Second, cfg.Realtime.PushTimeout)
	assert.Equal(t, 32, cfg.Realtime.Fanout)
	assert.Equal(t, 5.0, cfg.Realtime.TokenRate)
	assert.Equal(t, 10, cfg.Realtime.TokenBurst)
	assert.Equal(t, "automata:rt:", cfg.Realtime.RedisPrefix)
}

func TestDefault_MatchesHubDefaults(t *testing.T) {
	rt := Default().Realtime

	assert.Equal(t, realtime.DefaultRedisPrefix, rt.RedisPrefix)
	assert.Equal(t, realtime.DefaultTokenTTL, rt.TokenTTL)
	assert.Equal(t, realtime.DefaultPushTimeout, rt.PushTimeout)
	assert.Equal(t, realtime.DefaultFanout, rt.Fanout)
	assert.Equal(t, float64(realtime.DefaultTokenRate), rt.TokenRate)
	assert.Equal(t, realtime.DefaultTokenBurst, rt.TokenBurst)
}

func TestLoad_NoFile(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
database:
  path: /var/lib/automata/data.db

engine:
  snapshot_interval: 10
  expression_cache_ttl: 1m

realtime:
  registry: redis
  redis_addr: localhost:6379
  codec: cbor
  token_ttl: 45s

log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/automata/data.db", cfg.Database.Path)
	assert.Equal(t, uint64(10), cfg.Engine.SnapshotInterval)
	assert.Equal(t, time.Minute, cfg.Engine.ExpressionCacheTTL)
	assert.Equal(t, RegistryRedis, cfg.Realtime.Registry)
	assert.Equal(t, "localhost:6379", cfg.Realtime.RedisAddr)
	assert.Equal(t, "cbor", cfg.Realtime.Codec)
	assert.Equal(t, 45*time.Second, cfg.Realtime.TokenTTL)

	// Unset fields keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Realtime.PushTimeout)
	assert.Equal(t, "automata:rt:", cfg.Realtime.RedisPrefix)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ConfigFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOMATA_CONFIG", writeConfig(t, "database:\n  path: from-env-file.db\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env-file.db", cfg.Database.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "database:\n  path: file.db\nlog:\n  level: warn\n")
	t.Setenv("AUTOMATA_DB", ":memory:")
	t.Setenv("AUTOMATA_LOG_LEVEL", "ERROR")
	t.Setenv("AUTOMATA_SNAPSHOT_INTERVAL", "0")
	t.Setenv("AUTOMATA_PUSH_TIMEOUT", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, uint64(0), cfg.Engine.SnapshotInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Realtime.PushTimeout)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelError, level)
}

func TestLoad_BadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTOMATA_SNAPSHOT_INTERVAL", "often")
	t.Setenv("AUTOMATA_TOKEN_TTL", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOMATA_SNAPSHOT_INTERVAL")
	assert.Contains(t, err.Error(), "AUTOMATA_TOKEN_TTL")
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "database: [unclosed"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "database:\n  pth: typo.db\n"))
	assert.ErrorContains(t, err, "pth")

	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"unknown registry", func(c *Config) { c.Realtime.Registry = "etcd" }, "realtime.registry"},
		{"redis without addr", func(c *Config) { c.Realtime.Registry = RegistryRedis }, "redis_addr"},
		{"unknown codec", func(c *Config) { c.Realtime.Codec = "xml" }, "realtime.codec"},
		{"zero token ttl", func(c *Config) { c.Realtime.TokenTTL = 0 }, "token_ttl"},
		{"zero push timeout", func(c *Config) { c.Realtime.PushTimeout = 0 }, "push_timeout"},
		{"zero fanout", func(c *Config) { c.Realtime.Fanout = 0 }, "fanout"},
		{"zero burst", func(c *Config) { c.Realtime.TokenBurst = 0 }, "token_burst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Database.Path = ""
	cfg.Realtime.Codec = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
	assert.Contains(t, err.Error(), "realtime.codec")
}
