package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/bulwark/backend/bigcache"
	bbreaker "github.com/unkn0wn-root/bulwark/backend/breaker"
	"github.com/unkn0wn-root/bulwark/backend/memory"
	"github.com/unkn0wn-root/bulwark/backend/redis"
	"github.com/unkn0wn-root/bulwark/backend/ristretto"
	"github.com/unkn0wn-root/bulwark/backend/upstash"
	"github.com/unkn0wn-root/bulwark/breaker"
	"github.com/unkn0wn-root/bulwark/logging"
)

// clearEnv keeps a developer's shell from leaking into the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"UPSTASH_REDIS_REST_URL", "UPSTASH_REDIS_REST_TOKEN", "REDIS_URL"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "cache", cfg.Cache.KeyPrefix)
	require.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	require.Equal(t, 10*time.Second, cfg.Cache.LockTTL)
	require.Equal(t, 100*time.Millisecond, cfg.Cache.PollInterval)
	require.Equal(t, 5*time.Second, cfg.Cache.MaxWait)
	require.Equal(t, int64(100), cfg.Cache.ScanCount)
	require.Equal(t, LocalMemory, cfg.Backend.Local)
	require.Equal(t, 3, cfg.Transport.Retries)
	require.Equal(t, "standard", cfg.Transport.BreakerPreset)
	require.Empty(t, cfg.Redis.URL)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BULWARK_CACHE_KEY_PREFIX", "svc")
	t.Setenv("BULWARK_CACHE_DEFAULT_TTL", "90s")
	t.Setenv("BULWARK_TRANSPORT_RETRIES", "5")
	t.Setenv("REDIS_URL", "redis://localhost:6380/1")
	t.Setenv("UPSTASH_REDIS_REST_URL", "https://eu1.example.upstash.io")
	t.Setenv("UPSTASH_REDIS_REST_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "svc", cfg.Cache.KeyPrefix)
	require.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	require.Equal(t, 5, cfg.Transport.Retries)
	require.Equal(t, "redis://localhost:6380/1", cfg.Redis.URL)
	require.Equal(t, "https://eu1.example.upstash.io", cfg.Upstash.URL)
	require.Equal(t, "secret", cfg.Upstash.Token)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bulwark.yaml")
	yaml := `
cache:
  key_prefix: app
  max_wait: 2s
backend:
  local: ristretto
  max_items: 500
  breaker:
    enabled: true
transport:
  breaker_preset: quick
logging:
  driver: none
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "app", cfg.Cache.KeyPrefix)
	require.Equal(t, 2*time.Second, cfg.Cache.MaxWait)
	require.Equal(t, LocalRistretto, cfg.Backend.Local)
	require.Equal(t, int64(500), cfg.Backend.MaxItems)
	require.True(t, cfg.Backend.Breaker.Enabled)
	require.Equal(t, "quick", cfg.Transport.BreakerPreset)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load()
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"local":      func(c *Config) { c.Backend.Local = "disk" },
		"preset":     func(c *Config) { c.Transport.BreakerPreset = "yolo" },
		"driver":     func(c *Config) { c.Logging.Driver = "printf" },
		"level":      func(c *Config) { c.Logging.Level = "trace" },
		"prefix":     func(c *Config) { c.Cache.KeyPrefix = "a*" },
		"wait":       func(c *Config) { c.Cache.MaxWait = c.Cache.LockTTL },
		"upstash":    func(c *Config) { c.Upstash.URL = "https://x" },
		"negative":   func(c *Config) { c.Transport.Timeout = -time.Second },
		"ristretto0": func(c *Config) { c.Backend.Local, c.Backend.MaxItems = LocalRistretto, 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := *base
			mutate(&c)
			require.Error(t, c.Validate())
		})
	}
	require.NoError(t, base.Validate())
}

func TestOpenBackendPrecedence(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg, err := Load()
	require.NoError(t, err)

	be, kind, err := OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, KindLocal, kind)
	require.IsType(t, &memory.Store{}, be)
	require.NoError(t, be.Close(ctx))

	cfg.Redis.URL = "redis://" + mr.Addr()
	be, kind, err = OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, KindRedis, kind)
	require.IsType(t, &redis.Store{}, be)
	require.NoError(t, be.Close(ctx))

	cfg.Upstash.URL, cfg.Upstash.Token = "https://eu1.example.upstash.io", "t"
	be, kind, err = OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	require.Equal(t, KindUpstash, kind)
	require.IsType(t, &upstash.Store{}, be)
}

func TestOpenBackendLocalKinds(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Backend.Local = LocalRistretto
	be, _, err := OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &ristretto.Store{}, be)
	require.NoError(t, be.Close(ctx))

	cfg.Backend.Local = LocalBigcache
	cfg.Backend.Breaker.Enabled = true
	be, _, err = OpenBackend(ctx, cfg, nil)
	require.NoError(t, err)
	wrapped, ok := be.(*bbreaker.Store)
	require.True(t, ok, "breaker not applied")
	require.IsType(t, &bigcache.Store{}, wrapped.Unwrap())
	require.NoError(t, be.Close(ctx))
}

func TestOpenBackendRedisDownStillOpens(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Redis.URL = "redis://127.0.0.1:1"
	cfg.Redis.PingTimeout = 50 * time.Millisecond

	be, kind, err := OpenBackend(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Equal(t, KindRedis, kind)
	require.NoError(t, be.Close(context.Background()))

	cfg.Redis.URL = "not a url"
	_, _, err = OpenBackend(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestNewServiceEndToEnd(t *testing.T) {
	clearEnv(t)
	ctx := context.Background()
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Cache.KeyPrefix = "e2e"

	s, err := NewService(ctx, cfg, nil, nil)
	require.NoError(t, err)
	defer s.Close(ctx)

	calls := 0
	compute := func(context.Context) ([]byte, error) { calls++; return []byte("v"), nil }
	for i := 0; i < 2; i++ {
		v, err := s.GetOrCompute(ctx, "k", compute)
		require.NoError(t, err)
		require.Equal(t, "v", string(v))
	}
	require.Equal(t, 1, calls)

	_, ok, err := s.Backend().Get(ctx, "e2e:k")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestNewTransportUsesPreset(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Transport.BreakerPreset = "conservative"

	var transitions []breaker.State
	c := NewTransport(cfg, logging.Nop{}, func(_ string, _, to breaker.State) { transitions = append(transitions, to) })
	require.Equal(t, 10, c.Breaker().Options().FailureThreshold)
	require.Equal(t, 3, c.Stats().Config.Retries)

	for i := 0; i < 10; i++ {
		c.Breaker().RecordFailure("api.example.com")
	}
	require.Equal(t, []breaker.State{breaker.StateOpen}, transitions)
}

func TestNewLogger(t *testing.T) {
	for _, d := range []string{"zap", "logrus", "slog", "none"} {
		l, err := NewLogger(LoggingConfig{Driver: d, Level: "warn"})
		require.NoError(t, err, d)
		require.NotNil(t, l, d)
	}
	_, err := NewLogger(LoggingConfig{Driver: "zap", Level: "loud"})
	require.Error(t, err)
}
