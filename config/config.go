// Package config loads bulwark settings with viper and builds the cache
// service, its backend and the outbound transport from them.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "BULWARK"

// Config is the complete configuration. Every field has a default, so an
// empty environment yields a working in-process setup.
type Config struct {
	Cache     CacheConfig     `mapstructure:"cache"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Upstash   UpstashConfig   `mapstructure:"upstash"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Transport TransportConfig `mapstructure:"transport"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type CacheConfig struct {
	KeyPrefix         string        `mapstructure:"key_prefix"`
	DefaultTTL        time.Duration `mapstructure:"default_ttl"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	MaxWait           time.Duration `mapstructure:"max_wait"`
	ScanCount         int64         `mapstructure:"scan_count"`
	DeleteBatch       int           `mapstructure:"delete_batch"`
	DisableCoalescing bool          `mapstructure:"disable_coalescing"`
}

// BackendConfig picks the in-process store used when neither Upstash nor
// Redis is configured, and the optional outage breaker around any store.
type BackendConfig struct {
	Local           string        `mapstructure:"local"` // memory | ristretto | bigcache
	MaxItems        int64         `mapstructure:"max_items"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	LifeWindow      time.Duration `mapstructure:"life_window"`
	Shards          int           `mapstructure:"shards"`

	Breaker BackendBreakerConfig `mapstructure:"breaker"`
}

type BackendBreakerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

type UpstashConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	PingTimeout time.Duration `mapstructure:"ping_timeout"`
}

type TransportConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	Retries         int           `mapstructure:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	MaxRetryDelay   time.Duration `mapstructure:"max_retry_delay"`
	UserAgent       string        `mapstructure:"user_agent"`
	BreakerPreset   string        `mapstructure:"breaker_preset"` // quick | standard | conservative
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`
}

type LoggingConfig struct {
	Driver string `mapstructure:"driver"` // zap | logrus | slog | none
	Level  string `mapstructure:"level"`
}

// Load reads defaults, then the first config file in paths (or ./bulwark.yaml
// when present), then the environment. Keys map to BULWARK_<SECTION>_<KEY>;
// UPSTASH_REDIS_REST_URL, UPSTASH_REDIS_REST_TOKEN and REDIS_URL are honored
// too.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if len(paths) > 0 && paths[0] != "" {
		v.SetConfigFile(paths[0])
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", paths[0], err)
		}
	} else {
		v.SetConfigName("bulwark")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range map[string][]string{
		"upstash.url":   {"BULWARK_UPSTASH_URL", "UPSTASH_REDIS_REST_URL"},
		"upstash.token": {"BULWARK_UPSTASH_TOKEN", "UPSTASH_REDIS_REST_TOKEN"},
		"redis.url":     {"BULWARK_REDIS_URL", "REDIS_URL"},
	} {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// cache
	v.SetDefault("cache.key_prefix", "cache")
	v.SetDefault("cache.default_ttl", "5m")
	v.SetDefault("cache.lock_ttl", "10s")
	v.SetDefault("cache.poll_interval", "100ms")
	v.SetDefault("cache.max_wait", "5s")
	v.SetDefault("cache.scan_count", 100)
	v.SetDefault("cache.delete_batch", 100)
	v.SetDefault("cache.disable_coalescing", false)

	// backend
	v.SetDefault("backend.local", "memory")
	v.SetDefault("backend.max_items", 100_000)
	v.SetDefault("backend.cleanup_interval", "1m")
	v.SetDefault("backend.life_window", "1h")
	v.SetDefault("backend.shards", 256)
	v.SetDefault("backend.breaker.enabled", false)
	v.SetDefault("backend.breaker.consecutive_failures", 5)
	v.SetDefault("backend.breaker.timeout", "30s")

	// remote stores
	v.SetDefault("upstash.url", "")
	v.SetDefault("upstash.token", "")
	v.SetDefault("upstash.timeout", "5s")
	v.SetDefault("upstash.retries", 1)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.ping_timeout", "2s")

	// transport
	v.SetDefault("transport.timeout", "30s")
	v.SetDefault("transport.retries", 3)
	v.SetDefault("transport.retry_delay", "1s")
	v.SetDefault("transport.max_retry_delay", "30s")
	v.SetDefault("transport.user_agent", "bulwark-transport/1.0")
	v.SetDefault("transport.breaker_preset", "standard")
	v.SetDefault("transport.max_conns_per_host", 50)
	v.SetDefault("transport.idle_conn_timeout", "60s")

	// logging
	v.SetDefault("logging.driver", "zap")
	v.SetDefault("logging.level", "info")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Backend.Local {
	case LocalMemory, LocalRistretto, LocalBigcache:
	default:
		return fmt.Errorf("config: backend.local %q: want memory, ristretto or bigcache", c.Backend.Local)
	}
	switch c.Transport.BreakerPreset {
	case "quick", "standard", "conservative":
	default:
		return fmt.Errorf("config: transport.breaker_preset %q: want quick, standard or conservative", c.Transport.BreakerPreset)
	}
	switch c.Logging.Driver {
	case "zap", "logrus", "slog", "none":
	default:
		return fmt.Errorf("config: logging.driver %q: want zap, logrus, slog or none", c.Logging.Driver)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: logging.level %q: want debug, info, warn or error", c.Logging.Level)
	}
	if strings.Contains(c.Cache.KeyPrefix, "*") {
		return fmt.Errorf("config: cache.key_prefix %q must not contain '*'", c.Cache.KeyPrefix)
	}
	if c.Cache.MaxWait >= c.Cache.LockTTL && c.Cache.LockTTL > 0 {
		return fmt.Errorf("config: cache.max_wait (%s) must be below cache.lock_ttl (%s)", c.Cache.MaxWait, c.Cache.LockTTL)
	}
	if (c.Upstash.URL == "") != (c.Upstash.Token == "") {
		return errors.New("config: upstash.url and upstash.token must be set together")
	}
	for name, d := range map[string]time.Duration{
		"cache.default_ttl":   c.Cache.DefaultTTL,
		"cache.poll_interval": c.Cache.PollInterval,
		"transport.timeout":   c.Transport.Timeout,
		"upstash.timeout":     c.Upstash.Timeout,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	if c.Backend.Local == LocalRistretto && c.Backend.MaxItems <= 0 {
		return errors.New("config: backend.max_items must be positive for ristretto")
	}
	return nil
}
