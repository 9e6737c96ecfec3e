package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/unkn0wn-root/bulwark"
	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/backend/bigcache"
	bbreaker "github.com/unkn0wn-root/bulwark/backend/breaker"
	"github.com/unkn0wn-root/bulwark/backend/memory"
	"github.com/unkn0wn-root/bulwark/backend/redis"
	"github.com/unkn0wn-root/bulwark/backend/ristretto"
	"github.com/unkn0wn-root/bulwark/backend/upstash"
	"github.com/unkn0wn-root/bulwark/breaker"
	logruslog "github.com/unkn0wn-root/bulwark/log/logrus"
	slogadapter "github.com/unkn0wn-root/bulwark/log/slog"
	zaplog "github.com/unkn0wn-root/bulwark/log/zap"
	"github.com/unkn0wn-root/bulwark/logging"
	"github.com/unkn0wn-root/bulwark/transport"
)

// Local store names for backend.local.
const (
	LocalMemory    = "memory"
	LocalRistretto = "ristretto"
	LocalBigcache  = "bigcache"
)

// Kind names the store OpenBackend selected.
type Kind string

const (
	KindUpstash Kind = "upstash"
	KindRedis   Kind = "redis"
	KindLocal   Kind = "local"
)

// NewLogger builds the configured logger. Driver "none" yields logging.Nop.
func NewLogger(c LoggingConfig) (logging.Logger, error) {
	switch c.Driver {
	case "zap":
		return zaplog.New(c.Level)
	case "logrus":
		return logruslog.New(c.Level)
	case "slog":
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
		return slogadapter.Logger{L: slog.New(h)}, nil
	case "none", "":
		return logging.Nop{}, nil
	default:
		return nil, fmt.Errorf("config: unknown logging driver %q", c.Driver)
	}
}

// OpenBackend selects the store: Upstash when its URL and token are set,
// else Redis when a URL is set, else the configured local store. A failed
// Redis ping is logged, not fatal; the cache computes until Redis answers.
func OpenBackend(ctx context.Context, cfg *Config, log logging.Logger) (backend.Backend, Kind, error) {
	log = logging.OrNop(log)

	var (
		be   backend.Backend
		kind Kind
		err  error
	)
	switch {
	case cfg.Upstash.URL != "" && cfg.Upstash.Token != "":
		kind = KindUpstash
		be, err = upstash.New(upstash.Config{
			URL:   cfg.Upstash.URL,
			Token: cfg.Upstash.Token,
			Client: transport.New(transport.Config{
				Timeout: cfg.Upstash.Timeout,
				Retries: retries(cfg.Upstash.Retries),
				Logger:  log,
			}),
		})
	case cfg.Redis.URL != "":
		kind = KindRedis
		var rs *redis.Store
		rs, err = redis.Dial(cfg.Redis.URL)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, cfg.Redis.PingTimeout)
			if perr := rs.Ping(pctx); perr != nil {
				log.Warn("redis not reachable at startup; cache degrades to compute", logging.Fields{"err": perr.Error()})
			}
			cancel()
			be = rs
		}
	default:
		kind = KindLocal
		be, err = openLocal(ctx, cfg.Backend)
	}
	if err != nil {
		return nil, kind, fmt.Errorf("config: open %s backend: %w", kind, err)
	}

	if cfg.Backend.Breaker.Enabled {
		wrapped, err := bbreaker.Wrap(be, bbreaker.Config{
			Name:                string(kind),
			ConsecutiveFailures: cfg.Backend.Breaker.ConsecutiveFailures,
			Timeout:             cfg.Backend.Breaker.Timeout,
			Logger:              log,
		})
		if err != nil {
			_ = be.Close(ctx)
			return nil, kind, err
		}
		be = wrapped
	}

	log.Info("cache backend selected", logging.Fields{"kind": string(kind), "breaker": cfg.Backend.Breaker.Enabled})
	return be, kind, nil
}

func openLocal(ctx context.Context, c BackendConfig) (backend.Backend, error) {
	switch c.Local {
	case LocalRistretto:
		return ristretto.New(ristretto.DefaultConfig(c.MaxItems))
	case LocalBigcache:
		return bigcache.New(ctx, bigcache.Config{LifeWindow: c.LifeWindow, Shards: c.Shards})
	default:
		return memory.New(memory.Config{CleanupInterval: c.CleanupInterval}), nil
	}
}

// retries maps a configured 0 to "no retries"; transport treats 0 as its default.
func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

// NewService opens the backend and builds a Service on it. Hooks and tracer
// are optional.
func NewService(ctx context.Context, cfg *Config, log logging.Logger, hooks bulwark.Hooks) (*bulwark.Service, error) {
	be, _, err := OpenBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	s, err := bulwark.New(bulwark.Options{
		Backend:           be,
		Logger:            log,
		Hooks:             hooks,
		DefaultTTL:        cfg.Cache.DefaultTTL,
		KeyPrefix:         cfg.Cache.KeyPrefix,
		LockTTL:           cfg.Cache.LockTTL,
		PollInterval:      cfg.Cache.PollInterval,
		MaxWait:           cfg.Cache.MaxWait,
		ScanCount:         cfg.Cache.ScanCount,
		DeleteBatch:       cfg.Cache.DeleteBatch,
		DisableCoalescing: cfg.Cache.DisableCoalescing,
	})
	if err != nil {
		_ = be.Close(ctx)
		return nil, err
	}
	return s, nil
}

// BreakerOptions returns the preset named by transport.breaker_preset.
func BreakerOptions(preset string) breaker.Options {
	switch preset {
	case "quick":
		return breaker.Quick()
	case "conservative":
		return breaker.Conservative()
	default:
		return breaker.Standard()
	}
}

// NewTransport builds the outbound HTTP client. onState, when set, observes
// per-host circuit transitions.
func NewTransport(cfg *Config, log logging.Logger, onState func(host string, from, to breaker.State)) *transport.Client {
	bo := BreakerOptions(cfg.Transport.BreakerPreset)
	bo.Logger = log
	bo.OnStateChange = onState
	return transport.New(transport.Config{
		Timeout:       cfg.Transport.Timeout,
		Retries:       retries(cfg.Transport.Retries),
		RetryDelay:    cfg.Transport.RetryDelay,
		MaxRetryDelay: cfg.Transport.MaxRetryDelay,
		UserAgent:     cfg.Transport.UserAgent,
		Pool: transport.Pool{
			MaxConnsPerHost: cfg.Transport.MaxConnsPerHost,
			IdleConnTimeout: cfg.Transport.IdleConnTimeout,
		},
		Breaker: breaker.New(bo),
		Logger:  log,
	})
}
