package bulwark

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/bulwark/backend"
)

// Options tune a Service. Everything is optional; a nil Backend means no
// caching at all and every call computes.
type Options struct {
	Backend backend.Backend
	Logger  Logger // if nil, NopLogger is used
	Hooks   Hooks  // if nil, NopHooks is used
	Tracer  trace.Tracer

	DefaultTTL time.Duration // per-call default; 0 => 5m
	KeyPrefix  string        // "" => "cache"

	// Stampede guard timings. MaxWait should stay below LockTTL so a waiter
	// gives up before a stalled owner's lock expires.
	LockTTL      time.Duration // 0 => 10s
	PollInterval time.Duration // 0 => 100ms
	MaxWait      time.Duration // 0 => 5s

	ScanCount   int64 // keys per SCAN round; 0 => 100
	DeleteBatch int   // keys per DEL; 0 => 100

	// DisableCoalescing turns off in-process deduplication of concurrent
	// misses so every caller goes through the distributed lock.
	DisableCoalescing bool
}

// CallOption adjusts a single call. Options are immutable per call.
type CallOption func(*callOptions)

type callOptions struct {
	ttl       time.Duration
	tags      []string
	force     bool
	prefix    string
	prefixSet bool
}

// WithTTL sets the entry lifetime. Zero keeps the service default.
func WithTTL(d time.Duration) CallOption { return func(o *callOptions) { o.ttl = d } }

// WithTags declares the tags a value belongs to. Tags are not stored; they are
// checked against the key's segments so InvalidateByTags can find the entry.
func WithTags(tags ...string) CallOption {
	return func(o *callOptions) { o.tags = append(o.tags, tags...) }
}

// WithForceRevalidate skips the read and the lock, recomputes and overwrites.
func WithForceRevalidate() CallOption { return func(o *callOptions) { o.force = true } }

// WithKeyPrefix overrides the service prefix. An empty prefix stores the key
// as given.
func WithKeyPrefix(p string) CallOption {
	return func(o *callOptions) { o.prefix, o.prefixSet = p, true }
}

func (s *Service) callOptions(opts []CallOption) (callOptions, error) {
	co := callOptions{}
	for _, o := range opts {
		if o != nil {
			o(&co)
		}
	}
	if co.ttl < 0 {
		return co, ErrInvalidTTL
	}
	co.ttl = coalesce(co.ttl, s.ttl)
	if !co.prefixSet {
		co.prefix = s.prefix
	}
	return co, nil
}

func (co callOptions) fullKey(key string) string {
	if co.prefix == "" {
		return key
	}
	return co.prefix + ":" + key
}
