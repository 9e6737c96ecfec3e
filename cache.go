package bulwark

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/codec"
	"github.com/unkn0wn-root/bulwark/logging"
)

const tracerName = "github.com/unkn0wn-root/bulwark"

// Service is the byte-level cache-aside layer. It is safe for concurrent use;
// create one per backend and share it.
type Service struct {
	be     backend.Backend
	log    Logger
	hooks  Hooks
	tracer trace.Tracer

	ttl          time.Duration
	prefix       string
	lockTTL      time.Duration
	pollInterval time.Duration
	maxWait      time.Duration
	scanCount    int64
	deleteBatch  int
	coalesce     bool

	owner string // lock value prefix, unique per Service
	seq   atomic.Uint64
	sf    singleflight.Group

	hits, misses atomic.Int64
	closed       atomic.Bool
}

func New(opts Options) (*Service, error) {
	if opts.DefaultTTL < 0 || opts.LockTTL < 0 || opts.PollInterval < 0 || opts.MaxWait < 0 {
		return nil, fmt.Errorf("bulwark: durations must not be negative")
	}
	if opts.ScanCount < 0 || opts.DeleteBatch < 0 {
		return nil, fmt.Errorf("bulwark: batch sizes must not be negative")
	}
	if strings.Contains(opts.KeyPrefix, "*") {
		return nil, fmt.Errorf("bulwark: key prefix %q contains a glob", opts.KeyPrefix)
	}

	s := &Service{
		be:       opts.Backend,
		coalesce: !opts.DisableCoalescing,
		owner:    uuid.NewString(),
	}

	// defaults
	s.log = logging.OrNop(opts.Logger)
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.tracer = opts.Tracer
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.be == nil {
		s.be = noBackend{}
		s.log.Warn("no cache backend configured; every call computes", nil)
	}
	s.ttl = coalesce(opts.DefaultTTL, DefaultTTL)
	s.prefix = coalesce(opts.KeyPrefix, DefaultKeyPrefix)
	s.lockTTL = coalesce(opts.LockTTL, DefaultLockTTL)
	s.pollInterval = coalesce(opts.PollInterval, DefaultPollInterval)
	s.maxWait = coalesce(opts.MaxWait, DefaultMaxWait)
	s.scanCount = coalesce(opts.ScanCount, int64(DefaultScanCount))
	s.deleteBatch = coalesce(opts.DeleteBatch, DefaultDeleteBatch)

	if s.maxWait >= s.lockTTL {
		s.log.Warn("max wait is not below lock ttl; waiters may outlive a stalled owner", Fields{
			"max_wait": s.maxWait.String(), "lock_ttl": s.lockTTL.String(),
		})
	}
	return s, nil
}

// Backend returns the store the service writes to.
func (s *Service) Backend() backend.Backend { return s.be }

// Close closes the backend. Further calls fail with ErrClosed.
func (s *Service) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.be.Close(ctx)
}

// GetOrCompute returns the cached bytes for key or computes, stores and
// returns them. Backend failures never surface; compute errors do, unchanged.
func (s *Service) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error), opts ...CallOption) ([]byte, error) {
	return getOrCompute(ctx, s, &s.sf, codec.Bytes{}, key, compute, opts)
}

// Get reads key without computing. Backend errors read as a miss; the error
// return is reserved for invalid input.
func (s *Service) Get(ctx context.Context, key string, opts ...CallOption) ([]byte, bool, error) {
	return get(ctx, s, codec.Bytes{}, key, opts)
}

// Set writes value unconditionally. Backend errors are logged and dropped.
func (s *Service) Set(ctx context.Context, key string, value []byte, opts ...CallOption) error {
	return set(ctx, s, codec.Bytes{}, key, value, opts)
}

// Delete removes keys (prefixed like every other call) and reports how many
// existed. Empty input is a no-op; backend errors are logged and count as 0.
func (s *Service) Delete(ctx context.Context, keys []string, opts ...CallOption) int {
	if len(keys) == 0 || s.closed.Load() {
		return 0
	}
	co, err := s.callOptions(opts)
	if err != nil {
		return 0
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			full = append(full, co.fullKey(k))
		}
	}
	removed := 0
	for start := 0; start < len(full); start += s.deleteBatch {
		end := min(start+s.deleteBatch, len(full))
		n, err := s.be.Del(ctx, full[start:end]...)
		if err != nil {
			s.backendError("del", full[start], err)
			continue
		}
		removed += int(n)
	}
	return removed
}

func (s *Service) hit(prefix string) {
	s.hits.Add(1)
	s.hooks.Lookup(prefix, true)
}

func (s *Service) miss(prefix string) {
	s.misses.Add(1)
	s.hooks.Lookup(prefix, false)
}

func (s *Service) backendError(op, key string, err error) {
	s.hooks.BackendError(op, key, err)
	s.log.Warn("cache backend error; degrading", Fields{"op": op, "key": key, "err": err.Error()})
}

// checkTags warns when a tag cannot be found by InvalidateByTags. A tag is
// found the way its scan patterns find it: bounded by ':' on the left and by
// ':' or the end of the key on the right, so tags may contain ':' themselves.
func (s *Service) checkTags(full string, tags []string) {
	for _, t := range tags {
		seg := ":" + t
		if strings.Contains(full, seg+":") || strings.HasSuffix(full, seg) {
			continue
		}
		s.hooks.TagNotInKey(full, t)
		s.log.Warn("tag is not a key segment; tag invalidation will miss this entry", Fields{"key": full, "tag": t})
	}
}

// noBackend stands in when no store is configured: every read misses and
// every lock is granted, so each call computes.
type noBackend struct{}

func (noBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (noBackend) Set(context.Context, string, []byte, backend.SetOptions) (bool, error) {
	return true, nil
}
func (noBackend) Del(context.Context, ...string) (int64, error) { return 0, nil }
func (noBackend) Scan(context.Context, string, string, int64) (backend.ScanPage, error) {
	return backend.ScanPage{Cursor: backend.CursorStart}, nil
}
func (noBackend) Close(context.Context) error { return nil }
