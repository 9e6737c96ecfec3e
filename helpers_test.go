package bulwark

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/backend/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recHooks records the events tests assert on.
type recHooks struct {
	NopHooks
	mu        sync.Mutex
	fallbacks []string
	decodes   int
	contended int
	untagged  []string
	backend   []string
}

func (h *recHooks) FallbackCompute(_, reason string) {
	h.mu.Lock()
	h.fallbacks = append(h.fallbacks, reason)
	h.mu.Unlock()
}

func (h *recHooks) DecodeError(string, error) {
	h.mu.Lock()
	h.decodes++
	h.mu.Unlock()
}

func (h *recHooks) LockContended(string) {
	h.mu.Lock()
	h.contended++
	h.mu.Unlock()
}

func (h *recHooks) TagNotInKey(_, tag string) {
	h.mu.Lock()
	h.untagged = append(h.untagged, tag)
	h.mu.Unlock()
}

func (h *recHooks) BackendError(op, _ string, _ error) {
	h.mu.Lock()
	h.backend = append(h.backend, op)
	h.mu.Unlock()
}

func (h *recHooks) reasons() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.fallbacks...)
}

func newService(t *testing.T, be backend.Backend, opts Options) *Service {
	t.Helper()
	opts.Backend = be
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func newMemory(t *testing.T, c *clock) *memory.Store {
	t.Helper()
	cfg := memory.Config{}
	if c != nil {
		cfg.Clock = c.Now
	}
	st := memory.New(cfg)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

// counter returns a compute func that counts calls and returns v.
func counter(v string, delay time.Duration) (func(context.Context) ([]byte, error), *atomic.Int64) {
	var n atomic.Int64
	return func(context.Context) ([]byte, error) {
		n.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return []byte(v), nil
	}, &n
}

var errDown = errors.New("backend down")

// downBackend fails every call.
type downBackend struct{}

func (downBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (downBackend) Set(context.Context, string, []byte, backend.SetOptions) (bool, error) {
	return false, errDown
}
func (downBackend) Del(context.Context, ...string) (int64, error) { return 0, errDown }
func (downBackend) Scan(context.Context, string, string, int64) (backend.ScanPage, error) {
	return backend.ScanPage{}, errDown
}
func (downBackend) Close(context.Context) error { return nil }

// flakyScan serves the first scan page and fails the rest.
type flakyScan struct {
	backend.Backend
	calls atomic.Int64
}

func (f *flakyScan) Scan(ctx context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	if f.calls.Add(1) > 1 {
		return backend.ScanPage{}, errDown
	}
	return f.Backend.Scan(ctx, cursor, match, count)
}

func mustSet(t *testing.T, be backend.Backend, key, val string, ttl time.Duration) {
	t.Helper()
	if _, err := be.Set(context.Background(), key, []byte(val), backend.SetOptions{TTL: ttl}); err != nil {
		t.Fatalf("set %q: %v", key, err)
	}
}

func exists(t *testing.T, be backend.Backend, key string) bool {
	t.Helper()
	_, ok, err := be.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %q: %v", key, err)
	}
	return ok
}
