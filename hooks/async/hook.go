// Package asynchook moves hook delivery off the cache's hot path.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{LookupEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker, queue of 1000 events
//	defer hooks.Close()
//
//	svc, _ := bulwark.New(bulwark.Options{Backend: be, Hooks: hooks})
//
// Events are dropped, not blocked on, when the queue is full.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/bulwark"
)

type Hooks struct {
	inner   bulwark.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Uint64
}

var _ bulwark.Hooks = (*Hooks)(nil)

func New(inner bulwark.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = bulwark.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped reports events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Lookup(p string, hit bool) { h.try(func() { h.inner.Lookup(p, hit) }) }
func (h *Hooks) BackendError(op, k string, err error) {
	h.try(func() { h.inner.BackendError(op, k, err) })
}
func (h *Hooks) DecodeError(k string, err error)  { h.try(func() { h.inner.DecodeError(k, err) }) }
func (h *Hooks) LockContended(k string)           { h.try(func() { h.inner.LockContended(k) }) }
func (h *Hooks) FallbackCompute(k, reason string) { h.try(func() { h.inner.FallbackCompute(k, reason) }) }
func (h *Hooks) TagNotInKey(k, tag string)        { h.try(func() { h.inner.TagNotInKey(k, tag) }) }
func (h *Hooks) Invalidated(p string, n int, err error) {
	h.try(func() { h.inner.Invalidated(p, n, err) })
}
