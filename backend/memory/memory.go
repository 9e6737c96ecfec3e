// Package memory is the in-process fallback store: a mutex-guarded map with
// per-entry deadlines. It is what the cache runs on when no shared store is
// configured, and what the tests run on.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/bulwark/backend"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	m    map[string]entry
	now  func() time.Time
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ backend.Backend = (*Store)(nil)

type Config struct {
	// CleanupInterval > 0 starts a sweeper that drops expired entries.
	// Reads already ignore expired entries; the sweeper only bounds memory.
	CleanupInterval time.Duration
	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

func New(cfg Config) *Store {
	s := &Store{m: make(map[string]entry), now: cfg.Clock}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.CleanupInterval > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.sweep(cfg.CleanupInterval)
	}
	return s
}

func (s *Store) sweep(every time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.mu.Lock()
			now := s.now()
			for k, e := range s.m {
				if e.expired(now) {
					delete(s.m, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

// live returns the entry for k, evicting it if expired. Caller holds mu.
func (s *Store) live(k string) (entry, bool) {
	e, ok := s.m[k]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.m, k)
		return entry{}, false
	}
	return e, true
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	e, ok := s.live(key)
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(e.v))
	copy(out, e.v)
	return out, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, opts backend.SetOptions) (bool, error) {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.OnlyIfAbsent {
		if _, ok := s.live(key); ok {
			return false, nil
		}
	}
	var exp time.Time
	if opts.TTL > 0 {
		exp = s.now().Add(opts.TTL)
	}
	s.m[key] = entry{v: v, exp: exp}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	s.mu.Lock()
	for _, k := range keys {
		if _, ok := s.live(k); ok {
			delete(s.m, k)
			n++
		}
	}
	s.mu.Unlock()
	return n, nil
}

// Scan pages over a sorted snapshot of live keys.
func (s *Store) Scan(_ context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	s.mu.Lock()
	now := s.now()
	all := make([]string, 0, len(s.m))
	for k, e := range s.m {
		if !e.expired(now) {
			all = append(all, k)
		}
	}
	s.mu.Unlock()
	return backend.PageSnapshot(all, cursor, match, count)
}

// Len reports the number of stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *Store) Close(context.Context) error {
	s.once.Do(func() {
		if s.stop != nil {
			close(s.stop)
			s.wg.Wait()
		}
	})
	return nil
}
