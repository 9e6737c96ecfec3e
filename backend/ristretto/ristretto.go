// Package ristretto backs the cache with an in-process ristretto store.
//
// ristretto hashes keys and cannot enumerate them, so the store keeps a side
// index of written keys for Scan. Entries evicted by the admission policy are
// pruned from the index lazily, when a read or scan finds them gone.
package ristretto

import (
	"context"
	"errors"
	"sync"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/bulwark/backend"
)

type Store struct {
	c  *rc.Cache
	mu sync.Mutex          // serializes writes so OnlyIfAbsent is atomic
	ix map[string]time.Time // key -> deadline (zero => none)
}

var _ backend.Backend = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	Metrics     bool
}

// DefaultConfig sizes the store for roughly maxItems unit-cost entries.
func DefaultConfig(maxItems int64) Config {
	return Config{NumCounters: maxItems * 10, MaxCost: maxItems, BufferItems: 64}
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c, ix: make(map[string]time.Time)}, nil
}

// Get leaves the key index alone; Scan prunes it under mu, where a miss
// cannot race a Set that is indexing the same key.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func (s *Store) get(key string) ([]byte, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		s.c.Del(key)
		return nil, false
	}
	return b, true
}

// Set writes with unit cost and waits for the write buffer to drain so the
// value is visible to the next Get. ok=false also covers a write the
// admission policy rejected.
func (s *Store) Set(_ context.Context, key string, value []byte, opts backend.SetOptions) (bool, error) {
	ttl := opts.TTL
	if ttl < 0 {
		ttl = 0
	}
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.OnlyIfAbsent {
		if _, ok := s.get(key); ok {
			return false, nil
		}
	}
	if !s.c.SetWithTTL(key, v, 1, ttl) {
		return false, nil
	}
	s.c.Wait()
	if _, ok := s.c.Get(key); !ok {
		return false, nil
	}
	var dl time.Time
	if ttl > 0 {
		dl = time.Now().Add(ttl)
	}
	s.ix[key] = dl
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if _, ok := s.get(k); ok {
			n++
		}
		s.c.Del(k)
		delete(s.ix, k)
	}
	if n > 0 {
		s.c.Wait()
	}
	return n, nil
}

func (s *Store) Scan(_ context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	s.mu.Lock()
	now := time.Now()
	all := make([]string, 0, len(s.ix))
	for k, dl := range s.ix {
		if !dl.IsZero() && !now.Before(dl) {
			delete(s.ix, k)
			continue
		}
		if _, ok := s.get(k); !ok {
			delete(s.ix, k)
			continue
		}
		all = append(all, k)
	}
	s.mu.Unlock()
	return backend.PageSnapshot(all, cursor, match, count)
}

func (s *Store) Close(context.Context) error {
	s.c.Wait()
	s.c.Close()
	return nil
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
