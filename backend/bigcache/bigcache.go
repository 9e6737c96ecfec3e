// Package bigcache backs the cache with allegro/bigcache.
//
// bigcache only knows a global LifeWindow, so each value is stored inside a
// wire envelope carrying its own deadline; expired envelopes read as misses.
// No entry outlives LifeWindow, whatever its TTL.
package bigcache

import (
	"context"
	"errors"
	"sync"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/internal/wire"
)

type Store struct {
	c   *bc.BigCache
	mu  sync.Mutex // serializes writes so OnlyIfAbsent is atomic
	now func() time.Time
}

var _ backend.Backend = (*Store)(nil)

type Config struct {
	LifeWindow         time.Duration // 0 => 1h
	CleanWindow        time.Duration
	Shards             int
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Clock              func() time.Time
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = time.Hour
	}
	conf := bc.DefaultConfig(life)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Store{c: c, now: now}, nil
}

// load returns the payload for key. Expired or corrupt envelopes are deleted.
func (s *Store) load(key string) ([]byte, bool, error) {
	raw, err := s.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	dl, payload, err := wire.DecodeEntry(raw)
	if err != nil || wire.Expired(dl, s.now()) {
		_ = s.c.Delete(key)
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	p, ok, err := s.load(key)
	if !ok || err != nil {
		return nil, false, err
	}
	// bigcache returns a copy; the payload aliases it and is safe to hand out.
	return p, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, opts backend.SetOptions) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.OnlyIfAbsent {
		_, ok, err := s.load(key)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	var dl time.Time
	if opts.TTL > 0 {
		dl = s.now().Add(opts.TTL)
	}
	if err := s.c.Set(key, wire.EncodeEntry(dl, value)); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		_, ok, err := s.load(k)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if err := s.c.Delete(k); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) Scan(_ context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	now := s.now()
	var all []string
	it := s.c.Iterator()
	for it.SetNext() {
		e, err := it.Value()
		if err != nil {
			continue // entry vanished mid-iteration
		}
		dl, _, err := wire.DecodeEntry(e.Value())
		if err != nil || wire.Expired(dl, now) {
			continue
		}
		all = append(all, e.Key())
	}
	return backend.PageSnapshot(all, cursor, match, count)
}

// Len reports bigcache's entry count, including expired envelopes not yet read.
func (s *Store) Len() int { return s.c.Len() }

func (s *Store) Close(context.Context) error {
	return s.c.Close()
}
