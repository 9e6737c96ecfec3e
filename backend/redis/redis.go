// Package redis adapts a go-redis client to backend.Backend.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/bulwark/backend"
)

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ backend.Backend = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, backend.ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// Dial parses a redis:// or rediss:// URL and returns a store that owns the client.
func Dial(url string) (*Store, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return New(Config{Client: goredis.NewClient(opt), CloseClient: true})
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, opts backend.SetOptions) (bool, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 0 // no expiry
	}
	if opts.OnlyIfAbsent {
		return s.rdb.SetNX(ctx, key, value, ttl).Result()
	}
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return s.rdb.Del(ctx, keys...).Result()
}

// Scan issues one SCAN round. With a cluster client only the node serving
// the call is scanned.
func (s *Store) Scan(ctx context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	keys, next, err := s.rdb.Scan(ctx, backend.ParseCursor(cursor), match, count).Result()
	if err != nil {
		return backend.ScanPage{}, err
	}
	return backend.ScanPage{Cursor: backend.NormalizeCursor(next), Keys: keys}, nil
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

// TTL reports the remaining lifetime of key; -1 when it has none, -2 when absent.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.rdb.TTL(ctx, key).Result()
}
