package bulwark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/bulwark/codec"
)

const warmupConcurrency = 8

// Cache is a typed view over a Service. Views share the service's backend,
// prefix, stats and hooks; each view coalesces its own in-flight misses.
type Cache[V any] struct {
	s  *Service
	cd codec.Codec[V]
	sf singleflight.Group
}

// NewCache returns a typed view. A nil codec means JSON.
func NewCache[V any](s *Service, cd codec.Codec[V]) *Cache[V] {
	if cd == nil {
		cd = codec.JSON[V]{}
	}
	return &Cache[V]{s: s, cd: cd}
}

func (c *Cache[V]) Service() *Service { return c.s }

func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute func(context.Context) (V, error), opts ...CallOption) (V, error) {
	return getOrCompute(ctx, c.s, &c.sf, c.cd, key, compute, opts)
}

func (c *Cache[V]) Get(ctx context.Context, key string, opts ...CallOption) (V, bool, error) {
	return get(ctx, c.s, c.cd, key, opts)
}

func (c *Cache[V]) Set(ctx context.Context, key string, v V, opts ...CallOption) error {
	return set(ctx, c.s, c.cd, key, v, opts)
}

// WarmItem is one entry for Warmup. Load runs only for items without a
// Value; a zero TTL uses the service default.
type WarmItem[V any] struct {
	Key   string
	Value V
	Load  func(context.Context) (V, error)
	TTL   time.Duration
	Tags  []string
}

// Warmup writes items concurrently. Every item is attempted; failures are
// joined into the returned error.
func (c *Cache[V]) Warmup(ctx context.Context, items ...WarmItem[V]) error {
	var g errgroup.Group
	g.SetLimit(warmupConcurrency)
	errs := make([]error, len(items))

	for i, it := range items {
		g.Go(func() error {
			v := it.Value
			if it.Load != nil {
				lv, err := it.Load(ctx)
				if err != nil {
					errs[i] = fmt.Errorf("warmup %q: %w", it.Key, err)
					return nil
				}
				v = lv
			}
			opts := []CallOption{WithTTL(it.TTL)}
			if len(it.Tags) > 0 {
				opts = append(opts, WithTags(it.Tags...))
			}
			if err := c.Set(ctx, it.Key, v, opts...); err != nil {
				errs[i] = fmt.Errorf("warmup %q: %w", it.Key, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	if err != nil {
		c.s.log.Warn("cache warmup incomplete", Fields{"items": len(items), "err": err.Error()})
	} else {
		c.s.log.Debug("cache warmed", Fields{"items": len(items)})
	}
	return err
}

// GetOrCompute is the one-shot typed form over a Service, encoding with JSON.
// Concurrent misses are coalesced through the service's own flight group.
func GetOrCompute[V any](ctx context.Context, s *Service, key string, compute func(context.Context) (V, error), opts ...CallOption) (V, error) {
	return getOrCompute(ctx, s, &s.sf, codec.JSON[V]{}, key, compute, opts)
}
