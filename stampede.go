package bulwark

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/codec"
)

// Outcome labels recorded on spans.
const (
	pathHit      = "hit"
	pathForced   = "forced"
	pathLocked   = "locked"
	pathWaited   = "waited"
	pathFallback = "fallback"
	pathShared   = "shared"
)

type flightResult[V any] struct {
	v    V
	path string
}

func getOrCompute[V any](
	ctx context.Context,
	s *Service,
	sf *singleflight.Group,
	cd codec.Codec[V],
	key string,
	compute func(context.Context) (V, error),
	opts []CallOption,
) (V, error) {
	var zero V
	if key == "" {
		return zero, ErrEmptyKey
	}
	if compute == nil {
		return zero, ErrNilCompute
	}
	if s.closed.Load() {
		return zero, ErrClosed
	}
	co, err := s.callOptions(opts)
	if err != nil {
		return zero, err
	}
	full := co.fullKey(key)
	s.checkTags(full, co.tags)

	ctx, span := s.tracer.Start(ctx, "bulwark.GetOrCompute", trace.WithAttributes(
		attribute.String("cache.key", full),
	))
	defer span.End()

	v, path, err := resolve(ctx, s, sf, cd, full, compute, co)
	span.SetAttributes(attribute.String("cache.path", path))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute failed")
	}
	return v, err
}

func resolve[V any](
	ctx context.Context,
	s *Service,
	sf *singleflight.Group,
	cd codec.Codec[V],
	full string,
	compute func(context.Context) (V, error),
	co callOptions,
) (V, string, error) {
	var zero V

	// caller explicitly wants fresh data
	if co.force {
		s.miss(co.prefix)
		v, err := compute(ctx)
		if err != nil {
			return zero, pathForced, err
		}
		store(ctx, s, cd, full, v, co.ttl)
		return v, pathForced, nil
	}

	if v, ok := load(ctx, s, cd, full); ok {
		s.hit(co.prefix)
		return v, pathHit, nil
	}

	if !s.coalesce || sf == nil {
		v, path, err := fill(ctx, s, cd, full, compute, co)
		s.record(co.prefix, path, err)
		return v, path, err
	}

	// One caller per process runs the miss protocol; the rest share its
	// result. The shared call is detached from the leader's cancellation so
	// one caller giving up does not fail the others.
	leader := false
	ch := sf.DoChan(full, func() (any, error) {
		leader = true
		v, path, err := fill(context.WithoutCancel(ctx), s, cd, full, compute, co)
		return flightResult[V]{v: v, path: path}, err
	})

	select {
	case res := <-ch:
		fr, ok := res.Val.(flightResult[V])
		if leader {
			s.record(co.prefix, fr.path, res.Err)
			return fr.v, fr.path, res.Err
		}
		if res.Err != nil {
			s.miss(co.prefix)
			return zero, pathShared, res.Err
		}
		if !ok {
			// same key shared with a view of another type
			v, path, err := fill(ctx, s, cd, full, compute, co)
			s.record(co.prefix, path, err)
			return v, path, err
		}
		s.hit(co.prefix)
		return fr.v, pathShared, nil
	case <-ctx.Done():
		// the shared fill counts nothing, so a caller leaving early is a miss
		// whether it led the flight or not
		s.miss(co.prefix)
		return zero, pathShared, ctx.Err()
	}
}

// record counts one lookup from the path fill took. Values read from the
// cache, directly or after waiting on the owner, are hits.
func (s *Service) record(prefix, path string, err error) {
	if err == nil && (path == pathHit || path == pathWaited) {
		s.hit(prefix)
		return
	}
	s.miss(prefix)
}

// fill runs the distributed miss protocol for one caller. It records no
// hit or miss; the caller does, once, via record.
func fill[V any](
	ctx context.Context,
	s *Service,
	cd codec.Codec[V],
	full string,
	compute func(context.Context) (V, error),
	co callOptions,
) (V, string, error) {
	var zero V
	lockKey := lockPrefix + full
	token := s.owner + ":" + strconv.FormatUint(s.seq.Add(1), 10)

	acquired, err := s.be.Set(ctx, lockKey, []byte(token), backend.SetOptions{TTL: s.lockTTL, OnlyIfAbsent: true})
	if err != nil {
		s.backendError("lock", lockKey, err)
		return fallback(ctx, s, cd, full, compute, co, "lock_error")
	}

	if acquired {
		defer s.release(ctx, lockKey, token)
		// the previous owner may have filled the key between our read and our lock
		if v, ok := load(ctx, s, cd, full); ok {
			return v, pathHit, nil
		}
		v, err := compute(ctx)
		if err != nil {
			return zero, pathLocked, err
		}
		store(ctx, s, cd, full, v, co.ttl)
		return v, pathLocked, nil
	}

	s.hooks.LockContended(full)
	v, found, reason, err := wait(ctx, s, cd, full, lockKey)
	if err != nil {
		return zero, pathWaited, err
	}
	if found {
		return v, pathWaited, nil
	}
	return fallback(ctx, s, cd, full, compute, co, reason)
}

// wait polls for the owner's value. found=false comes with the reason the
// caller should compute without the lock.
func wait[V any](ctx context.Context, s *Service, cd codec.Codec[V], full, lockKey string) (v V, found bool, reason string, err error) {
	start := time.Now()
	deadline := start.Add(s.maxWait)
	t := time.NewTicker(s.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return v, false, "", ctx.Err()
		case <-t.C:
		}

		if v, ok := load(ctx, s, cd, full); ok {
			return v, true, "", nil
		}

		_, held, lerr := s.be.Get(ctx, lockKey)
		if lerr != nil {
			s.backendError("lock", lockKey, lerr)
			return v, false, "lock_error", nil
		}
		if !held {
			// the owner may have stored and released between the two reads
			if v, ok := load(ctx, s, cd, full); ok {
				return v, true, "", nil
			}
			return v, false, "lock_released", nil
		}
		if !time.Now().Before(deadline) {
			s.log.Debug("lock wait timed out; computing without lock", Fields{
				"key": full, "waited": time.Since(start).String(),
			})
			return v, false, "wait_timeout", nil
		}
	}
}

// fallback computes without the lock. More than one process may get here for
// the same key when an owner stalls; availability wins over exclusivity.
func fallback[V any](
	ctx context.Context,
	s *Service,
	cd codec.Codec[V],
	full string,
	compute func(context.Context) (V, error),
	co callOptions,
	reason string,
) (V, string, error) {
	var zero V
	s.hooks.FallbackCompute(full, reason)
	v, err := compute(ctx)
	if err != nil {
		return zero, pathFallback, err
	}
	store(ctx, s, cd, full, v, co.ttl)
	return v, pathFallback, nil
}

// release deletes the lock if it still carries our token. The check and the
// delete are not atomic; a lock that expired and was re-acquired in between
// is deleted early, which only costs a duplicate compute.
func (s *Service) release(ctx context.Context, lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	cur, ok, err := s.be.Get(ctx, lockKey)
	if err == nil {
		if !ok {
			return
		}
		if string(cur) != token {
			s.log.Debug("lock expired and was taken over; leaving it", Fields{"key": lockKey})
			return
		}
	}
	if _, err := s.be.Del(ctx, lockKey); err != nil {
		s.backendError("unlock", lockKey, err)
	}
}

// load reads and decodes full. Any failure is a miss; undecodable entries are
// dropped so the next writer replaces them.
func load[V any](ctx context.Context, s *Service, cd codec.Codec[V], full string) (V, bool) {
	var zero V
	raw, ok, err := s.be.Get(ctx, full)
	if err != nil {
		s.backendError("get", full, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	v, err := cd.Decode(raw)
	if err != nil {
		s.hooks.DecodeError(full, err)
		s.log.Warn("cached value failed to decode; dropping", Fields{"key": full, "err": err.Error()})
		if _, derr := s.be.Del(ctx, full); derr != nil {
			s.backendError("del", full, derr)
		}
		return zero, false
	}
	return v, true
}

// store encodes and writes v. Failures are logged; caching is advisory.
func store[V any](ctx context.Context, s *Service, cd codec.Codec[V], full string, v V, ttl time.Duration) {
	raw, err := cd.Encode(v)
	if err != nil {
		s.log.Warn("value failed to encode; not caching", Fields{"key": full, "err": err.Error()})
		return
	}
	if _, err := s.be.Set(ctx, full, raw, backend.SetOptions{TTL: ttl}); err != nil {
		s.backendError("set", full, err)
	}
}

func get[V any](ctx context.Context, s *Service, cd codec.Codec[V], key string, opts []CallOption) (V, bool, error) {
	var zero V
	if key == "" {
		return zero, false, ErrEmptyKey
	}
	if s.closed.Load() {
		return zero, false, ErrClosed
	}
	co, err := s.callOptions(opts)
	if err != nil {
		return zero, false, err
	}
	v, ok := load(ctx, s, cd, co.fullKey(key))
	return v, ok, nil
}

func set[V any](ctx context.Context, s *Service, cd codec.Codec[V], key string, v V, opts []CallOption) error {
	if key == "" {
		return ErrEmptyKey
	}
	if s.closed.Load() {
		return ErrClosed
	}
	co, err := s.callOptions(opts)
	if err != nil {
		return err
	}
	full := co.fullKey(key)
	s.checkTags(full, co.tags)
	raw, err := cd.Encode(v)
	if err != nil {
		return fmt.Errorf("bulwark: encode %q: %w", full, err)
	}
	if _, err := s.be.Set(ctx, full, raw, backend.SetOptions{TTL: co.ttl}); err != nil {
		s.backendError("set", full, err)
	}
	return nil
}
