// Package breaker guards a backend.Backend with a gobreaker circuit so a dead
// store is skipped quickly instead of paying a network timeout on every call.
//
// While the circuit is open every call fails with an error wrapping
// backend.ErrUnavailable; the cache treats that like any other backend error
// and recomputes.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/logging"
)

type Config struct {
	Name string // defaults to "backend"
	// ConsecutiveFailures trips the circuit. 0 => 5.
	ConsecutiveFailures uint32
	// Timeout is how long the circuit stays open. 0 => 30s.
	Timeout time.Duration
	// MaxRequests allowed through while half-open. 0 => 1.
	MaxRequests uint32
	Logger      logging.Logger
	// OnStateChange observes transitions in addition to the log line.
	OnStateChange func(name string, from, to gobreaker.State)
}

type Store struct {
	next backend.Backend
	cb   *gobreaker.TwoStepCircuitBreaker[struct{}]
}

var _ backend.Backend = (*Store)(nil)

func Wrap(next backend.Backend, cfg Config) (*Store, error) {
	if next == nil {
		return nil, backend.ErrNilClient
	}
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	log := logging.OrNop(cfg.Logger)
	threshold := cfg.ConsecutiveFailures
	hook := cfg.OnStateChange

	cb := gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("backend circuit state changed", logging.Fields{
				"breaker": name, "from": from.String(), "to": to.String(),
			})
			if hook != nil {
				hook(name, from, to)
			}
		},
	})
	return &Store{next: next, cb: cb}, nil
}

// State reports the circuit state.
func (s *Store) State() gobreaker.State { return s.cb.State() }

// Counts reports the counters of the current generation.
func (s *Store) Counts() gobreaker.Counts { return s.cb.Counts() }

// Unwrap returns the guarded backend.
func (s *Store) Unwrap() backend.Backend { return s.next }

func (s *Store) allow() (func(error), error) {
	done, err := s.cb.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", backend.ErrUnavailable, err)
	}
	return func(err error) {
		// caller cancellation says nothing about store health
		done(err == nil || errors.Is(err, context.Canceled))
	}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	done, err := s.allow()
	if err != nil {
		return nil, false, err
	}
	v, ok, err := s.next.Get(ctx, key)
	done(err)
	return v, ok, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte, opts backend.SetOptions) (bool, error) {
	done, err := s.allow()
	if err != nil {
		return false, err
	}
	ok, err := s.next.Set(ctx, key, value, opts)
	done(err)
	return ok, err
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	done, err := s.allow()
	if err != nil {
		return 0, err
	}
	n, err := s.next.Del(ctx, keys...)
	done(err)
	return n, err
}

func (s *Store) Scan(ctx context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	done, err := s.allow()
	if err != nil {
		return backend.ScanPage{}, err
	}
	p, err := s.next.Scan(ctx, cursor, match, count)
	done(err)
	return p, err
}

// Close is never gated by the circuit.
func (s *Store) Close(ctx context.Context) error { return s.next.Close(ctx) }
