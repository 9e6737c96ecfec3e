// Package breaker tracks the health of outbound destinations with one
// closed/open/half-open state machine per host.
//
// State for a host is created lazily on first use and lives for the life of
// the Breaker. All methods are safe for concurrent use.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/bulwark/logging"
)

// State represents the circuit state of a single host.
type State int

const (
	StateClosed   State = iota // requests pass, failures counted
	StateOpen                  // requests rejected without I/O
	StateHalfOpen              // trial requests allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is matched by every *OpenError.
var ErrOpen = errors.New("breaker: circuit open")

// OpenError rejects a request to a host whose circuit is open.
type OpenError struct {
	Host        string
	NextAttempt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("breaker: circuit open for %s until %s", e.Host, e.NextAttempt.Format(time.RFC3339))
}

func (e *OpenError) Is(target error) bool { return target == ErrOpen }

// RetryAfter is the time left until the host may be tried again.
func (e *OpenError) RetryAfter(now time.Time) time.Duration {
	if d := e.NextAttempt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type Options struct {
	FailureThreshold int           // failures that open a closed circuit; 0 => 5
	SuccessThreshold int           // half-open successes that close it; 0 => 2
	Timeout          time.Duration // open period before a trial; 0 => 60s

	// ConsecutiveFailures makes a success in the closed state clear the
	// failure count. By default failures accumulate until the circuit opens
	// or is reset.
	ConsecutiveFailures bool

	OnStateChange func(host string, from, to State)
	Logger        logging.Logger
	Clock         func() time.Time
}

// Quick suits non-critical dependencies that should be retried soon.
func Quick() Options {
	return Options{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 10 * time.Second, ConsecutiveFailures: true}
}

// Standard is a middle ground for most third-party APIs.
func Standard() Options {
	return Options{FailureThreshold: 5, SuccessThreshold: 2, Timeout: 30 * time.Second, ConsecutiveFailures: true}
}

// Conservative protects critical dependencies from flapping.
func Conservative() Options {
	return Options{FailureThreshold: 10, SuccessThreshold: 3, Timeout: time.Minute, ConsecutiveFailures: true}
}

type hostState struct {
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	nextAttempt time.Time

	requests, rejected, totalFailures, totalSuccesses int64
}

type Breaker struct {
	mu    sync.Mutex
	hosts map[string]*hostState
	opts  Options
	log   logging.Logger
	now   func() time.Time
}

func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		hosts: make(map[string]*hostState),
		opts:  opts,
		log:   logging.OrNop(opts.Logger),
		now:   now,
	}
}

// Options returns the effective configuration.
func (b *Breaker) Options() Options { return b.opts }

// host returns the state for h, creating it closed. Caller holds mu.
func (b *Breaker) host(h string) *hostState {
	st, ok := b.hosts[h]
	if !ok {
		st = &hostState{}
		b.hosts[h] = st
	}
	return st
}

// transition changes state and reports it after mu is released.
// Caller holds mu; the returned func must be called without it.
func (b *Breaker) transition(h string, st *hostState, to State) func() {
	from := st.state
	st.state = to
	if from == to {
		return func() {}
	}
	f := logging.Fields{"host": h, "from": from.String(), "to": to.String(), "failures": st.failures}
	if to == StateOpen {
		f["next_attempt"] = st.nextAttempt
	}
	cb := b.opts.OnStateChange
	return func() {
		if to == StateOpen {
			b.log.Warn("circuit breaker state changed", f)
		} else {
			b.log.Info("circuit breaker state changed", f)
		}
		if cb != nil {
			cb(h, from, to)
		}
	}
}

// CanRequest reports whether a request to host may proceed. An open circuit
// whose timeout has elapsed moves to half-open and admits the caller.
func (b *Breaker) CanRequest(host string) bool {
	ok, _ := b.Allow(host)
	return ok
}

// Allow is CanRequest that also returns, on rejection, the nextAttempt read
// in the same critical section as the decision.
func (b *Breaker) Allow(host string) (bool, time.Time) {
	b.mu.Lock()
	st := b.host(host)
	st.requests++
	notify := func() {}
	allowed := true
	var next time.Time
	switch st.state {
	case StateOpen:
		if !b.now().Before(st.nextAttempt) {
			st.successes = 0
			notify = b.transition(host, st, StateHalfOpen)
		} else {
			st.rejected++
			allowed = false
			next = st.nextAttempt
		}
	}
	b.mu.Unlock()
	notify()
	return allowed, next
}

func (b *Breaker) RecordSuccess(host string) {
	b.mu.Lock()
	st := b.host(host)
	st.totalSuccesses++
	st.successes++
	notify := func() {}
	switch st.state {
	case StateHalfOpen:
		if st.successes >= b.opts.SuccessThreshold {
			st.failures = 0
			st.successes = 0
			st.lastFailure = time.Time{}
			st.nextAttempt = time.Time{}
			notify = b.transition(host, st, StateClosed)
		}
	case StateClosed:
		if b.opts.ConsecutiveFailures {
			st.failures = 0
		}
	}
	b.mu.Unlock()
	notify()
}

func (b *Breaker) RecordFailure(host string) {
	b.mu.Lock()
	st := b.host(host)
	now := b.now()
	st.totalFailures++
	st.failures++
	st.lastFailure = now
	notify := func() {}
	switch st.state {
	case StateHalfOpen:
		st.successes = 0
		st.nextAttempt = now.Add(b.opts.Timeout)
		notify = b.transition(host, st, StateOpen)
	case StateClosed:
		if st.failures >= b.opts.FailureThreshold {
			st.nextAttempt = now.Add(b.opts.Timeout)
			notify = b.transition(host, st, StateOpen)
		}
	}
	b.mu.Unlock()
	notify()
}

// State reports the current state for host without side effects.
func (b *Breaker) State(host string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.hosts[host]; ok {
		return st.state
	}
	return StateClosed
}

// NextAttempt is the earliest time an open host may be tried again.
// Zero when the host is not open.
func (b *Breaker) NextAttempt(host string) time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.hosts[host]; ok && st.state == StateOpen {
		return st.nextAttempt
	}
	return time.Time{}
}

// Snapshot is a point-in-time view of one host.
type Snapshot struct {
	State          string     `json:"state"`
	Failures       int        `json:"failures"`
	Successes      int        `json:"successes"`
	LastFailure    *time.Time `json:"last_failure_time,omitempty"`
	NextAttempt    *time.Time `json:"next_attempt_time,omitempty"`
	TotalRequests  int64      `json:"total_requests"`
	TotalRejected  int64      `json:"total_rejected"`
	TotalFailures  int64      `json:"total_failures"`
	TotalSuccesses int64      `json:"total_successes"`
}

func (st *hostState) snapshot() Snapshot {
	s := Snapshot{
		State:          st.state.String(),
		Failures:       st.failures,
		Successes:      st.successes,
		TotalRequests:  st.requests,
		TotalRejected:  st.rejected,
		TotalFailures:  st.totalFailures,
		TotalSuccesses: st.totalSuccesses,
	}
	if !st.lastFailure.IsZero() {
		t := st.lastFailure
		s.LastFailure = &t
	}
	if !st.nextAttempt.IsZero() {
		t := st.nextAttempt
		s.NextAttempt = &t
	}
	return s
}

// Snapshot returns the view for host; ok=false if it was never seen.
func (b *Breaker) Snapshot(host string) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.hosts[host]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// AllStats returns a snapshot of every known host.
func (b *Breaker) AllStats() map[string]Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Snapshot, len(b.hosts))
	for h, st := range b.hosts {
		out[h] = st.snapshot()
	}
	return out
}

// Hosts lists known hosts in sorted order.
func (b *Breaker) Hosts() []string {
	b.mu.Lock()
	out := make([]string, 0, len(b.hosts))
	for h := range b.hosts {
		out = append(out, h)
	}
	b.mu.Unlock()
	sort.Strings(out)
	return out
}

// Reset forgets host; its next request starts closed with zero counters.
func (b *Breaker) Reset(host string) {
	b.mu.Lock()
	_, ok := b.hosts[host]
	delete(b.hosts, host)
	b.mu.Unlock()
	if ok {
		b.log.Info("circuit breaker reset", logging.Fields{"host": host})
	}
}

// ResetAll forgets every host.
func (b *Breaker) ResetAll() {
	b.mu.Lock()
	n := len(b.hosts)
	b.hosts = make(map[string]*hostState)
	b.mu.Unlock()
	b.log.Info("circuit breakers reset", logging.Fields{"hosts": n})
}

// Do runs fn under host's circuit. It fails fast with *OpenError when the
// circuit is open and records fn's outcome otherwise. Context cancellation
// by the caller is not counted against the host.
func Do[T any](ctx context.Context, b *Breaker, host string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if ok, next := b.Allow(host); !ok {
		return zero, &OpenError{Host: host, NextAttempt: next}
	}
	v, err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess(host)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	default:
		b.RecordFailure(host)
	}
	return v, err
}
