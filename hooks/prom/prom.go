// Package prom exports cache and circuit breaker events as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/bulwark"
	"github.com/unkn0wn-root/bulwark/breaker"
)

// Hooks counts cache events. Keys never become labels; only prefixes, ops
// and reasons do, so cardinality stays bounded.
type Hooks struct {
	Lookups         *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	LockContention  prometheus.Counter
	Fallbacks       *prometheus.CounterVec
	TagMismatches   prometheus.Counter
	InvalidatedKeys *prometheus.CounterVec
	BreakerState    *prometheus.GaugeVec
}

var _ bulwark.Hooks = (*Hooks)(nil)

// New registers the metrics with reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		Lookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by key prefix and result",
			},
			[]string{"prefix", "result"},
		),
		BackendErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_backend_errors_total",
				Help:      "Backend failures the cache degraded around",
			},
			[]string{"op"},
		),
		DecodeErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_decode_errors_total",
				Help:      "Stored entries dropped because they failed to decode",
			},
		),
		LockContention: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lock_contended_total",
				Help:      "Misses that found the recompute lock held",
			},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fallback_computes_total",
				Help:      "Values computed without holding the recompute lock",
			},
			[]string{"reason"},
		),
		TagMismatches: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_tag_not_in_key_total",
				Help:      "Writes tagged with a label that is not a key segment",
			},
		),
		InvalidatedKeys: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_keys_total",
				Help:      "Keys removed by pattern or tag invalidation",
			},
			[]string{"result"},
		),
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit state per host (0=closed, 1=open, 2=half-open)",
			},
			[]string{"host"},
		),
	}
}

func (h *Hooks) Lookup(prefix string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	h.Lookups.WithLabelValues(prefix, result).Inc()
}

func (h *Hooks) BackendError(op, _ string, _ error) { h.BackendErrors.WithLabelValues(op).Inc() }
func (h *Hooks) DecodeError(string, error)          { h.DecodeErrors.Inc() }
func (h *Hooks) LockContended(string)               { h.LockContention.Inc() }
func (h *Hooks) FallbackCompute(_, reason string)   { h.Fallbacks.WithLabelValues(reason).Inc() }
func (h *Hooks) TagNotInKey(string, string)         { h.TagMismatches.Inc() }

func (h *Hooks) Invalidated(_ string, removed int, err error) {
	result := "ok"
	if err != nil {
		result = "partial"
	}
	h.InvalidatedKeys.WithLabelValues(result).Add(float64(removed))
}

// BreakerStateChange fits breaker.Options.OnStateChange.
func (h *Hooks) BreakerStateChange(host string, _, to breaker.State) {
	h.BreakerState.WithLabelValues(host).Set(float64(to))
}
