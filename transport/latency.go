package transport

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Latency summarizes request durations for one host, in milliseconds.
type Latency struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// latencyTracker keeps one DDSketch per host.
type latencyTracker struct {
	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
	accuracy float64
}

func newLatencyTracker(accuracy float64) *latencyTracker {
	return &latencyTracker{sketches: make(map[string]*ddsketch.DDSketch), accuracy: accuracy}
}

func (lt *latencyTracker) record(host string, d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sk, ok := lt.sketches[host]
	if !ok {
		var err error
		sk, err = ddsketch.LogUnboundedDenseDDSketch(lt.accuracy)
		if err != nil {
			sk, _ = ddsketch.NewDefaultDDSketch(lt.accuracy)
		}
		lt.sketches[host] = sk
	}
	_ = sk.Add(float64(d.Microseconds()) / 1000.0)
}

func (lt *latencyTracker) snapshot() map[string]Latency {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	out := make(map[string]Latency, len(lt.sketches))
	for h, sk := range lt.sketches {
		n := sk.GetCount()
		if n == 0 {
			out[h] = Latency{}
			continue
		}
		l := Latency{Count: int64(n)}
		l.Min, _ = sk.GetMinValue()
		l.P50, _ = sk.GetValueAtQuantile(0.50)
		l.P95, _ = sk.GetValueAtQuantile(0.95)
		l.P99, _ = sk.GetValueAtQuantile(0.99)
		l.Max, _ = sk.GetMaxValue()
		out[h] = l
	}
	return out
}
