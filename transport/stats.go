package transport

import (
	"time"

	"github.com/unkn0wn-root/bulwark/breaker"
)

// ConfigSnapshot is the static configuration reported with Stats.
type ConfigSnapshot struct {
	MaxConnsPerHost  int           `json:"max_conns_per_host"`
	IdleConnTimeout  time.Duration `json:"idle_conn_timeout"`
	ConnectTimeout   time.Duration `json:"connect_timeout"`
	Timeout          time.Duration `json:"timeout"`
	Retries          int           `json:"retries"`
	RetryDelay       time.Duration `json:"retry_delay"`
	RetryStatuses    []int         `json:"retry_statuses"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	BreakerTimeout   time.Duration `json:"breaker_timeout"`
}

type Counters struct {
	Requests int64 `json:"requests"`
	Attempts int64 `json:"attempts"`
	Retries  int64 `json:"retries"`
	Failures int64 `json:"failures"`
	Rejected int64 `json:"rejected"`
}

type Stats struct {
	CircuitBreaker map[string]breaker.Snapshot `json:"circuit_breaker"`
	Latency        map[string]Latency          `json:"latency"`
	Counters       Counters                    `json:"counters"`
	Config         ConfigSnapshot              `json:"config"`
}

// CircuitBreakerStats returns host -> breaker snapshot.
func (c *Client) CircuitBreakerStats() map[string]breaker.Snapshot {
	return c.cb.AllStats()
}

// ResetCircuitBreaker forgets the breaker state of host.
func (c *Client) ResetCircuitBreaker(host string) { c.cb.Reset(host) }

// Stats reports breaker state, per-host latency, counters and configuration.
func (c *Client) Stats() Stats {
	bo := c.cb.Options()
	return Stats{
		CircuitBreaker: c.cb.AllStats(),
		Latency:        c.latency.snapshot(),
		Counters: Counters{
			Requests: c.requests.Load(),
			Attempts: c.attempts.Load(),
			Retries:  c.retries.Load(),
			Failures: c.failures.Load(),
			Rejected: c.rejected.Load(),
		},
		Config: ConfigSnapshot{
			MaxConnsPerHost:  c.cfg.Pool.MaxConnsPerHost,
			IdleConnTimeout:  c.cfg.Pool.IdleConnTimeout,
			ConnectTimeout:   c.cfg.Pool.ConnectTimeout,
			Timeout:          c.cfg.Timeout,
			Retries:          c.cfg.Retries,
			RetryDelay:       c.cfg.RetryDelay,
			RetryStatuses:    append([]int(nil), c.cfg.RetryStatuses...),
			FailureThreshold: bo.FailureThreshold,
			SuccessThreshold: bo.SuccessThreshold,
			BreakerTimeout:   bo.Timeout,
		},
	}
}
