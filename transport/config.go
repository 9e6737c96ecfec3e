package transport

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/bulwark/breaker"
	"github.com/unkn0wn-root/bulwark/logging"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = time.Second

	// Token exchanges are latency sensitive and fail for non-transient reasons
	// more often than not.
	TokenTimeout = 15 * time.Second
	TokenRetries = 2

	DefaultUserAgent = "bulwark-transport/1.0"
)

// DefaultRetryStatuses are the status codes worth another attempt.
var DefaultRetryStatuses = []int{
	http.StatusRequestTimeout,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Pool sizes the shared connection pool.
type Pool struct {
	MaxConnsPerHost     int           // 0 => 50
	MaxIdleConnsPerHost int           // 0 => 10
	IdleConnTimeout     time.Duration // keep-alive; 0 => 60s
	ConnectTimeout      time.Duration // 0 => 10s
	TLSHandshakeTimeout time.Duration // 0 => 10s
}

type Config struct {
	Timeout       time.Duration // per attempt; 0 => 30s
	Retries       int           // 0 => 3; negative disables retries
	RetryDelay    time.Duration // first backoff step; 0 => 1s
	MaxRetryDelay time.Duration // cap on a single backoff step; 0 => 30s
	RetryStatuses []int         // nil => DefaultRetryStatuses

	UserAgent    string // "" => DefaultUserAgent
	MaxBodyBytes int64  // response bodies are truncated past this; 0 => 10 MiB

	Pool Pool

	// Breaker gates requests per host. nil => a breaker with default options.
	Breaker *breaker.Breaker

	// HTTPClient replaces the pooled client (tests, custom TLS). Its Timeout
	// should be zero; per-attempt timeouts come from the request context.
	HTTPClient *http.Client

	Logger logging.Logger
	Tracer trace.Tracer
}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func (c Config) withDefaults() Config {
	c.Timeout = coalesce(c.Timeout, DefaultTimeout)
	c.Retries = coalesce(c.Retries, DefaultRetries)
	if c.Retries < 0 {
		c.Retries = 0
	}
	c.RetryDelay = coalesce(c.RetryDelay, DefaultRetryDelay)
	c.MaxRetryDelay = coalesce(c.MaxRetryDelay, 30*time.Second)
	if c.RetryStatuses == nil {
		c.RetryStatuses = DefaultRetryStatuses
	}
	c.UserAgent = coalesce(c.UserAgent, DefaultUserAgent)
	c.MaxBodyBytes = coalesce(c.MaxBodyBytes, int64(10<<20))

	c.Pool.MaxConnsPerHost = coalesce(c.Pool.MaxConnsPerHost, 50)
	c.Pool.MaxIdleConnsPerHost = coalesce(c.Pool.MaxIdleConnsPerHost, 10)
	c.Pool.IdleConnTimeout = coalesce(c.Pool.IdleConnTimeout, 60*time.Second)
	c.Pool.ConnectTimeout = coalesce(c.Pool.ConnectTimeout, 10*time.Second)
	c.Pool.TLSHandshakeTimeout = coalesce(c.Pool.TLSHandshakeTimeout, 10*time.Second)
	return c
}

// newPooledClient builds the process-wide keep-alive client every attempt
// goes through.
func newPooledClient(p Pool) *http.Client {
	dialer := &net.Dialer{
		Timeout:   p.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          p.MaxConnsPerHost * 4,
		MaxConnsPerHost:       p.MaxConnsPerHost,
		MaxIdleConnsPerHost:   p.MaxIdleConnsPerHost,
		IdleConnTimeout:       p.IdleConnTimeout,
		TLSHandshakeTimeout:   p.TLSHandshakeTimeout,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{Transport: tr}
}
