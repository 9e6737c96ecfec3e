// Package transport is an outbound HTTP client for third-party APIs: one
// pooled keep-alive connection set, a hard per-attempt timeout, exponential
// backoff on transient failures and a per-host circuit breaker in front of it
// all.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/bulwark/breaker"
	"github.com/unkn0wn-root/bulwark/logging"
)

const tracerName = "github.com/unkn0wn-root/bulwark/transport"

// Request describes one logical call. Zero fields fall back to the client's
// configuration.
type Request struct {
	Method  string // "" => GET
	Header  http.Header
	Body    []byte
	Timeout time.Duration // per attempt
	// Retries overrides the client default; negative disables retries.
	Retries    int
	RetryDelay time.Duration
}

// Timing brackets the whole call, retries and backoff included.
type Timing struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	// Data is the decoded JSON body when the response declares a JSON
	// content type, and the body as a string otherwise.
	Data     any
	Timing   Timing
	Attempts int
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error { return json.Unmarshal(r.Body, v) }

// Get extracts a value from a JSON body by gjson path.
func (r *Response) Get(path string) gjson.Result { return gjson.GetBytes(r.Body, path) }

type Client struct {
	cfg     Config
	hc      *http.Client
	cb      *breaker.Breaker
	log     logging.Logger
	tracer  trace.Tracer
	retry   map[int]bool
	latency *latencyTracker

	requests, attempts, retries, failures, rejected atomic.Int64
}

func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	hc := cfg.HTTPClient
	if hc == nil {
		hc = newPooledClient(cfg.Pool)
	}
	cb := cfg.Breaker
	if cb == nil {
		cb = breaker.New(breaker.Options{Logger: cfg.Logger})
	}
	tr := cfg.Tracer
	if tr == nil {
		tr = otel.Tracer(tracerName)
	}
	retry := make(map[int]bool, len(cfg.RetryStatuses))
	for _, s := range cfg.RetryStatuses {
		retry[s] = true
	}
	return &Client{
		cfg:     cfg,
		hc:      hc,
		cb:      cb,
		log:     logging.OrNop(cfg.Logger),
		tracer:  tr,
		retry:   retry,
		latency: newLatencyTracker(0.01),
	}
}

// Breaker exposes the per-host circuit breaker.
func (c *Client) Breaker() *breaker.Breaker { return c.cb }

// Retryable reports whether status is in the retry set.
func (c *Client) Retryable(status int) bool { return c.retry[status] }

// CloseIdleConnections drops pooled keep-alive connections.
func (c *Client) CloseIdleConnections() { c.hc.CloseIdleConnections() }

// Send performs req against rawURL. It returns *Response for a 2xx answer and
// otherwise one of *CircuitOpenError, *HTTPError, *AttemptError or the
// caller's context error. The breaker records exactly one outcome per call,
// except when the caller cancels.
func (c *Client) Send(ctx context.Context, rawURL string, req Request) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("transport: url %q has no host", rawURL)
	}
	host := u.Host
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	c.requests.Add(1)
	if ok, next := c.cb.Allow(host); !ok {
		c.rejected.Add(1)
		return nil, &CircuitOpenError{Host: host, NextAttempt: next}
	}

	timeout := coalesce(req.Timeout, c.cfg.Timeout)
	retries := c.cfg.Retries
	if req.Retries > 0 {
		retries = req.Retries
	} else if req.Retries < 0 {
		retries = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = coalesce(req.RetryDelay, c.cfg.RetryDelay)
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = c.cfg.MaxRetryDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	ctx, span := c.tracer.Start(ctx, "transport.send", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("server.address", host),
		))
	defer span.End()

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			c.retries.Add(1)
			c.log.Info("retrying http request", logging.Fields{
				"method": method, "url": u.Redacted(), "attempt": attempt, "delay": delay.String(),
			})
			select {
			case <-ctx.Done():
				span.SetStatus(codes.Error, "cancelled")
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		c.attempts.Add(1)
		resp, err := c.attempt(ctx, method, u, req, timeout)
		if err != nil {
			if ctx.Err() != nil {
				// caller gave up; not the host's fault
				span.SetStatus(codes.Error, "cancelled")
				return nil, ctx.Err()
			}
			lastErr = err
			if attempt < retries {
				continue
			}
			c.fail(host, span)
			return nil, &AttemptError{Method: method, URL: u.Redacted(), Attempts: attempt + 1, Err: err}
		}

		resp.Attempts = attempt + 1
		resp.Timing = Timing{Start: start, End: time.Now()}
		resp.Timing.Duration = resp.Timing.End.Sub(start)
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.Status),
			attribute.Int("http.request.resend_count", attempt),
		)

		if resp.Status >= 200 && resp.Status < 300 {
			c.cb.RecordSuccess(host)
			c.latency.record(host, resp.Timing.Duration)
			return resp, nil
		}

		retryable := c.retry[resp.Status]
		if retryable && attempt < retries {
			lastErr = fmt.Errorf("transport: HTTP %d", resp.Status)
			continue
		}
		c.fail(host, span)
		c.latency.record(host, resp.Timing.Duration)
		return nil, &HTTPError{
			Method:     method,
			URL:        u.Redacted(),
			Status:     resp.Status,
			StatusText: resp.StatusText,
			Body:       resp.Body,
			Data:       resp.Data,
			Retryable:  retryable,
			Attempts:   attempt + 1,
		}
	}

	c.fail(host, span)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
	}
	return nil, ErrRetriesExhausted
}

func (c *Client) fail(host string, span trace.Span) {
	c.failures.Add(1)
	c.cb.RecordFailure(host)
	span.SetStatus(codes.Error, "request failed")
}

// attempt issues a single request bounded by timeout.
func (c *Client) attempt(ctx context.Context, method string, u *url.URL, req Request, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("User-Agent", c.cfg.UserAgent)
	for k, vs := range req.Header {
		hreq.Header.Del(k)
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}

	hresp, err := c.hc.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(hresp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	return &Response{
		Status:     hresp.StatusCode,
		StatusText: statusText(hresp.StatusCode),
		Header:     hresp.Header,
		Body:       raw,
		Data:       parseBody(hresp.Header.Get("Content-Type"), raw),
	}, nil
}

// parseBody decodes JSON bodies and returns everything else as text. A body
// that claims JSON but does not parse is returned as text too.
func parseBody(contentType string, raw []byte) any {
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

// IsCircuitOpen reports whether err is a circuit rejection and returns it.
func IsCircuitOpen(err error) (*CircuitOpenError, bool) {
	var oe *CircuitOpenError
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}
