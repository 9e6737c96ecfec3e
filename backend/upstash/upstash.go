// Package upstash talks to an Upstash Redis REST endpoint. Every command is a
// JSON array POSTed through the resilient transport, so a failing endpoint is
// retried, timed out and circuit-broken like any other third-party API.
//
// Values travel base64-encoded because the REST protocol carries JSON strings
// and cache payloads are arbitrary bytes.
package upstash

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/transport"
)

var ErrMissingCredentials = errors.New("upstash: url and token are required")

type Config struct {
	URL   string // e.g. https://eu1-xyz.upstash.io
	Token string
	// Client carries the requests. nil => a client with a 5s timeout and one retry.
	Client *transport.Client
}

type Store struct {
	url    string
	header http.Header
	c      *transport.Client
}

var _ backend.Backend = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.Token == "" {
		return nil, ErrMissingCredentials
	}
	c := cfg.Client
	if c == nil {
		c = transport.New(transport.Config{Timeout: 5 * time.Second, Retries: 1, RetryDelay: 100 * time.Millisecond})
	}
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+cfg.Token)
	return &Store{url: strings.TrimRight(cfg.URL, "/"), header: h, c: c}, nil
}

// Error is a command rejected by the server.
type Error struct {
	Command string
	Msg     string
}

func (e *Error) Error() string { return "upstash: " + e.Command + ": " + e.Msg }

// do runs one command and returns its "result" field.
func (s *Store) do(ctx context.Context, args ...string) (gjson.Result, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := s.c.Send(ctx, s.url, transport.Request{
		Method: http.MethodPost,
		Header: s.header,
		Body:   body,
	})
	if err != nil {
		var he *transport.HTTPError
		if errors.As(err, &he) {
			if msg := gjson.GetBytes(he.Body, "error"); msg.Exists() {
				return gjson.Result{}, &Error{Command: args[0], Msg: msg.String()}
			}
		}
		return gjson.Result{}, err
	}
	// Send has already counted this reply as a breaker success. A 2xx
	// carrying an error is the server rejecting the command, not the host
	// failing, so it stays that way.
	if msg := resp.Get("error"); msg.Exists() {
		return gjson.Result{}, &Error{Command: args[0], Msg: msg.String()}
	}
	return resp.Get("result"), nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	r, err := s.do(ctx, "GET", key)
	if err != nil {
		return nil, false, err
	}
	if r.Type == gjson.Null || !r.Exists() {
		return nil, false, nil
	}
	b, err := base64.StdEncoding.DecodeString(r.String())
	if err != nil {
		return nil, false, fmt.Errorf("upstash: GET %s: foreign value: %w", key, err)
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, opts backend.SetOptions) (bool, error) {
	args := []string{"SET", key, base64.StdEncoding.EncodeToString(value)}
	if opts.TTL > 0 {
		ms := opts.TTL.Milliseconds()
		if ms < 1 {
			ms = 1
		}
		args = append(args, "PX", strconv.FormatInt(ms, 10))
	}
	if opts.OnlyIfAbsent {
		args = append(args, "NX")
	}
	r, err := s.do(ctx, args...)
	if err != nil {
		return false, err
	}
	// SET answers "OK", or null when NX found the key
	return r.String() == "OK", nil
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	r, err := s.do(ctx, append([]string{"DEL"}, keys...)...)
	if err != nil {
		return 0, err
	}
	return r.Int(), nil
}

// Scan expects [cursor, [keys...]]; the cursor may arrive as a string or a
// number depending on the deployment.
func (s *Store) Scan(ctx context.Context, cursor, match string, count int64) (backend.ScanPage, error) {
	args := []string{"SCAN", backend.NormalizeCursor(cursor)}
	if match != "" {
		args = append(args, "MATCH", match)
	}
	if count > 0 {
		args = append(args, "COUNT", strconv.FormatInt(count, 10))
	}
	r, err := s.do(ctx, args...)
	if err != nil {
		return backend.ScanPage{}, err
	}
	arr := r.Array()
	if len(arr) == 0 {
		return backend.ScanPage{Cursor: backend.CursorStart}, nil
	}
	page := backend.ScanPage{Cursor: backend.NormalizeCursor(arr[0].String())}
	if len(arr) > 1 {
		for _, k := range arr[1].Array() {
			page.Keys = append(page.Keys, k.String())
		}
	}
	return page, nil
}

// Ping checks credentials and reachability.
func (s *Store) Ping(ctx context.Context) error {
	r, err := s.do(ctx, "PING")
	if err != nil {
		return err
	}
	if r.String() != "PONG" {
		return fmt.Errorf("upstash: unexpected PING reply %q", r.String())
	}
	return nil
}

// Close is a no-op; the transport's pool is shared.
func (s *Store) Close(context.Context) error { return nil }
