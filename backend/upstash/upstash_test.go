package upstash

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/backend/backendtest"
	"github.com/unkn0wn-root/bulwark/backend/memory"
	"github.com/unkn0wn-root/bulwark/breaker"
	"github.com/unkn0wn-root/bulwark/transport"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeUpstash answers the REST protocol from an in-memory store.
type fakeUpstash struct {
	store *memory.Store
	token string
	// numericCursor answers SCAN with a JSON number cursor.
	numericCursor bool
	// okErrors answers rejected commands with 200 and an error body.
	okErrors bool
}

func (f *fakeUpstash) reply(w http.ResponseWriter, status int, v map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeUpstash) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+f.token {
		f.reply(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}
	var args []string
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || len(args) == 0 {
		f.reply(w, http.StatusBadRequest, map[string]any{"error": "ERR malformed command"})
		return
	}
	ctx := r.Context()
	switch strings.ToUpper(args[0]) {
	case "PING":
		f.reply(w, 200, map[string]any{"result": "PONG"})
	case "GET":
		v, ok, _ := f.store.Get(ctx, args[1])
		if !ok {
			f.reply(w, 200, map[string]any{"result": nil})
			return
		}
		f.reply(w, 200, map[string]any{"result": string(v)})
	case "SET":
		opts := backend.SetOptions{}
		for i := 3; i < len(args); i++ {
			switch strings.ToUpper(args[i]) {
			case "PX":
				ms, _ := strconv.ParseInt(args[i+1], 10, 64)
				opts.TTL = time.Duration(ms) * time.Millisecond
				i++
			case "NX":
				opts.OnlyIfAbsent = true
			}
		}
		ok, _ := f.store.Set(ctx, args[1], []byte(args[2]), opts)
		if !ok {
			f.reply(w, 200, map[string]any{"result": nil})
			return
		}
		f.reply(w, 200, map[string]any{"result": "OK"})
	case "DEL":
		n, _ := f.store.Del(ctx, args[1:]...)
		f.reply(w, 200, map[string]any{"result": n})
	case "SCAN":
		match, count := "*", int64(10)
		for i := 2; i+1 < len(args); i += 2 {
			switch strings.ToUpper(args[i]) {
			case "MATCH":
				match = args[i+1]
			case "COUNT":
				count, _ = strconv.ParseInt(args[i+1], 10, 64)
			}
		}
		p, _ := f.store.Scan(ctx, args[1], match, count)
		keys := p.Keys
		if keys == nil {
			keys = []string{}
		}
		var cur any = p.Cursor
		if f.numericCursor {
			cur, _ = strconv.Atoi(p.Cursor)
		}
		f.reply(w, 200, map[string]any{"result": []any{cur, keys}})
	default:
		status := http.StatusBadRequest
		if f.okErrors {
			status = http.StatusOK
		}
		f.reply(w, status, map[string]any{"error": "ERR unknown command '" + args[0] + "'"})
	}
}

func newStore(t *testing.T, f *fakeUpstash) *Store {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := New(Config{
		URL:    srv.URL + "/",
		Token:  f.token,
		Client: transport.New(transport.Config{Retries: -1}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	backendtest.Run(t, func(t *testing.T) backend.Backend {
		return newStore(t, &fakeUpstash{store: memory.New(memory.Config{Clock: clk.Now}), token: "tok"})
	}, backendtest.Options{Expire: func(d time.Duration) { clk.Advance(d) }})
}

func TestNumericCursor(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, &fakeUpstash{store: memory.New(memory.Config{}), token: "tok", numericCursor: true})
	for i := 0; i < 30; i++ {
		if _, err := s.Set(ctx, "n:"+strconv.Itoa(i), []byte("v"), backend.SetOptions{}); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if got := backendtest.ScanAll(t, s, "n:*", 7); len(got) != 30 {
		t.Fatalf("scan found %d keys", len(got))
	}
}

func TestPing(t *testing.T) {
	s := newStore(t, &fakeUpstash{store: memory.New(memory.Config{}), token: "tok"})
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestBadTokenSurfaces(t *testing.T) {
	f := &fakeUpstash{store: memory.New(memory.Config{}), token: "right"}
	srv := httptest.NewServer(f)
	defer srv.Close()
	s, err := New(Config{URL: srv.URL, Token: "wrong", Client: transport.New(transport.Config{Retries: -1})})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, err = s.Get(context.Background(), "k")
	var ue *Error
	if !errors.As(err, &ue) || ue.Msg != "Unauthorized" || ue.Command != "GET" {
		t.Fatalf("err = %v", err)
	}
}

func TestForeignValueIsError(t *testing.T) {
	ctx := context.Background()
	mem := memory.New(memory.Config{})
	s := newStore(t, &fakeUpstash{store: mem, token: "tok"})
	if _, err := mem.Set(ctx, "raw", []byte("%%% not base64"), backend.SetOptions{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, ok, err := s.Get(ctx, "raw"); err == nil || ok {
		t.Fatalf("foreign value: ok=%v err=%v", ok, err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New(Config{URL: "https://x"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v", err)
	}
}

func TestRejectedCommandKeepsCircuitClosed(t *testing.T) {
	ctx := context.Background()
	f := &fakeUpstash{store: memory.New(memory.Config{}), token: "tok", okErrors: true}
	s := newStore(t, f)
	host := strings.TrimPrefix(s.url, "http://")

	for i := 0; i < 20; i++ {
		_, err := s.do(ctx, "FLUSHEVERYTHING")
		var ue *Error
		if !errors.As(err, &ue) || ue.Command != "FLUSHEVERYTHING" || !strings.HasPrefix(ue.Msg, "ERR unknown command") {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	snap, ok := s.c.Breaker().Snapshot(host)
	if !ok || snap.State != breaker.StateClosed.String() || snap.TotalSuccesses != 20 {
		t.Fatalf("breaker snapshot = %+v, %v after rejected commands", snap, ok)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping after rejections: %v", err)
	}
}
