// Package backendtest is a conformance suite for backend.Backend
// implementations. Each store's tests call Run with a factory. Run the
// stores' tests with -race; ConcurrentReadWriteScan is only meaningful there.
package backendtest

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/bulwark/backend"
)

// Options relax checks that a store cannot honor exactly.
type Options struct {
	// SkipTTL skips the expiry check (stores whose clock cannot be advanced
	// cheaply or that round TTLs to whole seconds).
	SkipTTL bool
	// Expire advances the store past ttl. Defaults to time.Sleep(ttl + 50ms).
	Expire func(ttl time.Duration)
}

// Run exercises the Backend contract against fresh stores from newStore.
func Run(t *testing.T, newStore func(t *testing.T) backend.Backend, opt Options) {
	t.Helper()

	t.Run("GetMiss", func(t *testing.T) {
		s := newStore(t)
		if v, ok, err := s.Get(context.Background(), "absent"); err != nil || ok || v != nil {
			t.Fatalf("Get absent: v=%q ok=%v err=%v", v, ok, err)
		}
	})

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		want := []byte{0, 1, 2, 0xff, 'x'}
		if ok, err := s.Set(ctx, "k", want, backend.SetOptions{TTL: time.Minute}); err != nil || !ok {
			t.Fatalf("Set: ok=%v err=%v", ok, err)
		}
		got, ok, err := s.Get(ctx, "k")
		if err != nil || !ok || !bytes.Equal(got, want) {
			t.Fatalf("Get: got=%v ok=%v err=%v", got, ok, err)
		}
		// overwrite
		if _, err := s.Set(ctx, "k", []byte("v2"), backend.SetOptions{}); err != nil {
			t.Fatalf("Set overwrite: %v", err)
		}
		if got, _, _ := s.Get(ctx, "k"); string(got) != "v2" {
			t.Fatalf("Get after overwrite: %q", got)
		}
	})

	t.Run("OnlyIfAbsent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		nx := backend.SetOptions{TTL: time.Minute, OnlyIfAbsent: true}
		if ok, err := s.Set(ctx, "lock:k", []byte("a"), nx); err != nil || !ok {
			t.Fatalf("first NX: ok=%v err=%v", ok, err)
		}
		if ok, err := s.Set(ctx, "lock:k", []byte("b"), nx); err != nil || ok {
			t.Fatalf("second NX should fail: ok=%v err=%v", ok, err)
		}
		if got, _, _ := s.Get(ctx, "lock:k"); string(got) != "a" {
			t.Fatalf("NX overwrote holder: %q", got)
		}
		if _, err := s.Del(ctx, "lock:k"); err != nil {
			t.Fatalf("Del: %v", err)
		}
		if ok, err := s.Set(ctx, "lock:k", []byte("c"), nx); err != nil || !ok {
			t.Fatalf("NX after release: ok=%v err=%v", ok, err)
		}
	})

	t.Run("DelCounts", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, k := range []string{"a", "b"} {
			if _, err := s.Set(ctx, k, []byte(k), backend.SetOptions{}); err != nil {
				t.Fatalf("Set %s: %v", k, err)
			}
		}
		n, err := s.Del(ctx, "a", "b", "c")
		if err != nil || n != 2 {
			t.Fatalf("Del: n=%d err=%v", n, err)
		}
		if _, ok, _ := s.Get(ctx, "a"); ok {
			t.Fatalf("a still present")
		}
		if n, err := s.Del(ctx); err != nil || n != 0 {
			t.Fatalf("Del no keys: n=%d err=%v", n, err)
		}
	})

	t.Run("ScanMatchesAll", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		var want []string
		for i := 0; i < 250; i++ {
			k := fmt.Sprintf("cache:user:%03d", i)
			want = append(want, k)
			if _, err := s.Set(ctx, k, []byte("x"), backend.SetOptions{TTL: time.Minute}); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		for i := 0; i < 20; i++ {
			if _, err := s.Set(ctx, fmt.Sprintf("other:%d", i), []byte("y"), backend.SetOptions{}); err != nil {
				t.Fatalf("Set: %v", err)
			}
		}
		got := ScanAll(t, s, "cache:user:*", 37)
		if len(got) != len(want) {
			t.Fatalf("scan found %d keys, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("scan[%d]=%q want %q", i, got[i], want[i])
			}
		}
	})

	t.Run("ConcurrentReadWriteScan", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		const rounds, readers, reads = 30, 8, 10
		for r := 0; r < rounds; r++ {
			key := fmt.Sprintf("cache:race:%02d", r)
			var wg sync.WaitGroup
			for i := 0; i < readers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < reads; j++ {
						if _, _, err := s.Get(ctx, key); err != nil {
							t.Errorf("Get %s: %v", key, err)
							return
						}
					}
				}()
			}
			if ok, err := s.Set(ctx, key, []byte("v"), backend.SetOptions{TTL: time.Minute}); err != nil || !ok {
				t.Fatalf("Set %s: ok=%v err=%v", key, ok, err)
			}
			wg.Wait()
			if _, ok, err := s.Get(ctx, key); err != nil || !ok {
				t.Fatalf("Get %s after Set: ok=%v err=%v", key, ok, err)
			}
		}
		got := ScanAll(t, s, "cache:race:*", 7)
		if len(got) != rounds {
			t.Fatalf("scan found %d of %d stored keys: %v", len(got), rounds, got)
		}
	})

	t.Run("ScanEmpty", func(t *testing.T) {
		s := newStore(t)
		if got := ScanAll(t, s, "*", 100); len(got) != 0 {
			t.Fatalf("scan on empty store returned %v", got)
		}
	})

	if !opt.SkipTTL {
		t.Run("TTLExpires", func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			ttl := time.Second
			if _, err := s.Set(ctx, "short", []byte("v"), backend.SetOptions{TTL: ttl}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			if _, err := s.Set(ctx, "forever", []byte("v"), backend.SetOptions{}); err != nil {
				t.Fatalf("Set: %v", err)
			}
			expire := opt.Expire
			if expire == nil {
				expire = func(d time.Duration) { time.Sleep(d + 50*time.Millisecond) }
			}
			expire(ttl)
			if _, ok, err := s.Get(ctx, "short"); err != nil || ok {
				t.Fatalf("expired key still readable: ok=%v err=%v", ok, err)
			}
			if _, ok, err := s.Get(ctx, "forever"); err != nil || !ok {
				t.Fatalf("no-TTL key lost: ok=%v err=%v", ok, err)
			}
			if ok, err := s.Set(ctx, "short", []byte("n"), backend.SetOptions{OnlyIfAbsent: true}); err != nil || !ok {
				t.Fatalf("NX on expired key: ok=%v err=%v", ok, err)
			}
		})
	}
}

// ScanAll drains a scan and returns the matched keys sorted and deduplicated.
func ScanAll(t *testing.T, s backend.Backend, match string, count int64) []string {
	t.Helper()
	seen := make(map[string]struct{})
	cursor := backend.CursorStart
	for i := 0; ; i++ {
		if i > 10000 {
			t.Fatalf("scan did not terminate")
		}
		page, err := s.Scan(context.Background(), cursor, match, count)
		if err != nil {
			t.Fatalf("Scan: %v", err)
		}
		for _, k := range page.Keys {
			seen[k] = struct{}{}
		}
		if page.Done() {
			break
		}
		cursor = page.Cursor
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
