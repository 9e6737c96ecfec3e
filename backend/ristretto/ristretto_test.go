package ristretto

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/bulwark/backend"
	"github.com/unkn0wn-root/bulwark/backend/backendtest"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(DefaultConfig(10_000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) backend.Backend { return newStore(t) }, backendtest.Options{})
}

func TestInvalidConfig(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("zero config accepted")
	}
}

func TestScanPrunesDeletedKeys(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for _, k := range []string{"a:1", "a:2", "a:3"} {
		if ok, err := s.Set(ctx, k, []byte("v"), backend.SetOptions{}); err != nil || !ok {
			t.Fatalf("Set %s: ok=%v err=%v", k, ok, err)
		}
	}
	// bypass Del to simulate a policy eviction
	s.c.Del("a:2")
	s.c.Wait()

	got := backendtest.ScanAll(t, s, "a:*", 100)
	if len(got) != 2 || got[0] != "a:1" || got[1] != "a:3" {
		t.Fatalf("scan = %v", got)
	}
	s.mu.Lock()
	_, indexed := s.ix["a:2"]
	s.mu.Unlock()
	if indexed {
		t.Fatalf("evicted key not pruned from index")
	}
}
