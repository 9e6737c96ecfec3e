package bulwark

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/bulwark/codec"
)

type goal struct {
	ID       string `json:"id" msgpack:"id"`
	Progress int    `json:"progress" msgpack:"progress"`
}

func TestTypedCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newService(t, newMemory(t, nil), Options{})
	c := NewCache[goal](s, nil)
	var calls atomic.Int64
	fetch := func(context.Context) (goal, error) {
		calls.Add(1)
		return goal{ID: "42", Progress: 70}, nil
	}

	for i := 0; i < 2; i++ {
		g, err := c.GetOrCompute(ctx, EntityKey("goal", "42"), fetch)
		if err != nil {
			t.Fatal(err)
		}
		if g.ID != "42" || g.Progress != 70 {
			t.Fatalf("got %+v", g)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("compute calls = %d", calls.Load())
	}
	raw, ok, _ := s.Get(ctx, "goal:42")
	if !ok || !strings.Contains(string(raw), `"progress":70`) {
		t.Fatalf("stored %q", raw)
	}
	if c.Service() != s {
		t.Fatal("Service() mismatch")
	}
}

func TestTypedCacheWithMsgpack(t *testing.T) {
	ctx := context.Background()
	s := newService(t, newMemory(t, nil), Options{})
	c := NewCache[goal](s, codec.Msgpack[goal]{})

	if err := c.Set(ctx, "goal:1", goal{ID: "1", Progress: 5}, WithTTL(time.Minute)); err != nil {
		t.Fatal(err)
	}
	g, ok, err := c.Get(ctx, "goal:1")
	if err != nil || !ok || g.Progress != 5 {
		t.Fatalf("Get = %+v, %v, %v", g, ok, err)
	}
}

func TestDecodeFailureRecomputes(t *testing.T) {
	ctx := context.Background()
	store := newMemory(t, nil)
	h := &recHooks{}
	s := newService(t, store, Options{Hooks: h})
	mustSet(t, store, "cache:goal:1", "not json", time.Minute)

	c := NewCache[goal](s, nil)
	if _, ok, _ := c.Get(ctx, "goal:1"); ok {
		t.Fatal("undecodable entry read as hit")
	}
	if exists(t, store, "cache:goal:1") {
		t.Fatal("undecodable entry not dropped")
	}

	mustSet(t, store, "cache:goal:1", "not json", time.Minute)
	g, err := c.GetOrCompute(ctx, "goal:1", func(context.Context) (goal, error) { return goal{ID: "1"}, nil })
	if err != nil || g.ID != "1" {
		t.Fatalf("got %+v, %v", g, err)
	}
	if h.decodes != 2 {
		t.Fatalf("decode errors = %d, want 2", h.decodes)
	}
}

type unencodable struct{ C chan int }

func TestSetReturnsEncodeError(t *testing.T) {
	s := newService(t, newMemory(t, nil), Options{})
	c := NewCache[unencodable](s, nil)
	if err := c.Set(context.Background(), "k", unencodable{C: make(chan int)}); err == nil {
		t.Fatal("expected encode error")
	}
}

func TestPackageGetOrCompute(t *testing.T) {
	ctx := context.Background()
	s := newService(t, newMemory(t, nil), Options{})
	n, err := GetOrCompute(ctx, s, "count", func(context.Context) (int, error) { return 7, nil })
	if err != nil || n != 7 {
		t.Fatalf("got %d, %v", n, err)
	}
	n, err = GetOrCompute(ctx, s, "count", func(context.Context) (int, error) { return 8, nil })
	if err != nil || n != 7 {
		t.Fatalf("second call got %d, %v; want cached 7", n, err)
	}
}

func TestWarmup(t *testing.T) {
	ctx := context.Background()
	s := newService(t, newMemory(t, nil), Options{})
	c := NewCache[goal](s, nil)
	loadErr := errors.New("db timeout")

	err := c.Warmup(ctx,
		WarmItem[goal]{Key: "goal:1", Value: goal{ID: "1"}},
		WarmItem[goal]{Key: "goal:2", Load: func(context.Context) (goal, error) { return goal{ID: "2"}, nil }},
		WarmItem[goal]{Key: "goal:3", Load: func(context.Context) (goal, error) { return goal{}, loadErr }},
		WarmItem[goal]{Key: "", Value: goal{ID: "x"}},
	)
	if !errors.Is(err, loadErr) || !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("err = %v", err)
	}
	for _, id := range []string{"1", "2"} {
		g, ok, _ := c.Get(ctx, "goal:"+id)
		if !ok || g.ID != id {
			t.Fatalf("goal %s not warmed: %+v %v", id, g, ok)
		}
	}
	if _, ok, _ := c.Get(ctx, "goal:3"); ok {
		t.Fatal("failed loader stored a value")
	}
	if st := s.Stats(); st.Hits+st.Misses != 0 {
		t.Fatalf("warmup touched stats: %+v", st)
	}
}
