package keyutil

import (
	"strings"
	"testing"
)

func TestDigestOrderInsensitive(t *testing.T) {
	if Digest("a", "b", "c") != Digest("c", "a", "b") {
		t.Fatalf("digest must not depend on part order")
	}
	if Digest("a") == Digest("b") {
		t.Fatalf("distinct parts produced same digest")
	}
	if got := len(Digest("x")); got != 16 {
		t.Fatalf("digest length = %d, want 16", got)
	}
}

func TestSegment(t *testing.T) {
	if got := Segment("status=open"); got != "status=open" {
		t.Fatalf("short segment changed: %q", got)
	}
	if got := Segment("a:b"); got != "a_b" {
		t.Fatalf("colon not replaced: %q", got)
	}
	long := strings.Repeat("x", maxSegment+1)
	got := Segment(long)
	if !strings.HasPrefix(got, "h") || len(got) != 17 {
		t.Fatalf("long segment not digested: %q", got)
	}
}
