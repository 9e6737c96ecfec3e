// Package backend defines the key-value store contract the cache-aside layer
// sits on, plus helpers shared by the concrete stores.
//
// A Backend is treated as an opaque TTL-capable byte store. The cache owns the
// "<prefix>:" and "lock:<prefix>:" keyspaces it writes; sharing those prefixes
// with foreign writers is undefined.
package backend

import (
	"context"
	"errors"
	"time"
)

// CursorStart is the sentinel that begins a SCAN and, when returned, ends it.
const CursorStart = "0"

var (
	ErrNilClient   = errors.New("backend: nil client")
	ErrUnavailable = errors.New("backend: unavailable")
)

// SetOptions control a single write.
type SetOptions struct {
	// TTL <= 0 means no expiry.
	TTL time.Duration
	// OnlyIfAbsent turns the write into an atomic conditional set (SET NX).
	OnlyIfAbsent bool
}

// ScanPage is one round of a cursor iteration.
type ScanPage struct {
	Cursor string
	Keys   []string
}

// Done reports whether the iteration is complete.
func (p ScanPage) Done() bool { return p.Cursor == CursorStart || p.Cursor == "" }

// Backend is a minimal TTL byte store with conditional set and cursor scan.
// Implementations must be safe for concurrent use and byte-for-byte
// transparent: Get returns exactly what Set stored.
type Backend interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. With OnlyIfAbsent, ok=false means the key already existed.
	Set(ctx context.Context, key string, value []byte, opts SetOptions) (ok bool, err error)

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Scan returns the next page of keys matching a Redis-style glob.
	// count is a hint; a page may hold fewer or more keys.
	Scan(ctx context.Context, cursor, match string, count int64) (ScanPage, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
