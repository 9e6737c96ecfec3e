// Package sloghooks reports cache events to a *slog.Logger with optional
// sampling of the noisy ones.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/bulwark"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	LookupEvery   uint64
	ContendEvery  uint64
	FallbackEvery uint64
	// Optional key redactor. Defaults to a SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	lookupCtr   atomic.Uint64
	contendCtr  atomic.Uint64
	fallbackCtr atomic.Uint64
}

var _ bulwark.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Lookup(prefix string, hit bool) {
	if h.l == nil || !sample(h.opts.LookupEvery, &h.lookupCtr) {
		return
	}
	h.l.Debug("bulwark.lookup", "prefix", prefix, "hit", hit)
}

func (h *Hooks) BackendError(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("bulwark.backend_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) DecodeError(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("bulwark.decode_error",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) LockContended(key string) {
	if h.l == nil || !sample(h.opts.ContendEvery, &h.contendCtr) {
		return
	}
	h.l.Debug("bulwark.lock_contended", "key", h.redact(key))
}

func (h *Hooks) FallbackCompute(key, reason string) {
	if h.l == nil || !sample(h.opts.FallbackEvery, &h.fallbackCtr) {
		return
	}
	h.l.Info("bulwark.fallback_compute",
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) TagNotInKey(key, tag string) {
	if h.l == nil {
		return
	}
	h.l.Warn("bulwark.tag_not_in_key",
		"key", h.redact(key),
		"tag", tag)
}

func (h *Hooks) Invalidated(pattern string, removed int, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Error("bulwark.invalidate_incomplete",
			"pattern", pattern,
			"removed", removed,
			"err", err)
		return
	}
	h.l.Info("bulwark.invalidated", "pattern", pattern, "removed", removed)
}
