package bulwark

import (
	"context"
	"errors"
	"strings"
)

// Invalidate deletes every key matching a Redis-style glob. The pattern is
// used as given, without the key prefix. It returns how many keys were
// removed; a non-nil error is an *InvalidateError and the count still
// reflects what was deleted before the failure.
func (s *Service) Invalidate(ctx context.Context, pattern string) (int, error) {
	if pattern == "" {
		return 0, ErrEmptyPattern
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}
	return s.invalidate(ctx, pattern, []string{pattern})
}

// InvalidateByTags deletes every key that carries any of tags as a whole
// colon-separated segment after the first. Tags are matched literally.
func (s *Service) InvalidateByTags(ctx context.Context, tags ...string) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	patterns := make([]string, 0, 2*len(tags))
	for _, t := range tags {
		if t == "" {
			continue
		}
		et := escapeGlob(t)
		patterns = append(patterns, "*:"+et+":*", "*:"+et)
	}
	if len(patterns) == 0 {
		return 0, nil
	}
	return s.invalidate(ctx, "tags:"+strings.Join(tags, ","), patterns)
}

// ClearAll deletes every key in the backend, including keys this service did
// not write, and resets the counters.
func (s *Service) ClearAll(ctx context.Context) (int, error) {
	n, err := s.Invalidate(ctx, "*")
	s.ResetStats()
	return n, err
}

func (s *Service) invalidate(ctx context.Context, label string, patterns []string) (int, error) {
	keys, scanErr := s.scan(ctx, patterns)

	removed := 0
	var delErrs []error
	// deletes run even when the caller is gone so a partial scan is not wasted
	dctx := context.WithoutCancel(ctx)
	for start := 0; start < len(keys); start += s.deleteBatch {
		end := min(start+s.deleteBatch, len(keys))
		n, err := s.be.Del(dctx, keys[start:end]...)
		if err != nil {
			s.backendError("del", keys[start], err)
			delErrs = append(delErrs, err)
			continue
		}
		removed += int(n)
	}

	var err error
	if scanErr != nil || len(delErrs) > 0 {
		err = &InvalidateError{Pattern: label, Removed: removed, ScanErr: scanErr, DelErr: errors.Join(delErrs...)}
		s.log.Warn("cache invalidation incomplete", Fields{"pattern": label, "removed": removed, "err": err.Error()})
	} else {
		s.log.Debug("cache invalidated", Fields{"pattern": label, "removed": removed})
	}
	s.hooks.Invalidated(label, removed, err)
	return removed, err
}

// escapeGlob quotes the glob metacharacters in s.
func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
