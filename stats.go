package bulwark

import (
	"context"
	"math"

	"github.com/unkn0wn-root/bulwark/backend"
)

// Stats are process-local counters since New or the last ResetStats.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"` // hits/(hits+misses), 0 when idle

	// TotalKeys is filled only by StatsWithKeys.
	TotalKeys int `json:"total_keys,omitempty"`
}

// HitRatePercent is HitRate as a percentage rounded to two decimals.
func (st Stats) HitRatePercent() float64 {
	return math.Round(st.HitRate*10000) / 100
}

func (s *Service) Stats() Stats {
	h, m := s.hits.Load(), s.misses.Load()
	st := Stats{Hits: h, Misses: m}
	if total := h + m; total > 0 {
		st.HitRate = float64(h) / float64(total)
	}
	return st
}

// StatsWithKeys adds a count of keys under the service prefix. Counting
// scans the backend, so it is meant for dashboards, not hot paths.
func (s *Service) StatsWithKeys(ctx context.Context) (Stats, error) {
	st := s.Stats()
	pattern := "*"
	if s.prefix != "" {
		pattern = escapeGlob(s.prefix) + ":*"
	}
	keys, err := s.scan(ctx, []string{pattern})
	st.TotalKeys = len(keys)
	return st, err
}

func (s *Service) ResetStats() {
	s.hits.Store(0)
	s.misses.Store(0)
}

// scan collects the distinct keys matching any pattern. On error the keys
// gathered so far are returned with it.
func (s *Service) scan(ctx context.Context, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0, 64)
	for _, p := range patterns {
		cursor := backend.CursorStart
		for {
			if err := ctx.Err(); err != nil {
				return keys, err
			}
			page, err := s.be.Scan(ctx, cursor, p, s.scanCount)
			if err != nil {
				s.backendError("scan", p, err)
				return keys, err
			}
			for _, k := range page.Keys {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				keys = append(keys, k)
			}
			if page.Done() {
				break
			}
			cursor = page.Cursor
		}
	}
	return keys, nil
}
