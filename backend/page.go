package backend

import (
	"sort"
	"strconv"
)

// PageSnapshot emulates SCAN over an in-process key set. keys is sorted in
// place; cursor is an offset into it. count keys are examined per page and
// filtered by match, so a page may be empty while the cursor is not done.
func PageSnapshot(keys []string, cursor, match string, count int64) (ScanPage, error) {
	isMatch, err := Matcher(match)
	if err != nil {
		return ScanPage{}, err
	}
	if count <= 0 {
		count = 10
	}
	sort.Strings(keys)

	n := uint64(len(keys))
	start := ParseCursor(cursor)
	if start >= n {
		return ScanPage{Cursor: CursorStart}, nil
	}
	end := start + uint64(count)
	if end > n {
		end = n
	}

	var out []string
	for _, k := range keys[start:end] {
		if isMatch(k) {
			out = append(out, k)
		}
	}
	next := CursorStart
	if end < n {
		next = strconv.FormatUint(end, 10)
	}
	return ScanPage{Cursor: next, Keys: out}, nil
}
