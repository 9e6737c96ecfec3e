package backend

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// NormalizeCursor flattens the shapes stores use for SCAN cursors (bare string,
// integer, raw bytes, json.Number, or a [cursor, keys] pair) into a string.
// Anything unrecognised collapses to CursorStart so a scan loop terminates
// rather than spinning on a store that never signals completion.
func NormalizeCursor(v any) string {
	switch c := v.(type) {
	case nil:
		return CursorStart
	case string:
		if c == "" {
			return CursorStart
		}
		return c
	case []byte:
		return NormalizeCursor(string(c))
	case json.Number:
		return c.String()
	case uint64:
		return strconv.FormatUint(c, 10)
	case int64:
		return strconv.FormatInt(c, 10)
	case int:
		return strconv.Itoa(c)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case []any:
		if len(c) == 0 {
			return CursorStart
		}
		return NormalizeCursor(c[0])
	case ScanPage:
		return NormalizeCursor(c.Cursor)
	case fmt.Stringer:
		return NormalizeCursor(c.String())
	default:
		return CursorStart
	}
}

// ParseCursor converts a normalized cursor into an offset for stores that
// page over an ordered snapshot. Unparseable cursors restart from zero.
func ParseCursor(cursor string) uint64 {
	n, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
