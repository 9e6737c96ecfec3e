package bulwark

import (
	"strings"

	"github.com/unkn0wn-root/bulwark/internal/keyutil"
)

// Key joins parts with ':' after making each a single segment: colons are
// replaced and parts longer than 64 bytes are digested. Empty parts are
// skipped. The service prefix is added later and must not be included here.
func Key(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			segs = append(segs, keyutil.Segment(p))
		}
	}
	return strings.Join(segs, ":")
}

// EntityKey is the key for one record, e.g. EntityKey("goal", "42") => "goal:42".
func EntityKey(kind, id string) string { return Key(kind, id) }

// ListKey is the key for a filtered collection owned by scope, e.g.
// ListKey("goals", "org-7", "status=open") => "goals:org-7:<digest>".
// Filters are order-insensitive.
func ListKey(kind, scope string, filters ...string) string {
	if len(filters) == 0 {
		return Key(kind, scope)
	}
	return Key(kind, scope, keyutil.Digest(filters...))
}

// Tags returns the tags matching every key built by ListKey for kind and
// scope. Pass the result to WithTags on writes and to InvalidateByTags.
func Tags(kind, scope string) []string {
	return []string{keyutil.Segment(kind), keyutil.Segment(scope)}
}
