package bulwark

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// One call per GetOrCompute with its outcome. prefix is the key prefix,
	// which keeps label cardinality low.
	Lookup(prefix string, hit bool)

	// A backend call failed and the cache degraded around it.
	// op ∈ {"get", "set", "del", "scan", "lock", "unlock"}
	BackendError(op, key string, err error)

	// Stored bytes failed to decode; the entry was dropped and recomputed.
	DecodeError(key string, err error)

	// Another owner held the recompute lock for key.
	LockContended(key string)

	// A value was computed without holding the lock.
	// reason ∈ {"lock_error", "lock_released", "wait_timeout"}
	FallbackCompute(key, reason string)

	// A write carried a tag that is not a segment of its key, so
	// InvalidateByTags will not find it.
	TagNotInKey(key, tag string)

	// Pattern invalidation finished. err is nil or *InvalidateError.
	Invalidated(pattern string, removed int, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Lookup(string, bool)                 {}
func (NopHooks) BackendError(string, string, error) {}
func (NopHooks) DecodeError(string, error)          {}
func (NopHooks) LockContended(string)               {}
func (NopHooks) FallbackCompute(string, string)     {}
func (NopHooks) TagNotInKey(string, string)         {}
func (NopHooks) Invalidated(string, int, error)     {}
