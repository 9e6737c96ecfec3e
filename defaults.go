package bulwark

import "time"

const (
	DefaultTTL          = 5 * time.Minute
	DefaultKeyPrefix    = "cache"
	DefaultLockTTL      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxWait      = 5 * time.Second
	DefaultScanCount    = 100
	DefaultDeleteBatch  = 100

	lockPrefix = "lock:"
	// bound on lock release when the caller's context is already done
	releaseTimeout = 2 * time.Second
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
