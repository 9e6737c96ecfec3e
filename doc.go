// Package bulwark is a cache-aside layer that protects expensive computations
// and third-party calls from stampedes. Values are computed at most once per
// key across every process sharing a backend (best effort), cached with a TTL
// and invalidated by key pattern or by tag.
//
// Components:
//   - backend.Backend: opaque TTL byte store with SET NX and cursor SCAN
//     (memory, Redis, Upstash REST, ristretto, bigcache).
//   - Service: get-or-compute orchestration over bytes, stats, invalidation.
//   - Cache[V]: typed view over a Service with a pluggable codec.Codec[V].
//
// Keys:
//
//	<prefix>:<key>       - cached values (prefix defaults to "cache")
//	lock:<prefix>:<key>  - recompute lock, value is the owner token
//
// Miss protocol:
//
//	SET lock:<k> <token> NX PX <lockTTL>
//	  acquired -> compute, SET <k>, DEL lock
//	  held     -> poll GET <k> every PollInterval for up to MaxWait,
//	              then compute without the lock
//
// Backend failures never reach the caller: reads turn into misses, writes are
// logged and dropped, and a failed lock falls back to computing directly.
// Errors returned by the compute function are returned unchanged.
//
// Tags are not stored. A tag is expected to appear as a segment of the key
// ("cache:goals:org-7:active" carries tag "org-7"), and InvalidateByTags
// removes keys matching "*:<tag>:*" or "*:<tag>".
package bulwark
