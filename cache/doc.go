// Package cache is the engine's bounded result cache.
//
// Entries carry a priority tier that decides their time-to-live:
//
//	critical 30m, high 10m, normal 5m, low 1m
//
// An entry past its TTL is stale: Retrieve treats it as absent, but Lookup
// still returns it so the transport can send its validator (ETag) on a
// conditional request. Stale entries are kept for a retention window and then
// removed by the background sweep.
//
// When the entry count exceeds MaxEntries, entries are evicted in this order:
// stale first, then lowest priority, then least recently used.
//
// Storage and the background sweep are provided by github.com/patrickmn/go-cache.
// Freshness is computed against the cache's own clock so it can be driven
// from tests.
package cache
