// Package transport performs single logical GETs against the upstream
// journey planner.
//
// A Get goes through three layers:
//
//   - the result cache: a fresh entry is returned without any network call;
//   - the coalescer: concurrent Gets for the same key share one call;
//   - the retry loop: network failures, 5xx, 429 and 503 are retried with
//     exponential backoff (1s, 2s, 4s ... capped at 30s, ±10% jitter).
//
// A stale cache entry's ETag is sent as If-None-Match; a 304 restarts the
// entry's freshness window without transferring the payload again. A 429/503
// Retry-After (seconds or HTTP-date) replaces the computed backoff for the
// next attempt. When retries run out the caller gets ErrTooManyRetries, which
// deliberately does not unwrap to the last attempt's error.
//
// Successful bodies are stored in the cache with the response ETag and a TTL
// bounded by Cache-Control max-age.
package transport
