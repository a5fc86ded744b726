// Package coalesce merges concurrent calls that share a request key.
//
// At most one call per key is in flight. Callers arriving while it runs wait
// for it and receive the identical result value or error. The key is released
// as soon as the call returns, so the next caller starts a fresh call.
//
// The in-flight map is golang.org/x/sync/singleflight, which serialises its
// own registration. A waiter whose context ends stops waiting immediately; the
// shared call itself runs detached from any single caller's cancellation so
// one impatient caller cannot fail the others.
package coalesce
