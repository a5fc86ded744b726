// Package background runs due route refreshes when the host wakes the
// process.
//
// A run re-registers the next wake-up first, then refreshes every due route
// under a soft deadline that ends a little before the host's hard deadline,
// so the completion report is always delivered. Hosts without background
// execution get a NoopTrigger.
package background
