// Package batcher collects per-route fetch requests for a short window and
// dispatches them together.
//
// A flush happens when the window timer fires, when the pending count hits
// its threshold, or at once for critical requests. Each route has at most
// one pending entry; resubmitting a route only replaces the entry when the
// new priority is strictly higher. Flushed requests are grouped by origin
// and destination proximity and each group's requests run concurrently.
package batcher
