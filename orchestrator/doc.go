// Package orchestrator decides between refreshing a known journey and
// re-planning a route.
//
// A current journey that carries a refresh token and departed less than an
// hour ago is refreshed in place. Every other case, and every failed refresh,
// goes through the batcher to a full plan: place resolution, the upstream
// journeys call, service-alert annotation and viability filtering. The last
// outcome per route is kept for the scheduler.
package orchestrator
