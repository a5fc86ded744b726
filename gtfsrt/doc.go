// Package gtfsrt turns a GTFS-Realtime ServiceAlerts feed into journey
// remarks.
//
// The feed is fetched through the transport client, so it benefits from
// conditional requests and retries like any other upstream call. Alerts are
// indexed by informed route id and stop id; Annotate attaches the alerts
// that concern a journey's line or origin stop as model.Remark values, which
// the selector then classifies like any upstream remark.
package gtfsrt
