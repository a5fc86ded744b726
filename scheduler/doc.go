// Package scheduler computes adaptive per-route refresh intervals.
//
// The interval is the route's base period scaled by four factors (time to
// departure, battery, network, usage) and clamped to a fixed window. Device
// conditions come from a DeviceMonitor supplied by the host.
package scheduler
