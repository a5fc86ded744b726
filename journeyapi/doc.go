// Package journeyapi maps the upstream journey-planning endpoints onto the
// transport client.
//
// The upstream speaks the transport.rest JSON dialect: places are stops or
// addresses, journeys are lists of legs, and every journey may carry a
// refresh token that can be exchanged for an updated copy without
// re-planning. This package owns request encoding, cache keys and the
// conversion from wire journeys to model.JourneyOption values.
package journeyapi
