package model

import (
	"errors"
	"fmt"
)

// ErrInvalidPlace is returned for a place that has neither an upstream id nor
// coordinates.
var ErrInvalidPlace = errors.New("place has no identifier or coordinates")

// Place is an origin or destination reference.
type Place struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (p Place) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// Validate returns ErrInvalidPlace when the place cannot be sent upstream.
func (p Place) Validate() error {
	if p.ID == "" && !p.HasCoordinates() {
		return ErrInvalidPlace
	}
	return nil
}

// Key is a stable string used in cache keys. Ids take precedence over
// coordinates.
func (p Place) Key() string {
	if p.ID != "" {
		return p.ID
	}
	if p.HasCoordinates() {
		return fmt.Sprintf("%.5f,%.5f", *p.Latitude, *p.Longitude)
	}
	return ""
}

// NewCoordinatePlace builds a place from a latitude/longitude pair.
func NewCoordinatePlace(name string, lat, lon float64) Place {
	return Place{Name: name, Latitude: &lat, Longitude: &lon}
}
