package model

import (
	"fmt"
	"time"
)

// RefreshInterval is the user's preferred refresh period for a route.
// The zero value means "no preference" and lets the scheduler choose.
type RefreshInterval int

const (
	RefreshDefault RefreshInterval = iota
	RefreshManual
	RefreshOneMinute
	RefreshTwoMinutes
	RefreshFiveMinutes
	RefreshTenMinutes
	RefreshFifteenMinutes
)

// Duration returns the preferred period. Manual and default return 0.
func (r RefreshInterval) Duration() time.Duration {
	switch r {
	case RefreshOneMinute:
		return time.Minute
	case RefreshTwoMinutes:
		return 2 * time.Minute
	case RefreshFiveMinutes:
		return 5 * time.Minute
	case RefreshTenMinutes:
		return 10 * time.Minute
	case RefreshFifteenMinutes:
		return 15 * time.Minute
	}
	return 0
}

func (r RefreshInterval) String() string {
	switch r {
	case RefreshDefault:
		return "default"
	case RefreshManual:
		return "manual"
	case RefreshOneMinute:
		return "1m"
	case RefreshTwoMinutes:
		return "2m"
	case RefreshFiveMinutes:
		return "5m"
	case RefreshTenMinutes:
		return "10m"
	case RefreshFifteenMinutes:
		return "15m"
	}
	return fmt.Sprintf("interval(%d)", int(r))
}

// ParseRefreshInterval accepts the String form. An empty string is the
// default interval.
func ParseRefreshInterval(s string) (RefreshInterval, error) {
	switch s {
	case "", "default":
		return RefreshDefault, nil
	case "manual":
		return RefreshManual, nil
	case "1m":
		return RefreshOneMinute, nil
	case "2m":
		return RefreshTwoMinutes, nil
	case "5m":
		return RefreshFiveMinutes, nil
	case "10m":
		return RefreshTenMinutes, nil
	case "15m":
		return RefreshFifteenMinutes, nil
	}
	return RefreshDefault, fmt.Errorf("unknown refresh interval %q", s)
}

func (r RefreshInterval) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *RefreshInterval) UnmarshalText(b []byte) error {
	v, err := ParseRefreshInterval(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// UsageFrequency is a coarse class derived from how recently a route was used.
type UsageFrequency int

const (
	UsageRarely UsageFrequency = iota
	UsageMonthly
	UsageWeekly
	UsageDaily
)

func (u UsageFrequency) String() string {
	switch u {
	case UsageDaily:
		return "daily"
	case UsageWeekly:
		return "weekly"
	case UsageMonthly:
		return "monthly"
	default:
		return "rarely"
	}
}

// Route is a user-defined origin/destination pair.
type Route struct {
	ID              string          `json:"id"`
	Name            string          `json:"name,omitempty"`
	Origin          Place           `json:"origin"`
	Destination     Place           `json:"destination"`
	Favorite        bool            `json:"favorite"`
	RefreshInterval RefreshInterval `json:"refreshInterval"`
	UsageCount      int             `json:"usageCount"`
	LastUsedAt      time.Time       `json:"lastUsedAt,omitempty"`
}

// Validate checks that both ends of the route can be sent upstream.
func (r Route) Validate() error {
	if err := r.Origin.Validate(); err != nil {
		return fmt.Errorf("route %s origin: %w", r.ID, err)
	}
	if err := r.Destination.Validate(); err != nil {
		return fmt.Errorf("route %s destination: %w", r.ID, err)
	}
	return nil
}

// UsageFrequency classifies the route by the age of its last use.
func (r Route) UsageFrequency(now time.Time) UsageFrequency {
	if r.UsageCount == 0 || r.LastUsedAt.IsZero() {
		return UsageRarely
	}
	age := now.Sub(r.LastUsedAt)
	switch {
	case age <= 24*time.Hour:
		return UsageDaily
	case age <= 7*24*time.Hour:
		return UsageWeekly
	case age <= 30*24*time.Hour:
		return UsageMonthly
	}
	return UsageRarely
}

// Key identifies the origin/destination pair independent of the route id.
func (r Route) Key() string {
	return r.Origin.Key() + "→" + r.Destination.Key()
}
