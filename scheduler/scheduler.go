package scheduler

import (
	"log/slog"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
)

// Options configures a Scheduler. Zero values select defaults.
type Options struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	// FavoriteBase and DefaultBase apply to routes without an interval
	// preference.
	FavoriteBase time.Duration
	DefaultBase  time.Duration
	// SafetyWindow and SafetyMinElapsed drive the near-departure override.
	SafetyWindow     time.Duration
	SafetyMinElapsed time.Duration
	Device           DeviceMonitor
	Now              func() time.Time
	Logger           *slog.Logger
}

// Factors are the multipliers applied to a route's base interval.
type Factors struct {
	Departure float64 `json:"departure"`
	Battery   float64 `json:"battery"`
	Network   float64 `json:"network"`
	Usage     float64 `json:"usage"`
}

// Product multiplies all factors.
func (f Factors) Product() float64 {
	return f.Departure * f.Battery * f.Network * f.Usage
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Scheduler {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 30 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 30 * time.Minute
	}
	if opts.FavoriteBase <= 0 {
		opts.FavoriteBase = 2 * time.Minute
	}
	if opts.DefaultBase <= 0 {
		opts.DefaultBase = 5 * time.Minute
	}
	if opts.SafetyWindow <= 0 {
		opts.SafetyWindow = 5 * time.Minute
	}
	if opts.SafetyMinElapsed <= 0 {
		opts.SafetyMinElapsed = time.Minute
	}
	if opts.Device == nil {
		opts.Device = NewStaticDevice(DeviceState{BatteryLevel: -1, Charging: true, Network: NetworkWiFi})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{opts: opts, log: log.With("component", "scheduler")}
}

// AutoRefresh reports whether the route is refreshed without user action.
func AutoRefresh(r model.Route) bool { return r.RefreshInterval != model.RefreshManual }

// BaseInterval is the route's period before adaptation.
func (s *Scheduler) BaseInterval(r model.Route) time.Duration {
	if !AutoRefresh(r) {
		return s.opts.MaxInterval
	}
	if d := r.RefreshInterval.Duration(); d > 0 {
		return d
	}
	if r.Favorite {
		return s.opts.FavoriteBase
	}
	return s.opts.DefaultBase
}

// Factors evaluates the multipliers for r at the current time.
func (s *Scheduler) Factors(r model.Route, nextDeparture *time.Time) Factors {
	now := s.opts.Now()
	dev := s.opts.Device.DeviceState()
	return Factors{
		Departure: departureFactor(nextDeparture, now),
		Battery:   batteryFactor(dev),
		Network:   networkFactor(dev.Network),
		Usage:     usageFactor(r.UsageFrequency(now)),
	}
}

// Interval is the adaptive refresh period for r, always within
// [MinInterval, MaxInterval].
func (s *Scheduler) Interval(r model.Route, nextDeparture *time.Time) time.Duration {
	f := s.Factors(r, nextDeparture)
	d := time.Duration(float64(s.BaseInterval(r)) * f.Product())
	return min(max(d, s.opts.MinInterval), s.opts.MaxInterval)
}

// NextRefresh is the time r becomes due. A route never refreshed is due now.
func (s *Scheduler) NextRefresh(r model.Route, lastRefresh time.Time, nextDeparture *time.Time) time.Time {
	if lastRefresh.IsZero() {
		return s.opts.Now()
	}
	return lastRefresh.Add(s.Interval(r, nextDeparture))
}

// ShouldRefreshNow reports whether r is due. Close to departure a refresh is
// forced once SafetyMinElapsed has passed, whatever the interval says.
// Manual routes are never due.
func (s *Scheduler) ShouldRefreshNow(r model.Route, lastRefresh time.Time, nextDeparture *time.Time) bool {
	if !AutoRefresh(r) {
		return false
	}
	if lastRefresh.IsZero() {
		return true
	}
	now := s.opts.Now()
	elapsed := now.Sub(lastRefresh)
	if elapsed >= s.Interval(r, nextDeparture) {
		return true
	}
	if nextDeparture != nil {
		until := nextDeparture.Sub(now)
		if until >= 0 && until < s.opts.SafetyWindow && elapsed > s.opts.SafetyMinElapsed {
			s.log.Debug("near-departure override", "route", r.ID, "until", until, "elapsed", elapsed)
			return true
		}
	}
	return false
}

// departureFactor treats a departure already in the past as unknown.
func departureFactor(next *time.Time, now time.Time) float64 {
	if next == nil {
		return 1.0
	}
	until := next.Sub(now)
	switch {
	case until < 0:
		return 1.0
	case until < 5*time.Minute:
		return 0.2
	case until < 10*time.Minute:
		return 0.3
	case until < 15*time.Minute:
		return 0.5
	case until < 30*time.Minute:
		return 0.7
	case until < 60*time.Minute:
		return 1.0
	}
	return 1.5
}

func batteryFactor(d DeviceState) float64 {
	if d.Charging || d.BatteryLevel < 0 {
		return 1.0
	}
	switch {
	case d.BatteryLevel < 0.10:
		return 3.0
	case d.BatteryLevel < 0.20:
		return 2.0
	case d.BatteryLevel < 0.30:
		return 1.5
	}
	return 1.0
}

func networkFactor(n NetworkType) float64 {
	switch n {
	case NetworkCellular:
		return 1.5
	case NetworkNone:
		return 3.0
	}
	return 1.0
}

func usageFactor(u model.UsageFrequency) float64 {
	switch u {
	case model.UsageDaily:
		return 0.8
	case model.UsageWeekly:
		return 1.0
	case model.UsageMonthly:
		return 1.2
	}
	return 1.5
}
