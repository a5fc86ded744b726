package selector

import (
	"log/slog"
	"sort"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/remarks"
)

// Options holds the viability thresholds.
type Options struct {
	MaxDelay      time.Duration
	MaxDuration   time.Duration
	DepartedGrace time.Duration
	Logger        *slog.Logger
}

// DefaultOptions rejects delays over 30 minutes, trips over 4 hours and
// departures more than 5 minutes gone.
func DefaultOptions() Options {
	return Options{
		MaxDelay:      30 * time.Minute,
		MaxDuration:   240 * time.Minute,
		DepartedGrace: 5 * time.Minute,
	}
}

// Reason explains why a candidate was rejected.
type Reason string

const (
	Viable          Reason = ""
	ReasonDelay     Reason = "delay"
	ReasonDuration  Reason = "duration"
	ReasonDeparted  Reason = "departed"
	ReasonDisrupted Reason = "disrupted"
)

// Selector is stateless and safe for concurrent use.
type Selector struct {
	opts Options
	log  *slog.Logger
}

// New fills unset thresholds from DefaultOptions.
func New(opts Options) *Selector {
	def := DefaultOptions()
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = def.MaxDelay
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = def.MaxDuration
	}
	if opts.DepartedGrace <= 0 {
		opts.DepartedGrace = def.DepartedGrace
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Selector{opts: opts, log: log.With("component", "selector")}
}

// Check returns Viable or the first rule j breaks.
func (s *Selector) Check(j model.JourneyOption, now time.Time) Reason {
	switch {
	case time.Duration(j.Delay())*time.Minute > s.opts.MaxDelay:
		return ReasonDelay
	case time.Duration(j.DurationMinutes)*time.Minute > s.opts.MaxDuration:
		return ReasonDuration
	case now.Sub(j.Departure) > s.opts.DepartedGrace:
		return ReasonDeparted
	case remarks.Summarize(remarksOf(j)).Excludes():
		return ReasonDisrupted
	}
	return Viable
}

// FilterViable drops non-viable candidates and orders the rest by departure.
// raw is not modified.
func (s *Selector) FilterViable(raw []model.JourneyOption, now time.Time) []model.JourneyOption {
	out := make([]model.JourneyOption, 0, len(raw))
	rejected := map[Reason]int{}
	for _, j := range raw {
		if r := s.Check(j, now); r != Viable {
			rejected[r]++
			continue
		}
		out = append(out, j)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Departure.Before(out[b].Departure) })
	if len(rejected) > 0 {
		s.log.Debug("filtered candidates", "kept", len(out), "rejected", rejected)
	}
	return out
}

// Score rates a single candidate; higher is better.
func (s *Selector) Score(j model.JourneyOption, now time.Time) float64 {
	score := 100.0
	until := j.Departure.Sub(now)
	switch {
	case until >= 5*time.Minute && until <= 30*time.Minute:
		score += 50
	case until >= 0 && until < 5*time.Minute:
		score += 30
	case until > 30*time.Minute && until <= 60*time.Minute:
		score += 25
	default:
		score += 10
	}
	score -= 2 * float64(j.Delay())
	score -= 5 * float64(len(remarksOf(j)))
	if j.Platform != "" {
		score += 5
	}
	if j.LineName != "" {
		score += 5
	}
	return score
}

// Best returns the highest-scoring viable candidate. Ties go to the earlier
// departure.
func (s *Selector) Best(raw []model.JourneyOption, now time.Time) (model.JourneyOption, bool) {
	viable := s.FilterViable(raw, now)
	if len(viable) == 0 {
		return model.JourneyOption{}, false
	}
	best, bestScore := viable[0], s.Score(viable[0], now)
	for _, j := range viable[1:] {
		if sc := s.Score(j, now); sc > bestScore {
			best, bestScore = j, sc
		}
	}
	return best, true
}

// remarksOf falls back to bare warning strings when a candidate carries no
// structured remarks.
func remarksOf(j model.JourneyOption) []model.Remark {
	if len(j.Remarks) > 0 || len(j.Warnings) == 0 {
		return j.Remarks
	}
	out := make([]model.Remark, 0, len(j.Warnings))
	for _, w := range j.Warnings {
		out = append(out, model.Remark{Type: "warning", Summary: w})
	}
	return out
}
