package journeyapi

import (
	"math"
	"strings"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
)

type wireCoordinates struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// wireLocation covers stops (nested location) and addresses (flat
// coordinates).
type wireLocation struct {
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Address   string           `json:"address"`
	Latitude  *float64         `json:"latitude"`
	Longitude *float64         `json:"longitude"`
	Location  *wireCoordinates `json:"location"`
}

func (l wireLocation) place() model.Place {
	p := model.Place{ID: l.ID, Name: l.Name}
	if p.Name == "" {
		p.Name = l.Address
	}
	switch {
	case l.Latitude != nil && l.Longitude != nil:
		p.Latitude, p.Longitude = l.Latitude, l.Longitude
	case l.Location != nil && l.Location.Latitude != nil && l.Location.Longitude != nil:
		p.Latitude, p.Longitude = l.Location.Latitude, l.Location.Longitude
	}
	return p
}

type wireRemark struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Summary string `json:"summary"`
	Text    string `json:"text"`
}

type wireLine struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireLeg struct {
	Origin      wireLocation `json:"origin"`
	Destination wireLocation `json:"destination"`

	Departure                *time.Time `json:"departure"`
	PlannedDeparture         *time.Time `json:"plannedDeparture"`
	DepartureDelay           *int       `json:"departureDelay"`
	DeparturePlatform        *string    `json:"departurePlatform"`
	PlannedDeparturePlatform *string    `json:"plannedDeparturePlatform"`

	Arrival        *time.Time `json:"arrival"`
	PlannedArrival *time.Time `json:"plannedArrival"`

	Line      *wireLine    `json:"line"`
	Walking   bool         `json:"walking"`
	Cancelled bool         `json:"cancelled"`
	Remarks   []wireRemark `json:"remarks"`
}

func (l wireLeg) departure() (time.Time, bool) {
	if l.Departure != nil {
		return *l.Departure, true
	}
	if l.PlannedDeparture != nil {
		return *l.PlannedDeparture, true
	}
	return time.Time{}, false
}

func (l wireLeg) arrival() (time.Time, bool) {
	if l.Arrival != nil {
		return *l.Arrival, true
	}
	if l.PlannedArrival != nil {
		return *l.PlannedArrival, true
	}
	return time.Time{}, false
}

func (l wireLeg) platform() string {
	if l.DeparturePlatform != nil {
		return *l.DeparturePlatform
	}
	if l.PlannedDeparturePlatform != nil {
		return *l.PlannedDeparturePlatform
	}
	return ""
}

type wireJourney struct {
	Legs         []wireLeg    `json:"legs"`
	RefreshToken string       `json:"refreshToken"`
	Remarks      []wireRemark `json:"remarks"`
}

type journeysResponse struct {
	Journeys []wireJourney `json:"journeys"`
}

type refreshResponse struct {
	Journey *wireJourney `json:"journey"`
}

// option converts a wire journey. ok is false when the journey has no legs
// or no usable times.
func (j wireJourney) option() (model.JourneyOption, bool) {
	if len(j.Legs) == 0 {
		return model.JourneyOption{}, false
	}
	dep, ok := j.Legs[0].departure()
	if !ok {
		return model.JourneyOption{}, false
	}
	arr, ok := j.Legs[len(j.Legs)-1].arrival()
	if !ok {
		return model.JourneyOption{}, false
	}

	opt := model.JourneyOption{
		Departure:       dep,
		Arrival:         arr,
		DurationMinutes: int(math.Round(arr.Sub(dep).Minutes())),
		RefreshToken:    j.RefreshToken,
	}
	for _, leg := range j.Legs {
		if leg.Walking {
			continue
		}
		if leg.Line != nil {
			opt.LineName = leg.Line.Name
		}
		opt.Platform = leg.platform()
		if leg.DepartureDelay != nil {
			opt.DelayMinutes = model.IntPtr(*leg.DepartureDelay / 60)
		}
		break
	}

	seen := make(map[string]bool)
	collect := func(rs []wireRemark) {
		for _, r := range rs {
			k := r.Type + "|" + r.Code + "|" + r.Summary + "|" + r.Text
			if seen[k] {
				continue
			}
			seen[k] = true
			opt.Remarks = append(opt.Remarks, model.Remark{
				Type:    r.Type,
				Code:    r.Code,
				Summary: r.Summary,
				Text:    r.Text,
				Source:  "upstream",
			})
			if r.Type == "warning" {
				msg := strings.TrimSpace(r.Summary)
				if msg == "" {
					msg = strings.TrimSpace(r.Text)
				}
				if msg != "" {
					opt.Warnings = append(opt.Warnings, msg)
				}
			}
		}
	}
	collect(j.Remarks)
	for _, leg := range j.Legs {
		collect(leg.Remarks)
		if leg.Cancelled {
			collect([]wireRemark{{Type: "warning", Code: "cancelled", Summary: "Trip cancelled"}})
		}
	}
	return opt, true
}
