package gtfsrt

import (
	"fmt"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/departures/model"
)

// Alert is a simplified GTFS-RT Alert.
type Alert struct {
	ID          string
	Header      string
	Description string
	Cause       string
	Effect      string
	Severity    string
	// Start and End bound the first active period. Zero means open.
	Start    time.Time
	End      time.Time
	RouteIDs []string
	StopIDs  []string
	TripIDs  []string
}

// ActiveAt reports whether t falls inside the alert's active period.
func (a Alert) ActiveAt(t time.Time) bool {
	if !a.Start.IsZero() && t.Before(a.Start) {
		return false
	}
	if !a.End.IsZero() && t.After(a.End) {
		return false
	}
	return true
}

// Remark converts the alert into a journey remark.
func (a Alert) Remark() model.Remark {
	return model.Remark{
		Type:     "warning",
		Code:     a.ID,
		Summary:  a.Header,
		Text:     a.Description,
		Source:   "gtfsrt",
		Cause:    a.Cause,
		Effect:   a.Effect,
		Severity: a.Severity,
	}
}

// AlertIndex is an immutable lookup of alerts by route and stop.
type AlertIndex struct {
	alerts    []Alert
	byRoute   map[string][]int
	byStop    map[string][]int
	timestamp time.Time
}

// ParseAlerts decodes a FeedMessage and indexes its alert entities. Other
// entity kinds are ignored.
func ParseAlerts(b []byte) (*AlertIndex, error) {
	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("unmarshal feed message: %w", err)
	}
	ix := &AlertIndex{
		byRoute: map[string][]int{},
		byStop:  map[string][]int{},
	}
	if fm.Header != nil && fm.Header.Timestamp != nil {
		ix.timestamp = time.Unix(int64(*fm.Header.Timestamp), 0)
	}
	for _, e := range fm.Entity {
		if e.Alert == nil {
			continue
		}
		ra := convertAlert(e.GetId(), e.Alert)
		idx := len(ix.alerts)
		ix.alerts = append(ix.alerts, ra)
		for _, rid := range ra.RouteIDs {
			ix.byRoute[rid] = append(ix.byRoute[rid], idx)
		}
		for _, sid := range ra.StopIDs {
			ix.byStop[sid] = append(ix.byStop[sid], idx)
		}
	}
	return ix, nil
}

func convertAlert(id string, a *gtfsrtpb.Alert) Alert {
	ra := Alert{ID: id}
	if a.HeaderText != nil {
		ra.Header = translatedText(a.HeaderText)
	}
	if a.DescriptionText != nil {
		ra.Description = translatedText(a.DescriptionText)
	}
	if a.Cause != nil {
		ra.Cause = a.Cause.String()
	}
	if a.Effect != nil {
		ra.Effect = a.Effect.String()
	}
	if a.SeverityLevel != nil {
		ra.Severity = a.SeverityLevel.String()
	}
	if len(a.ActivePeriod) > 0 {
		ap := a.ActivePeriod[0]
		if ap.Start != nil {
			ra.Start = time.Unix(int64(*ap.Start), 0)
		}
		if ap.End != nil {
			ra.End = time.Unix(int64(*ap.End), 0)
		}
	}
	for _, ie := range a.InformedEntity {
		if ie.RouteId != nil {
			ra.RouteIDs = append(ra.RouteIDs, *ie.RouteId)
		}
		if ie.Trip != nil && ie.Trip.TripId != nil {
			ra.TripIDs = append(ra.TripIDs, *ie.Trip.TripId)
			if ie.Trip.RouteId != nil && ie.RouteId == nil {
				ra.RouteIDs = append(ra.RouteIDs, *ie.Trip.RouteId)
			}
		}
		if ie.StopId != nil {
			ra.StopIDs = append(ra.StopIDs, *ie.StopId)
		}
	}
	return ra
}

// translatedText prefers the untagged translation, then the first one.
func translatedText(ts *gtfsrtpb.TranslatedString) string {
	var first string
	for _, tr := range ts.GetTranslation() {
		if tr.GetLanguage() == "" {
			return tr.GetText()
		}
		if first == "" {
			first = tr.GetText()
		}
	}
	return first
}

// Len is the number of indexed alerts.
func (ix *AlertIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.alerts)
}

// Timestamp is the feed header timestamp.
func (ix *AlertIndex) Timestamp() time.Time {
	if ix == nil {
		return time.Time{}
	}
	return ix.timestamp
}

func (ix *AlertIndex) ForRoute(routeID string) []Alert { return ix.lookup(ix.byRoute, routeID) }
func (ix *AlertIndex) ForStop(stopID string) []Alert   { return ix.lookup(ix.byStop, stopID) }

func (ix *AlertIndex) lookup(m map[string][]int, key string) []Alert {
	if ix == nil || key == "" {
		return nil
	}
	idxs := m[key]
	out := make([]Alert, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, ix.alerts[i])
	}
	return out
}

// Annotate returns j with remarks for every alert active at its departure
// that informs its line or its origin stop. j is returned unchanged when
// nothing matches.
func (ix *AlertIndex) Annotate(j model.JourneyOption, originStopID string) model.JourneyOption {
	if ix.Len() == 0 {
		return j
	}
	seen := map[string]bool{}
	var extra []model.Remark
	for _, group := range [][]Alert{ix.ForRoute(j.LineName), ix.ForStop(originStopID)} {
		for _, a := range group {
			k := a.ID + "|" + a.Header
			if seen[k] || !a.ActiveAt(j.Departure) {
				continue
			}
			seen[k] = true
			extra = append(extra, a.Remark())
		}
	}
	if len(extra) == 0 {
		return j
	}
	return j.WithRemarks(extra...)
}
