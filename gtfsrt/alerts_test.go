package gtfsrt

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/remarks"
	"github.com/theoremus-urban-solutions/departures/transport"
)

var departure = time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)

func text(s string) *gtfsrtpb.TranslatedString {
	return &gtfsrtpb.TranslatedString{
		Translation: []*gtfsrtpb.TranslatedString_Translation{
			{Text: proto.String(s + " (de)"), Language: proto.String("de")},
			{Text: proto.String(s)},
		},
	}
}

func sampleFeed(t *testing.T) []byte {
	t.Helper()
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(departure.Add(-time.Hour).Unix())),
		},
		Entity: []*gtfsrtpb.FeedEntity{
			{
				Id: proto.String("s5-suspended"),
				Alert: &gtfsrtpb.Alert{
					HeaderText:      text("S5 suspended"),
					DescriptionText: text("No trains between Ostkreuz and Erkner"),
					Cause:           gtfsrtpb.Alert_STRIKE.Enum(),
					Effect:          gtfsrtpb.Alert_NO_SERVICE.Enum(),
					ActivePeriod: []*gtfsrtpb.TimeRange{
						{Start: proto.Uint64(uint64(departure.Add(-2 * time.Hour).Unix()))},
					},
					InformedEntity: []*gtfsrtpb.EntitySelector{{RouteId: proto.String("S5")}},
				},
			},
			{
				Id: proto.String("lift"),
				Alert: &gtfsrtpb.Alert{
					HeaderText:     text("Elevator out of order"),
					Effect:         gtfsrtpb.Alert_ACCESSIBILITY_ISSUE.Enum(),
					InformedEntity: []*gtfsrtpb.EntitySelector{{StopId: proto.String("900100003")}},
				},
			},
			{
				Id: proto.String("expired"),
				Alert: &gtfsrtpb.Alert{
					HeaderText: text("Old works"),
					Effect:     gtfsrtpb.Alert_DETOUR.Enum(),
					ActivePeriod: []*gtfsrtpb.TimeRange{
						{End: proto.Uint64(uint64(departure.Add(-24 * time.Hour).Unix()))},
					},
					InformedEntity: []*gtfsrtpb.EntitySelector{{RouteId: proto.String("S5")}},
				},
			},
			{Id: proto.String("vehicle"), Vehicle: &gtfsrtpb.VehiclePosition{}},
		},
	}
	b, err := proto.Marshal(fm)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestParseAlerts(t *testing.T) {
	ix, err := ParseAlerts(sampleFeed(t))
	if err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 3 {
		t.Fatalf("expected 3 alerts, got %d", ix.Len())
	}
	s5 := ix.ForRoute("S5")
	if len(s5) != 2 {
		t.Fatalf("expected 2 alerts for S5, got %d", len(s5))
	}
	if s5[0].Header != "S5 suspended" {
		t.Errorf("expected untagged translation, got %q", s5[0].Header)
	}
	if s5[0].Effect != "NO_SERVICE" || s5[0].Cause != "STRIKE" {
		t.Errorf("unexpected enums %+v", s5[0])
	}
	if len(ix.ForStop("900100003")) != 1 {
		t.Error("expected stop alert")
	}
	if ix.Timestamp().IsZero() {
		t.Error("header timestamp missing")
	}
	t.Logf("✓ indexed %d alerts", ix.Len())
}

func TestParseAlerts_Garbage(t *testing.T) {
	if _, err := ParseAlerts([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error for malformed protobuf")
	}
}

func TestAnnotate(t *testing.T) {
	ix, err := ParseAlerts(sampleFeed(t))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		journey     model.JourneyOption
		origin      string
		wantRemarks int
		wantExclude bool
	}{
		{
			name:        "line alert excludes journey",
			journey:     model.JourneyOption{Departure: departure, LineName: "S5"},
			wantRemarks: 1,
			wantExclude: true,
		},
		{
			name:        "stop alert is informational",
			journey:     model.JourneyOption{Departure: departure, LineName: "U2"},
			origin:      "900100003",
			wantRemarks: 1,
		},
		{
			name:    "unrelated journey untouched",
			journey: model.JourneyOption{Departure: departure, LineName: "RE1"},
			origin:  "8000105",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ix.Annotate(tt.journey, tt.origin)
			if len(got.Remarks) != tt.wantRemarks {
				t.Fatalf("expected %d remarks, got %+v", tt.wantRemarks, got.Remarks)
			}
			if ex := remarks.Summarize(got.Remarks).Excludes(); ex != tt.wantExclude {
				t.Errorf("Excludes() = %v, want %v", ex, tt.wantExclude)
			}
			if len(tt.journey.Remarks) != 0 {
				t.Error("input journey was mutated")
			}
		})
	}
}

func TestFeed_Refresh(t *testing.T) {
	payload := sampleFeed(t)
	var bad atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bad.Load() {
			_, _ = w.Write([]byte("not protobuf at all"))
			return
		}
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	tc := transport.NewClient(transport.Options{})
	f := NewFeed(tc, srv.URL, nil)
	ix, err := f.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ix.Len() != 3 || f.Index() != ix {
		t.Fatalf("index not stored")
	}

	bad.Store(true)
	tc.Cache().Clear()
	prev, err := f.Refresh(context.Background())
	var de *transport.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if prev != ix {
		t.Error("previous index should survive a bad payload")
	}

	disabled := NewFeed(tc, "", nil)
	if ix, err := disabled.Refresh(context.Background()); ix != nil || err != nil {
		t.Error("disabled feed should be a no-op")
	}
}
