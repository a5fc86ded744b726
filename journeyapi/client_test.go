package journeyapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/transport"
)

const journeysFixture = `{
  "journeys": [
    {
      "refreshToken": "tok-1",
      "legs": [
        {
          "origin": {"type": "location", "address": "Home", "latitude": 52.5, "longitude": 13.4},
          "destination": {"type": "stop", "id": "900100003", "name": "Alexanderplatz"},
          "departure": "2026-01-12T07:58:00+01:00",
          "arrival": "2026-01-12T08:04:00+01:00",
          "walking": true
        },
        {
          "origin": {"type": "stop", "id": "900100003", "name": "Alexanderplatz"},
          "destination": {"type": "stop", "id": "900003201", "name": "Hauptbahnhof"},
          "departure": "2026-01-12T08:10:00+01:00",
          "plannedDeparture": "2026-01-12T08:08:00+01:00",
          "departureDelay": 120,
          "departurePlatform": "2",
          "arrival": "2026-01-12T08:22:00+01:00",
          "line": {"id": "s5", "name": "S5"},
          "remarks": [
            {"type": "warning", "summary": "Construction work", "text": "Track works near Friedrichstraße"},
            {"type": "hint", "code": "FB", "text": "Bicycles allowed"}
          ]
        },
        {
          "origin": {"type": "stop", "id": "900003201", "name": "Hauptbahnhof"},
          "destination": {"type": "stop", "id": "900003201", "name": "Hauptbahnhof"},
          "departure": "2026-01-12T08:22:00+01:00",
          "arrival": "2026-01-12T08:30:00+01:00",
          "line": {"id": "m5", "name": "M5"}
        }
      ]
    },
    {"legs": []}
  ]
}`

func newAPI(t *testing.T, h http.Handler, opts Options) (*Client, *transport.Client) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tc := transport.NewClient(transport.Options{
		Sleep: func(context.Context, time.Duration) error { return nil },
	})
	opts.BaseURL = srv.URL
	c, err := New(tc, opts)
	if err != nil {
		t.Fatal(err)
	}
	return c, tc
}

func TestJourneys_Conversion(t *testing.T) {
	var query atomic.Value
	c, _ := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/journeys" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		query.Store(r.URL.Query())
		_, _ = w.Write([]byte(journeysFixture))
	}), Options{})

	from := model.NewCoordinatePlace("Home", 52.5, 13.4)
	to := model.Place{ID: "900003201", Name: "Hauptbahnhof"}
	got, err := c.Journeys(context.Background(), from, to, model.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 usable journey, got %d", len(got))
	}
	j := got[0]

	tests := []struct {
		name string
		ok   bool
		desc string
	}{
		{"departure from first leg", j.Departure.Equal(time.Date(2026, 1, 12, 6, 58, 0, 0, time.UTC)), j.Departure.String()},
		{"arrival from last leg", j.Arrival.Equal(time.Date(2026, 1, 12, 7, 30, 0, 0, time.UTC)), j.Arrival.String()},
		{"duration", j.DurationMinutes == 32, ""},
		{"line from first non-walking leg", j.LineName == "S5", j.LineName},
		{"platform", j.Platform == "2", j.Platform},
		{"delay in minutes", j.Delay() == 2, ""},
		{"warnings", len(j.Warnings) == 1 && j.Warnings[0] == "Construction work", ""},
		{"remarks", len(j.Remarks) == 2, ""},
		{"refresh token", j.RefreshToken == "tok-1", j.RefreshToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.ok {
				t.Errorf("unexpected value %s (%+v)", tt.desc, j)
			}
		})
	}

	q := query.Load().(url.Values)
	if q["from.latitude"][0] != "52.500000" || q["from.address"][0] != "Home" {
		t.Errorf("coordinate origin not encoded: %v", q)
	}
	if q["to"][0] != "900003201" || q["stopovers"][0] != "true" || q["remarks"][0] != "true" {
		t.Errorf("unexpected query %v", q)
	}
	t.Logf("✓ converted journey %s → %s on %s", j.Departure, j.Arrival, j.LineName)
}

func TestJourneys_InvalidPlace(t *testing.T) {
	var hits atomic.Int32
	c, _ := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}), Options{})

	_, err := c.Journeys(context.Background(), model.Place{Name: "Nowhere"}, model.Place{ID: "1"}, model.PriorityNormal)
	if !errors.Is(err, transport.ErrInvalidRequest) || !errors.Is(err, model.ErrInvalidPlace) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("invalid places must not reach the network")
	}
}

func TestRefreshJourney_ExpiredToken(t *testing.T) {
	c, _ := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), Options{})

	_, err := c.RefreshJourney(context.Background(), "gone", model.PriorityHigh)
	if !errors.Is(err, ErrRefreshTokenExpired) {
		t.Fatalf("expected ErrRefreshTokenExpired, got %v", err)
	}
	if !errors.Is(err, transport.ErrNotFound) {
		t.Errorf("expected the 404 to stay visible, got %v", err)
	}
}

func TestRefreshJourney_KeepsToken(t *testing.T) {
	c, _ := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/journeys/abc%2Fdef" {
			t.Errorf("token not path-escaped: %s", r.URL.EscapedPath())
		}
		_, _ = w.Write([]byte(`{"journey":{"legs":[{"departure":"2026-01-12T08:10:00Z","arrival":"2026-01-12T08:40:00Z","line":{"name":"RE1"}}]}}`))
	}), Options{})

	j, err := c.RefreshJourney(context.Background(), "abc/def", model.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	if j.RefreshToken != "abc/def" || j.LineName != "RE1" || j.DurationMinutes != 30 {
		t.Errorf("unexpected refreshed journey %+v", j)
	}
}

func TestJourneys_DecodeErrorInvalidatesCache(t *testing.T) {
	var hits atomic.Int32
	c, tc := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"journeys": [`))
	}), Options{})

	from, to := model.Place{ID: "a"}, model.Place{ID: "b"}
	for i := 0; i < 2; i++ {
		_, err := c.Journeys(context.Background(), from, to, model.PriorityNormal)
		var de *transport.DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("expected DecodeError, got %v", err)
		}
	}
	if hits.Load() != 2 {
		t.Errorf("malformed payload should not be served from cache, hits=%d", hits.Load())
	}
	if _, ok := tc.Cache().Lookup(JourneysKey(from, to)); ok {
		t.Error("malformed payload left in cache")
	}
}

func TestCachedJourneys(t *testing.T) {
	var hits atomic.Int32
	c, tc := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(journeysFixture))
	}), Options{})

	from, to := model.Place{ID: "900100003"}, model.Place{ID: "900003201"}
	if _, ok := c.CachedJourneys(from, to); ok {
		t.Fatal("nothing cached yet")
	}
	if _, err := c.Journeys(context.Background(), from, to, model.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	got, ok := c.CachedJourneys(from, to)
	if !ok || len(got) != 1 || got[0].LineName != "S5" {
		t.Fatalf("expected cached plan, got %+v %v", got, ok)
	}
	if _, ok := c.CachedJourneys(model.Place{Name: "Home"}, to); ok {
		t.Error("unresolved place must not hit the cache")
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("cache lookup went upstream, hits=%d", n)
	}
	if st := tc.Stats(); st.CacheHits != 1 {
		t.Errorf("expected one counted cache hit, got %d", st.CacheHits)
	}
}

func TestLocations_PlaceCache(t *testing.T) {
	var hits atomic.Int32
	c, tc := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("poi") != "false" || r.URL.Query().Get("addresses") != "false" {
			t.Errorf("unexpected query %v", r.URL.Query())
		}
		_, _ = w.Write([]byte(`[{"type":"stop","id":"900003201","name":"Hauptbahnhof","location":{"latitude":52.52,"longitude":13.37}}]`))
	}), Options{PlaceCacheSize: 16, PlaceCacheTTL: time.Hour})

	for i := 0; i < 2; i++ {
		got, err := c.Locations(context.Background(), "Hauptbahnhof", 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != "900003201" || !got[0].HasCoordinates() {
			t.Fatalf("unexpected places %+v", got)
		}
		tc.Cache().Clear()
	}
	if hits.Load() != 1 {
		t.Errorf("expected LRU to absorb the second search, hits=%d", hits.Load())
	}
}

func TestResolvePlace(t *testing.T) {
	c, _ := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "Atlantis" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"type":"stop","id":"8000105","name":"Frankfurt (Main) Hbf"}]`))
	}), Options{})

	tests := []struct {
		name    string
		in      model.Place
		wantID  string
		wantErr bool
	}{
		{"already has id", model.Place{ID: "42", Name: "X"}, "42", false},
		{"name only", model.Place{Name: "Frankfurt Hbf"}, "8000105", false},
		{"no match", model.Place{Name: "Atlantis"}, "", true},
		{"nothing at all", model.Place{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ResolvePlace(context.Background(), tt.in)
			if tt.wantErr {
				if !errors.Is(err, transport.ErrInvalidRequest) {
					t.Errorf("expected invalid request, got %v", err)
				}
				return
			}
			if err != nil || got.ID != tt.wantID {
				t.Errorf("got %+v, %v", got, err)
			}
		})
	}
}

func TestNearby_OutOfRange(t *testing.T) {
	c, _ := newAPI(t, http.NotFoundHandler(), Options{})
	if _, err := c.Nearby(context.Background(), 95, 0, 500, 5); !errors.Is(err, transport.ErrInvalidRequest) {
		t.Errorf("expected invalid request, got %v", err)
	}
}
