package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/theoremus-urban-solutions/departures/background"
	"github.com/theoremus-urban-solutions/departures/engine"
	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/orchestrator"
	"github.com/theoremus-urban-solutions/departures/routestore"
	"github.com/theoremus-urban-solutions/departures/scheduler"
	"github.com/theoremus-urban-solutions/departures/transport"
)

type fakeEngine struct {
	routes   *routestore.MemoryStore
	fetchErr error
	journeys []model.JourneyOption
	pressure int
	deadline time.Time
	device   scheduler.DeviceState
}

func (f *fakeEngine) Route(ctx context.Context, id string) (model.Route, error) {
	return f.routes.Get(ctx, id)
}

func (f *fakeEngine) Routes(ctx context.Context) ([]model.Route, error) { return f.routes.List(ctx) }

func (f *fakeEngine) FetchJourneyOptions(context.Context, model.Route) ([]model.JourneyOption, error) {
	return f.journeys, f.fetchErr
}

func (f *fakeEngine) Best(ctx context.Context, id string) (model.JourneyOption, bool, error) {
	if _, err := f.routes.Get(ctx, id); err != nil {
		return model.JourneyOption{}, false, err
	}
	if len(f.journeys) == 0 {
		return model.JourneyOption{}, false, f.fetchErr
	}
	return f.journeys[0], true, nil
}

func (f *fakeEngine) State(string) (orchestrator.RouteState, bool) {
	return orchestrator.RouteState{}, false
}

func (f *fakeEngine) NextRefresh(model.Route) time.Time { return time.Time{} }

func (f *fakeEngine) MarkRouteUsed(ctx context.Context, id string) (model.Route, error) {
	return f.routes.IncrementUsage(ctx, id, time.Now())
}

func (f *fakeEngine) OnMemoryPressure() { f.pressure++ }

func (f *fakeEngine) RunDueRefreshes(_ context.Context, deadline time.Time) background.Report {
	f.deadline = deadline
	return background.Report{RunID: "run-1", Completed: true, Due: 1, Refreshed: 1}
}

func (f *fakeEngine) SetDeviceState(s scheduler.DeviceState) { f.device = s }
func (f *fakeEngine) DeviceState() scheduler.DeviceState     { return f.device }

func (f *fakeEngine) Stats() engine.Stats { return engine.Stats{Alerts: 3} }

func newFake() *fakeEngine {
	return &fakeEngine{
		routes: routestore.NewMemoryStore(model.Route{
			ID:          "commute",
			Origin:      model.Place{ID: "a"},
			Destination: model.Place{ID: "b"},
		}),
		journeys: []model.JourneyOption{{LineName: "S5", Departure: time.Date(2026, 1, 12, 8, 10, 0, 0, time.UTC)}},
	}
}

func do(t *testing.T, h http.Handler, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Endpoints(t *testing.T) {
	f := newFake()
	h := NewRouter(f, nil, nil)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		want   string
	}{
		{"health", http.MethodGet, "/api/health", "", http.StatusOK, `"status":"ok"`},
		{"stats", http.MethodGet, "/api/cache/stats", "", http.StatusOK, `"alerts":3`},
		{"routes", http.MethodGet, "/api/routes", "", http.StatusOK, `"id":"commute"`},
		{"journeys", http.MethodGet, "/api/routes/commute/journeys", "", http.StatusOK, `"lineName":"S5"`},
		{"unknown route", http.MethodGet, "/api/routes/nope/journeys", "", http.StatusNotFound, "route not found"},
		{"best", http.MethodGet, "/api/routes/commute/best", "", http.StatusOK, `"lineName":"S5"`},
		{"used", http.MethodPost, "/api/routes/commute/used", "", http.StatusOK, `"usageCount":1`},
		{"used wrong method", http.MethodGet, "/api/routes/commute/used", "", http.StatusMethodNotAllowed, ""},
		{"memory pressure", http.MethodPost, "/api/memory-pressure", "", http.StatusNoContent, ""},
		{"background", http.MethodPost, "/api/background/run?deadline=25", "", http.StatusOK, `"runId":"run-1"`},
		{"background bad deadline", http.MethodPost, "/api/background/run?deadline=soon", "", http.StatusBadRequest, "RFC3339"},
		{"device put", http.MethodPut, "/api/device", `{"batteryLevel":0.1,"charging":false,"network":"cellular"}`, http.StatusOK, `"network":"cellular"`},
		{"device invalid", http.MethodPut, "/api/device", `{"batteryLevel":3}`, http.StatusBadRequest, "batteryLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.want != "" && !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("expected body to contain %q, got %s", tt.want, rec.Body.String())
			}
		})
	}
	if f.pressure != 1 {
		t.Errorf("expected one memory pressure call, got %d", f.pressure)
	}
	if f.device.Network != scheduler.NetworkCellular || f.device.BatteryLevel != 0.1 {
		t.Errorf("unexpected device state %+v", f.device)
	}
	t.Logf("✓ %d endpoints answered", len(tests))
}

func TestRouter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		retryAfter string
	}{
		{"invalid request", fmt.Errorf("%w: origin", transport.ErrInvalidRequest), http.StatusBadRequest, ""},
		{"rate limited", &transport.RateLimitedError{StatusCode: 429, RetryAfter: 1500 * time.Millisecond}, http.StatusTooManyRequests, "2"},
		{"exhausted", &transport.TooManyRetriesError{Attempts: 4, Last: &transport.StatusError{StatusCode: 500}}, http.StatusServiceUnavailable, ""},
		{"decode", &transport.DecodeError{Key: "journeys:a→b", Err: fmt.Errorf("bad json")}, http.StatusBadGateway, ""},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			f.journeys = nil
			f.fetchErr = tt.err
			rec := do(t, NewRouter(f, nil, nil), http.MethodGet, "/api/routes/commute/journeys", "")
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("expected Retry-After %q, got %q", tt.retryAfter, got)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Error == "" {
				t.Errorf("expected error body, got %v", err)
			}
		})
	}
}

func TestRouter_BestWithoutCandidates(t *testing.T) {
	f := newFake()
	f.journeys = nil
	rec := do(t, NewRouter(f, nil, nil), http.MethodGet, "/api/routes/commute/best", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestRouter_CORS(t *testing.T) {
	h := NewRouter(newFake(), []string{"https://app.example"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("expected allowed origin header, got %q", got)
	}
}

func TestParseDeadline(t *testing.T) {
	now := time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"30", now.Add(30 * time.Second), false},
		{"2026-01-12T08:05:00Z", now.Add(5 * time.Minute), false},
		{"0", time.Time{}, true},
		{"tomorrow", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDeadline(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
