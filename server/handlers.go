package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/orchestrator"
	"github.com/theoremus-urban-solutions/departures/routestore"
	"github.com/theoremus-urban-solutions/departures/scheduler"
	"github.com/theoremus-urban-solutions/departures/transport"
)

type handlers struct {
	engine  Engine
	log     *slog.Logger
	started time.Time
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CacheEntries  int     `json:"cache_entries"`
	CacheHitRate  float64 `json:"cache_hit_rate"`
	Alerts        int     `json:"alerts"`
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfterSeconds,omitempty"`
}

type journeysResponse struct {
	Route       model.Route           `json:"route"`
	Journeys    []model.JourneyOption `json:"journeys"`
	LastRefresh time.Time             `json:"lastRefresh,omitzero"`
	NextRefresh time.Time             `json:"nextRefresh,omitzero"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Stats()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		CacheEntries:  st.Cache.Entries,
		CacheHitRate:  st.Cache.HitRate,
		Alerts:        st.Alerts,
	})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *handlers) routes(w http.ResponseWriter, r *http.Request) {
	rs, err := h.engine.Routes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *handlers) journeys(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	route, err := h.engine.Route(ctx, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	js, err := h.engine.FetchJourneyOptions(ctx, route)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := journeysResponse{Route: route, Journeys: js, NextRefresh: h.engine.NextRefresh(route)}
	if st, ok := h.engine.State(route.ID); ok {
		resp.LastRefresh = st.LastRefresh
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) best(w http.ResponseWriter, r *http.Request) {
	j, ok, err := h.engine.Best(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handlers) used(w http.ResponseWriter, r *http.Request) {
	route, err := h.engine.MarkRouteUsed(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (h *handlers) memoryPressure(w http.ResponseWriter, r *http.Request) {
	h.engine.OnMemoryPressure()
	w.WriteHeader(http.StatusNoContent)
}

// runBackground accepts deadline as RFC3339 or as seconds from now. Without
// one the run is bounded only by the request.
func (h *handlers) runBackground(w http.ResponseWriter, r *http.Request) {
	deadline, err := parseDeadline(r.URL.Query().Get("deadline"), time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	// Runs to the deadline even if the client disconnects.
	ctx := context.WithoutCancel(r.Context())
	writeJSON(w, http.StatusOK, h.engine.RunDueRefreshes(ctx, deadline))
}

func (h *handlers) device(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPut {
		var s scheduler.DeviceState
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid device state: " + err.Error()})
			return
		}
		if s.BatteryLevel > 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "batteryLevel must be at most 1"})
			return
		}
		h.engine.SetDeviceState(s)
	}
	writeJSON(w, http.StatusOK, h.engine.DeviceState())
}

func parseDeadline(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return time.Time{}, errors.New("deadline must be positive")
		}
		return now.Add(time.Duration(secs) * time.Second), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, errors.New("deadline must be RFC3339 or seconds")
	}
	return t, nil
}

// fail maps the error taxonomy onto HTTP statuses.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	resp := errorResponse{Error: err.Error()}
	var rl *transport.RateLimitedError
	switch {
	case errors.Is(err, routestore.ErrRouteNotFound):
		status = http.StatusNotFound
	case errors.Is(err, transport.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotRefreshable):
		status = http.StatusConflict
	case errors.As(err, &rl):
		status = http.StatusTooManyRequests
		if rl.RetryAfter > 0 {
			resp.RetryAfter = int(math.Ceil(rl.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfter))
		}
	case errors.Is(err, transport.ErrTooManyRetries):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= 500 {
		h.log.Warn("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
