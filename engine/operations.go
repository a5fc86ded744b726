package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/theoremus-urban-solutions/departures/background"
	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/orchestrator"
	"github.com/theoremus-urban-solutions/departures/scheduler"
)

// Route looks up a route in the repository.
func (e *Engine) Route(ctx context.Context, id string) (model.Route, error) {
	return e.routes.Get(ctx, id)
}

// Routes lists every route in the repository.
func (e *Engine) Routes(ctx context.Context) ([]model.Route, error) {
	return e.routes.List(ctx)
}

// FetchJourneyOptions returns the viable journeys for route sorted by
// departure.
func (e *Engine) FetchJourneyOptions(ctx context.Context, route model.Route) ([]model.JourneyOption, error) {
	return e.orch.GetJourneyOptions(ctx, route, nil)
}

// FetchRoute is FetchJourneyOptions by route id.
func (e *Engine) FetchRoute(ctx context.Context, id string) ([]model.JourneyOption, error) {
	r, err := e.routes.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.FetchJourneyOptions(ctx, r)
}

// Refresh updates previous from its refresh token, re-planning when the
// token can no longer be used. It returns false when nothing viable is left.
func (e *Engine) Refresh(ctx context.Context, route model.Route, previous model.JourneyOption) (model.JourneyOption, bool, error) {
	js, err := e.orch.GetJourneyOptions(ctx, route, &previous)
	if err != nil {
		return model.JourneyOption{}, false, err
	}
	if len(js) == 0 {
		return model.JourneyOption{}, false, nil
	}
	return js[0], true, nil
}

// Best returns the single highest-scoring journey for the route id.
func (e *Engine) Best(ctx context.Context, id string) (model.JourneyOption, bool, error) {
	r, err := e.routes.Get(ctx, id)
	if err != nil {
		return model.JourneyOption{}, false, err
	}
	return e.orch.Best(ctx, r)
}

// State returns the orchestrator's last outcome for a route.
func (e *Engine) State(id string) (orchestrator.RouteState, bool) {
	return e.orch.State(id)
}

// MarkRouteUsed increments the route's usage counter.
func (e *Engine) MarkRouteUsed(ctx context.Context, id string) (model.Route, error) {
	r, err := e.routes.IncrementUsage(ctx, id, e.now())
	if err != nil {
		return model.Route{}, fmt.Errorf("mark route %s used: %w", id, err)
	}
	return r, nil
}

// OnMemoryPressure clears every cached response.
func (e *Engine) OnMemoryPressure() {
	e.cache.OnMemoryPressure()
	e.log.Info("memory pressure handled", "entries", e.cache.Len())
}

// RegisterBackgroundTrigger asks the host to wake the engine no earlier than
// earliest. It is a no-op when the host cannot run background work.
func (e *Engine) RegisterBackgroundTrigger(earliest time.Time) error {
	return e.trigger.Register(earliest)
}

// NextBackgroundTrigger is the earliest time any auto-refreshed route is due.
func (e *Engine) NextBackgroundTrigger(ctx context.Context) (time.Time, error) {
	_, next, err := e.background.DueRoutes(ctx)
	return next, err
}

// RunDueRefreshes refreshes every due route before deadline and sweeps
// expired cache entries.
func (e *Engine) RunDueRefreshes(ctx context.Context, deadline time.Time) background.Report {
	rep := e.background.Run(ctx, deadline)
	if n := e.cache.DeleteExpired(); n > 0 {
		e.log.Debug("swept expired cache entries", "removed", n)
	}
	return rep
}

// SetDeviceState replaces the device conditions the scheduler adapts to.
func (e *Engine) SetDeviceState(s scheduler.DeviceState) { e.device.Set(s) }

// DeviceState returns the current device conditions.
func (e *Engine) DeviceState() scheduler.DeviceState { return e.device.DeviceState() }

// NextRefresh is when the scheduler next wants route refreshed.
func (e *Engine) NextRefresh(route model.Route) time.Time {
	st, _ := e.orch.State(route.ID)
	return e.scheduler.NextRefresh(route, st.LastRefresh, st.NextDeparture)
}

// Stats returns cache and transport counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Cache:     e.cache.Statistics(),
		Transport: e.transport.Stats(),
		Alerts:    e.alerts.Index().Len(),
	}
}
