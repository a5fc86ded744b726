package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/departures/batcher"
	"github.com/theoremus-urban-solutions/departures/coalesce"
	"github.com/theoremus-urban-solutions/departures/gtfsrt"
	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/selector"
)

// API is the subset of journeyapi.Client the orchestrator calls.
type API interface {
	Journeys(ctx context.Context, from, to model.Place, p model.Priority) ([]model.JourneyOption, error)
	CachedJourneys(from, to model.Place) ([]model.JourneyOption, bool)
	RefreshJourney(ctx context.Context, token string, p model.Priority) (model.JourneyOption, error)
	ResolvePlace(ctx context.Context, p model.Place) (model.Place, error)
}

// ErrNotRefreshable is returned by Refresh for a journey without a token or
// one that departed too long ago.
var ErrNotRefreshable = errors.New("journey is not refreshable")

// Options configures an Orchestrator.
type Options struct {
	Selector *selector.Selector
	// Alerts is optional.
	Alerts  *gtfsrt.Feed
	Batcher batcher.Options
	// RefreshHorizon is how long after departure a token is still tried.
	RefreshHorizon time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// RouteState is the last outcome for a route.
type RouteState struct {
	LastRefresh   time.Time             `json:"lastRefresh"`
	NextDeparture *time.Time            `json:"nextDeparture,omitempty"`
	Journeys      []model.JourneyOption `json:"journeys"`
	LastError     string                `json:"lastError,omitempty"`
	Refreshed     bool                  `json:"refreshed"`
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	api      API
	selector *selector.Selector
	alerts   *gtfsrt.Feed
	batcher  *batcher.Batcher
	plans    coalesce.Group[[]model.JourneyOption]
	horizon  time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu     sync.RWMutex
	states map[string]RouteState
}

func New(api API, opts Options) *Orchestrator {
	o := &Orchestrator{
		api:      api,
		selector: opts.Selector,
		alerts:   opts.Alerts,
		horizon:  opts.RefreshHorizon,
		now:      opts.Now,
		log:      opts.Logger,
		states:   map[string]RouteState{},
	}
	if o.selector == nil {
		o.selector = selector.New(selector.Options{})
	}
	if o.horizon <= 0 {
		o.horizon = time.Hour
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	o.log = o.log.With("component", "orchestrator")

	bopts := opts.Batcher
	if bopts.Now == nil {
		bopts.Now = o.now
	}
	if bopts.Logger == nil {
		bopts.Logger = opts.Logger
	}
	o.batcher = batcher.New(o.planShared, bopts)
	return o
}

// Close stops the batcher.
func (o *Orchestrator) Close() { o.batcher.Close() }

// PriorityFor is the default fetch priority of a route.
func PriorityFor(r model.Route) model.Priority {
	if r.Favorite {
		return model.PriorityHigh
	}
	return model.PriorityNormal
}

// GetJourneyOptions returns the departure-ordered viable journeys for route
// at the route's default priority.
func (o *Orchestrator) GetJourneyOptions(ctx context.Context, route model.Route, current *model.JourneyOption) ([]model.JourneyOption, error) {
	return o.Fetch(ctx, route, current, PriorityFor(route))
}

// Fetch refreshes current when eligible and otherwise plans route. A failed
// refresh falls back to planning without surfacing the refresh error.
func (o *Orchestrator) Fetch(ctx context.Context, route model.Route, current *model.JourneyOption, p model.Priority) ([]model.JourneyOption, error) {
	if current != nil && o.refreshable(*current) {
		j, err := o.refresh(ctx, route, *current, p)
		if err == nil {
			return []model.JourneyOption{j}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.log.Info("refresh failed, re-planning", "route", route.ID, "err", err)
	}
	return o.enqueue(ctx, route, p)
}

// Refresh updates a single journey from its token without falling back.
func (o *Orchestrator) Refresh(ctx context.Context, route model.Route, previous model.JourneyOption) (model.JourneyOption, error) {
	if !o.refreshable(previous) {
		return model.JourneyOption{}, ErrNotRefreshable
	}
	return o.refresh(ctx, route, previous, PriorityFor(route))
}

// Best returns the single highest-scoring journey for route.
func (o *Orchestrator) Best(ctx context.Context, route model.Route) (model.JourneyOption, bool, error) {
	js, err := o.GetJourneyOptions(ctx, route, nil)
	if err != nil {
		return model.JourneyOption{}, false, err
	}
	best, ok := o.selector.Best(js, o.now())
	return best, ok, nil
}

// State returns the last outcome for a route id.
func (o *Orchestrator) State(routeID string) (RouteState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.states[routeID]
	return s, ok
}

func (o *Orchestrator) refreshable(j model.JourneyOption) bool {
	return j.RefreshToken != "" && o.now().Sub(j.Departure) <= o.horizon
}

func (o *Orchestrator) refresh(ctx context.Context, route model.Route, prev model.JourneyOption, p model.Priority) (model.JourneyOption, error) {
	j, err := o.api.RefreshJourney(ctx, prev.RefreshToken, p)
	if err != nil {
		return model.JourneyOption{}, err
	}
	j = o.alertIndex(ctx).Annotate(j, route.Origin.ID)
	o.record(route.ID, []model.JourneyOption{j}, nil, true)
	return j, nil
}

// enqueue serves a fresh cached plan directly and otherwise waits for the
// batched plan. A coalesced resubmission joins the plan already running or
// starts one.
func (o *Orchestrator) enqueue(ctx context.Context, route model.Route, p model.Priority) ([]model.JourneyOption, error) {
	if js, ok := o.cached(route); ok {
		return js, nil
	}
	js, err := o.batcher.Enqueue(route, p).Wait(ctx)
	if errors.Is(err, batcher.ErrCoalesced) {
		return o.planShared(ctx, route, p)
	}
	return js, err
}

// cached only covers routes whose places need no lookup.
func (o *Orchestrator) cached(route model.Route) ([]model.JourneyOption, bool) {
	raw, ok := o.api.CachedJourneys(route.Origin, route.Destination)
	if !ok {
		return nil, false
	}
	ix := o.alerts.Index()
	for i := range raw {
		raw[i] = ix.Annotate(raw[i], route.Origin.ID)
	}
	viable := o.selector.FilterViable(raw, o.now())
	o.record(route.ID, viable, nil, false)
	o.log.Debug("served from cache", "route", route.ID, "viable", len(viable))
	return viable, true
}

func (o *Orchestrator) planShared(ctx context.Context, route model.Route, p model.Priority) ([]model.JourneyOption, error) {
	js, _, err := o.plans.Do(ctx, route.ID, func(ctx context.Context) ([]model.JourneyOption, error) {
		return o.plan(ctx, route, p)
	})
	return js, err
}

func (o *Orchestrator) plan(ctx context.Context, route model.Route, p model.Priority) ([]model.JourneyOption, error) {
	js, err := o.planRoute(ctx, route, p)
	o.record(route.ID, js, err, false)
	return js, err
}

func (o *Orchestrator) planRoute(ctx context.Context, route model.Route, p model.Priority) ([]model.JourneyOption, error) {
	from, err := o.api.ResolvePlace(ctx, route.Origin)
	if err != nil {
		return nil, err
	}
	to, err := o.api.ResolvePlace(ctx, route.Destination)
	if err != nil {
		return nil, err
	}
	raw, err := o.api.Journeys(ctx, from, to, p)
	if err != nil {
		return nil, err
	}
	ix := o.alertIndex(ctx)
	for i := range raw {
		raw[i] = ix.Annotate(raw[i], from.ID)
	}
	viable := o.selector.FilterViable(raw, o.now())
	o.log.Debug("planned", "route", route.ID, "candidates", len(raw), "viable", len(viable))
	return viable, nil
}

// alertIndex may return nil; a nil index annotates nothing.
func (o *Orchestrator) alertIndex(ctx context.Context) *gtfsrt.AlertIndex {
	if !o.alerts.Enabled() {
		return nil
	}
	ix, err := o.alerts.Refresh(ctx)
	if err != nil {
		o.log.Warn("service alerts unavailable", "err", err)
	}
	return ix
}

func (o *Orchestrator) record(routeID string, js []model.JourneyOption, err error, refreshed bool) {
	now := o.now()
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.states[routeID]
	if err != nil {
		s.LastError = err.Error()
		o.states[routeID] = s
		return
	}
	s = RouteState{LastRefresh: now, Journeys: js, Refreshed: refreshed}
	for _, j := range js {
		if !j.Departure.Before(now) {
			d := j.Departure
			s.NextDeparture = &d
			break
		}
	}
	o.states[routeID] = s
}
