package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/orchestrator"
	"github.com/theoremus-urban-solutions/departures/routestore"
	"github.com/theoremus-urban-solutions/departures/scheduler"
)

// Fetcher is the orchestrator surface a run needs.
type Fetcher interface {
	Fetch(ctx context.Context, route model.Route, current *model.JourneyOption, p model.Priority) ([]model.JourneyOption, error)
	State(routeID string) (orchestrator.RouteState, bool)
}

// Report describes one run.
type Report struct {
	RunID       string        `json:"runId"`
	Completed   bool          `json:"completed"`
	Due         int           `json:"due"`
	Refreshed   int           `json:"refreshed"`
	Failed      int           `json:"failed"`
	NextTrigger time.Time     `json:"nextTrigger,omitzero"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Reporter receives each run's report exactly once.
type Reporter func(Report)

// Options configures a Coordinator.
type Options struct {
	Routes    routestore.Repository
	Scheduler *scheduler.Scheduler
	Fetcher   Fetcher
	Trigger   Trigger
	Reporter  Reporter
	// SoftMargin is subtracted from the host deadline.
	SoftMargin  time.Duration
	Concurrency int
	Priority    model.Priority
	Now         func() time.Time
	Logger      *slog.Logger
}

// Coordinator is safe for concurrent use, though hosts normally run one
// invocation at a time.
type Coordinator struct {
	opts Options
	log  *slog.Logger
}

func New(opts Options) *Coordinator {
	if opts.Trigger == nil {
		opts.Trigger = NoopTrigger{}
	}
	if opts.Reporter == nil {
		opts.Reporter = func(Report) {}
	}
	if opts.SoftMargin <= 0 {
		opts.SoftMargin = 5 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{opts: opts, log: log.With("component", "background")}
}

// DueRoutes returns the routes the scheduler wants refreshed now and the
// earliest time any auto-refreshed route becomes due afterwards, assuming the
// due ones are refreshed now.
func (c *Coordinator) DueRoutes(ctx context.Context) ([]model.Route, time.Time, error) {
	routes, err := c.opts.Routes.List(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("list routes: %w", err)
	}
	now := c.opts.Now()
	var due []model.Route
	var earliest time.Time
	for _, r := range routes {
		if !scheduler.AutoRefresh(r) {
			continue
		}
		st, _ := c.opts.Fetcher.State(r.ID)
		next := c.opts.Scheduler.NextRefresh(r, st.LastRefresh, st.NextDeparture)
		if c.opts.Scheduler.ShouldRefreshNow(r, st.LastRefresh, st.NextDeparture) {
			due = append(due, r)
			next = now.Add(c.opts.Scheduler.Interval(r, st.NextDeparture))
		}
		if earliest.IsZero() || next.Before(earliest) {
			earliest = next
		}
	}
	return due, earliest, nil
}

// Run refreshes due routes until done, ctx ends or deadline minus the soft
// margin passes. A zero deadline means no deadline.
func (c *Coordinator) Run(ctx context.Context, deadline time.Time) Report {
	start := c.opts.Now()
	rep := Report{RunID: uuid.NewString()}
	log := c.log.With("run_id", rep.RunID)
	defer func() {
		rep.Duration = c.opts.Now().Sub(start)
		log.Info("background run finished", "completed", rep.Completed, "due", rep.Due,
			"refreshed", rep.Refreshed, "failed", rep.Failed, "duration", rep.Duration)
		c.opts.Reporter(rep)
	}()

	due, next, err := c.DueRoutes(ctx)
	if err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Due = len(due)
	if !next.IsZero() {
		rep.NextTrigger = next
		if err := c.opts.Trigger.Register(next); err != nil {
			log.Warn("register next trigger failed", "err", err)
		}
	}

	runCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, deadline.Add(-c.opts.SoftMargin))
		defer cancel()
	}

	var refreshed, failed atomic.Int32
	eg, egCtx := errgroup.WithContext(runCtx)
	eg.SetLimit(c.opts.Concurrency)
	for _, r := range due {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			if _, err := c.opts.Fetcher.Fetch(egCtx, r, nil, c.opts.Priority); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return nil
				}
				failed.Add(1)
				log.Warn("background refresh failed", "route", r.ID, "err", err)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	_ = eg.Wait()

	rep.Refreshed = int(refreshed.Load())
	rep.Failed = int(failed.Load())
	if err := runCtx.Err(); err != nil {
		rep.Error = err.Error()
		return rep
	}
	rep.Completed = true
	return rep
}
