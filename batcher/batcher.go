package batcher

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/theoremus-urban-solutions/departures/model"
)

var (
	// ErrCoalesced resolves a resubmission that did not raise the pending
	// entry's priority. The original request is still pending.
	ErrCoalesced = errors.New("request coalesced into pending entry")
	// ErrExpired resolves requests that waited longer than MaxAge.
	ErrExpired = errors.New("batched request expired")
	// ErrClosed resolves requests pending when the batcher is closed.
	ErrClosed = errors.New("batcher closed")
)

// FetchFunc performs one route's fetch.
type FetchFunc func(ctx context.Context, route model.Route, p model.Priority) ([]model.JourneyOption, error)

// Options configures a Batcher. Zero values select defaults.
type Options struct {
	Window     time.Duration
	MaxPending int
	MaxAge     time.Duration
	// GroupRadiusKM is the proximity under which routes share a group.
	GroupRadiusKM float64
	// Concurrency bounds the fetches running per batch. Zero is unbounded.
	Concurrency int
	Now         func() time.Time
	Logger      *slog.Logger
}

type request struct {
	route    model.Route
	priority model.Priority
	enqueued time.Time
	futures  []*Future

	// ctx is cancelled once every future has been abandoned.
	ctx     context.Context
	cancel  context.CancelFunc
	waiting int
}

// Batcher is safe for concurrent use.
type Batcher struct {
	fetch FetchFunc
	opts  Options
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending []*request
	byRoute map[string]*request
	timer   *time.Timer
	gen     uint64
	closed  bool
}

// New returns a batcher dispatching to fetch.
func New(fetch FetchFunc, opts Options) *Batcher {
	if opts.Window <= 0 {
		opts.Window = 500 * time.Millisecond
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * time.Second
	}
	if opts.GroupRadiusKM <= 0 {
		opts.GroupRadiusKM = 1.0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher{
		fetch:   fetch,
		opts:    opts,
		log:     log.With("component", "batcher"),
		ctx:     ctx,
		cancel:  cancel,
		byRoute: map[string]*request{},
	}
}

// Enqueue adds a fetch for route. The returned future resolves with the
// route's journeys, ErrCoalesced, ErrExpired, ErrClosed or the fetch error.
func (b *Batcher) Enqueue(route model.Route, p model.Priority) *Future {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return resolved(ErrClosed)
	}

	f := newFuture()
	if cur, ok := b.byRoute[route.ID]; ok {
		if p <= cur.priority {
			b.log.Debug("coalesced", "route", route.ID, "pending_priority", cur.priority.String(), "priority", p.String())
			f.resolve(nil, ErrCoalesced)
			return f
		}
		cur.route = route
		cur.priority = p
		cur.enqueued = b.opts.Now()
		cur.futures = append(cur.futures, f)
		cur.waiting++
		f.release = func() { b.release(cur) }
		b.log.Debug("raised pending priority", "route", route.ID, "priority", p.String())
	} else {
		ctx, cancel := context.WithCancel(b.ctx)
		r := &request{route: route, priority: p, enqueued: b.opts.Now(), futures: []*Future{f}, ctx: ctx, cancel: cancel, waiting: 1}
		f.release = func() { b.release(r) }
		b.pending = append(b.pending, r)
		b.byRoute[route.ID] = r
	}

	if p == model.PriorityCritical || len(b.pending) >= b.opts.MaxPending {
		b.flushLocked()
		return f
	}
	b.armLocked()
	return f
}

// Flush dispatches everything pending now.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Pending is the number of routes waiting for a flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close resolves pending requests with ErrClosed, cancels running fetches
// and waits for them to return.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.stopTimerLocked()
	pending := b.takeLocked()
	b.mu.Unlock()

	for _, r := range pending {
		r.cancel()
		for _, f := range r.futures {
			f.resolve(nil, ErrClosed)
		}
	}
	b.cancel()
	b.wg.Wait()
}

// release drops one waiter from r. The last one cancels r's fetch, or
// withdraws r if it has not been dispatched yet.
func (b *Batcher) release(r *request) {
	b.mu.Lock()
	r.waiting--
	if r.waiting > 0 {
		b.mu.Unlock()
		return
	}
	withdrawn := b.byRoute[r.route.ID] == r
	if withdrawn {
		delete(b.byRoute, r.route.ID)
		b.pending = slices.DeleteFunc(b.pending, func(p *request) bool { return p == r })
	}
	b.mu.Unlock()

	r.cancel()
	if withdrawn {
		b.log.Debug("pending request abandoned", "route", r.route.ID)
		for _, f := range r.futures {
			f.resolve(nil, context.Canceled)
		}
	}
}

func (b *Batcher) armLocked() {
	b.stopTimerLocked()
	gen := b.gen
	b.timer = time.AfterFunc(b.opts.Window, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gen != gen || b.closed {
			return
		}
		b.flushLocked()
	})
}

func (b *Batcher) stopTimerLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Batcher) takeLocked() []*request {
	batch := b.pending
	b.pending = nil
	b.byRoute = map[string]*request{}
	return batch
}

func (b *Batcher) flushLocked() {
	b.stopTimerLocked()
	batch := b.takeLocked()
	if len(batch) == 0 {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.dispatch(batch)
	}()
}

func (b *Batcher) dispatch(batch []*request) {
	batchID := uuid.NewString()
	log := b.log.With("batch_id", batchID)
	now := b.opts.Now()

	live := batch[:0:0]
	for _, r := range batch {
		if now.Sub(r.enqueued) > b.opts.MaxAge {
			r.cancel()
			for _, f := range r.futures {
				f.resolve(nil, ErrExpired)
			}
			continue
		}
		live = append(live, r)
	}
	if expired := len(batch) - len(live); expired > 0 {
		log.Warn("expired requests dropped", "expired", expired)
	}

	sort.SliceStable(live, func(i, j int) bool { return live[i].priority > live[j].priority })
	groups := group(live, b.opts.GroupRadiusKM)
	log.Info("flushing batch", "requests", len(live), "groups", len(groups))
	for i, g := range groups {
		log.Debug("route group", "group", i, "lead", g[0].route.ID, "routes", len(g))
	}

	// Groups share one bound so a slow route never holds back another group.
	// Requests start in priority order.
	var eg errgroup.Group
	if b.opts.Concurrency > 0 {
		eg.SetLimit(b.opts.Concurrency)
	}
	for _, r := range live {
		eg.Go(func() error {
			defer r.cancel()
			js, err := b.fetch(r.ctx, r.route, r.priority)
			if err != nil {
				log.Warn("route fetch failed", "route", r.route.ID, "err", err)
			}
			for _, f := range r.futures {
				f.resolve(js, err)
			}
			return nil
		})
	}
	_ = eg.Wait()
}
