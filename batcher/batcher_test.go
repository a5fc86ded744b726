package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/theoremus-urban-solutions/departures/model"
)

type recorder struct {
	mu    sync.Mutex
	calls []model.Priority
	n     atomic.Int32
}

func (r *recorder) fetch(_ context.Context, route model.Route, p model.Priority) ([]model.JourneyOption, error) {
	r.n.Add(1)
	r.mu.Lock()
	r.calls = append(r.calls, p)
	r.mu.Unlock()
	if route.ID == "broken" {
		return nil, errors.New("upstream down")
	}
	return []model.JourneyOption{{LineName: route.ID}}, nil
}

func route(id string, lat, lon float64) model.Route {
	return model.Route{
		ID:          id,
		Origin:      model.NewCoordinatePlace(id+"-from", lat, lon),
		Destination: model.NewCoordinatePlace(id+"-to", lat+0.1, lon+0.1),
	}
}

func waitShort(t *testing.T, f *Future) ([]model.JourneyOption, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

func TestBatcher_WindowFlush(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: 100 * time.Millisecond})
	defer b.Close()

	start := time.Now()
	f := b.Enqueue(route("r1", 52.5, 13.4), model.PriorityNormal)
	select {
	case <-f.Done():
		t.Fatal("resolved before the window elapsed")
	case <-time.After(20 * time.Millisecond):
	}
	js, err := waitShort(t, f)
	if err != nil || len(js) != 1 || js[0].LineName != "r1" {
		t.Fatalf("unexpected result %+v, %v", js, err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("flushed after %s, before the window", elapsed)
	}
	t.Logf("✓ window flush after %s", time.Since(start))
}

func TestBatcher_CriticalFlushesImmediately(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour})
	defer b.Close()

	normal := b.Enqueue(route("r1", 52.5, 13.4), model.PriorityNormal)
	critical := b.Enqueue(route("r2", 48.1, 11.6), model.PriorityCritical)
	for _, f := range []*Future{normal, critical} {
		if _, err := waitShort(t, f); err != nil {
			t.Fatalf("expected immediate flush, got %v", err)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d after flush", b.Pending())
	}
}

func TestBatcher_SizeThreshold(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour, MaxPending: 10})
	defer b.Close()

	var futures []*Future
	for i := 0; i < 9; i++ {
		futures = append(futures, b.Enqueue(route(fmt.Sprintf("r%d", i), 40+float64(i), 10), model.PriorityLow))
	}
	time.Sleep(20 * time.Millisecond)
	if rec.n.Load() != 0 || b.Pending() != 9 {
		t.Fatalf("flushed early: calls=%d pending=%d", rec.n.Load(), b.Pending())
	}
	futures = append(futures, b.Enqueue(route("r9", 49, 10), model.PriorityLow))
	for _, f := range futures {
		if _, err := waitShort(t, f); err != nil {
			t.Fatal(err)
		}
	}
	if rec.n.Load() != 10 {
		t.Errorf("expected 10 fetches, got %d", rec.n.Load())
	}
}

func TestBatcher_Resubmission(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour})
	defer b.Close()

	r := route("r1", 52.5, 13.4)
	first := b.Enqueue(r, model.PriorityNormal)
	lower := b.Enqueue(r, model.PriorityLow)
	same := b.Enqueue(r, model.PriorityNormal)

	for name, f := range map[string]*Future{"lower": lower, "same": same} {
		select {
		case <-f.Done():
		default:
			t.Fatalf("%s resubmission should resolve immediately", name)
		}
		if _, err := f.Wait(context.Background()); !errors.Is(err, ErrCoalesced) {
			t.Errorf("%s: expected ErrCoalesced, got %v", name, err)
		}
	}

	higher := b.Enqueue(r, model.PriorityHigh)
	if b.Pending() != 1 {
		t.Fatalf("expected a single pending entry, got %d", b.Pending())
	}
	b.Flush()
	for _, f := range []*Future{first, higher} {
		if js, err := waitShort(t, f); err != nil || len(js) != 1 {
			t.Fatalf("unexpected result %+v, %v", js, err)
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.calls) != 1 || rec.calls[0] != model.PriorityHigh {
		t.Errorf("expected one fetch at high priority, got %v", rec.calls)
	}
}

func TestBatcher_ExpiredRequests(t *testing.T) {
	var mu sync.Mutex
	clock := time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour, Now: now})
	defer b.Close()

	f := b.Enqueue(route("r1", 52.5, 13.4), model.PriorityNormal)
	mu.Lock()
	clock = clock.Add(31 * time.Second)
	mu.Unlock()
	b.Flush()

	if _, err := waitShort(t, f); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if rec.n.Load() != 0 {
		t.Error("expired request should not be fetched")
	}
}

func TestBatcher_FetchErrorIsPerRequest(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour})
	defer b.Close()

	bad := b.Enqueue(route("broken", 52.5, 13.4), model.PriorityNormal)
	good := b.Enqueue(route("ok", 52.5, 13.4), model.PriorityNormal)
	b.Flush()
	if _, err := waitShort(t, bad); err == nil {
		t.Error("expected fetch error")
	}
	if _, err := waitShort(t, good); err != nil {
		t.Errorf("sibling request failed: %v", err)
	}
}

func TestBatcher_Close(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour})
	f := b.Enqueue(route("r1", 52.5, 13.4), model.PriorityNormal)
	b.Close()
	if _, err := waitShort(t, f); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := waitShort(t, b.Enqueue(route("r2", 1, 1), model.PriorityCritical)); !errors.Is(err, ErrClosed) {
		t.Errorf("enqueue after close: %v", err)
	}
}

func TestGroup(t *testing.T) {
	a := &request{route: route("a", 52.5200, 13.4050)}
	// ~500m north of a at both ends.
	b := &request{route: route("b", 52.5245, 13.4050)}
	// ~5km away.
	c := &request{route: route("c", 52.5650, 13.4050)}
	byID := &request{route: model.Route{ID: "d", Origin: model.Place{ID: "s1"}, Destination: model.Place{ID: "s2"}}}
	sameID := &request{route: model.Route{ID: "e", Origin: model.Place{ID: "s1"}, Destination: model.Place{ID: "s2"}}}

	groups := group([]*request{a, c, b, byID, sameID}, 1.0)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][1] != b {
		t.Errorf("a and b should share a group")
	}
	if len(groups[2]) != 2 {
		t.Errorf("places with equal ids should share a group")
	}
	if d := haversineKM(52.52, 13.405, 52.5245, 13.405); d < 0.45 || d > 0.55 {
		t.Errorf("haversine = %.3f km", d)
	}
}

func TestBatcher_SlowGroupDoesNotDelayOthers(t *testing.T) {
	release := make(chan struct{})
	fetch := func(ctx context.Context, r model.Route, _ model.Priority) ([]model.JourneyOption, error) {
		if r.ID == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return []model.JourneyOption{{LineName: r.ID}}, nil
	}
	b := New(fetch, Options{Window: 10 * time.Millisecond})
	defer b.Close()

	slow := b.Enqueue(route("slow", 52.52, 13.40), model.PriorityHigh)
	fast := b.Enqueue(route("fast", 48.14, 11.58), model.PriorityNormal)

	select {
	case <-fast.Done():
	case <-time.After(time.Second):
		t.Fatal("distant route waited for the blocked group")
	}
	select {
	case <-slow.Done():
		t.Fatal("blocked route resolved early")
	default:
	}
	close(release)
	if _, err := waitShort(t, slow); err != nil {
		t.Fatal(err)
	}
	t.Log("✓ groups fetched concurrently")
}

func TestBatcher_DispatchFollowsPriority(t *testing.T) {
	rec := &recorder{}
	b := New(rec.fetch, Options{Window: time.Hour, Concurrency: 1})
	defer b.Close()

	futures := []*Future{
		b.Enqueue(route("low", 40, 10), model.PriorityLow),
		b.Enqueue(route("normal", 45, 10), model.PriorityNormal),
		b.Enqueue(route("high", 50, 10), model.PriorityHigh),
	}
	b.Flush()
	for _, f := range futures {
		if _, err := waitShort(t, f); err != nil {
			t.Fatal(err)
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	want := []model.Priority{model.PriorityHigh, model.PriorityNormal, model.PriorityLow}
	if len(rec.calls) != len(want) {
		t.Fatalf("expected %d fetches, got %v", len(want), rec.calls)
	}
	for i := range want {
		if rec.calls[i] != want[i] {
			t.Errorf("fetch %d: expected %s, got %s", i, want[i], rec.calls[i])
		}
	}
	t.Logf("✓ dispatch order %v", rec.calls)
}

func TestBatcher_AbandonedWaiterCancelsFetch(t *testing.T) {
	tests := []struct {
		name    string
		window  time.Duration
		fetched bool
	}{
		{name: "running fetch is cancelled", window: 5 * time.Millisecond, fetched: true},
		{name: "pending request is withdrawn", window: time.Hour, fetched: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			cancelled := make(chan struct{})
			fetch := func(ctx context.Context, _ model.Route, _ model.Priority) ([]model.JourneyOption, error) {
				calls.Add(1)
				<-ctx.Done()
				close(cancelled)
				return nil, ctx.Err()
			}
			b := New(fetch, Options{Window: tt.window})
			defer b.Close()

			f := b.Enqueue(route("r1", 52.5, 13.4), model.PriorityNormal)
			if tt.fetched {
				deadline := time.Now().Add(2 * time.Second)
				for calls.Load() == 0 {
					if time.Now().After(deadline) {
						t.Fatal("fetch never started")
					}
					time.Sleep(time.Millisecond)
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected deadline error, got %v", err)
			}

			if tt.fetched {
				select {
				case <-cancelled:
				case <-time.After(time.Second):
					t.Fatal("fetch kept running after its only waiter left")
				}
				return
			}
			if n := b.Pending(); n != 0 {
				t.Errorf("abandoned request still pending: %d", n)
			}
			b.Flush()
			time.Sleep(20 * time.Millisecond)
			if n := calls.Load(); n != 0 {
				t.Errorf("withdrawn request was fetched %d times", n)
			}
		})
	}
	t.Log("✓ abandoned requests stop consuming upstream")
}
