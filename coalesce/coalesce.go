package coalesce

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group coalesces calls returning T.
type Group[T any] struct {
	flights singleflight.Group

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is the shared context of one in-flight call. It is cancelled once
// every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Do runs fn once per in-flight key. shared reports whether the result was
// delivered to more than one caller. fn runs with a context that outlives any
// single caller and is cancelled when the last caller stops waiting.
func (g *Group[T]) Do(ctx context.Context, key string, fn func(ctx context.Context) (T, error)) (v T, shared bool, err error) {
	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[string]*flight)
	}
	f, ok := g.inflight[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		g.inflight[key] = f
	}
	f.waiters++
	ch := g.flights.DoChan(key, func() (any, error) {
		defer g.finish(key, f)
		return fn(f.ctx)
	})
	g.mu.Unlock()
	defer g.leave(key, f)

	select {
	case res := <-ch:
		if res.Err != nil {
			return v, res.Shared, res.Err
		}
		return res.Val.(T), res.Shared, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// Waiting returns the number of callers currently inside Do for key.
func (g *Group[T]) Waiting(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.inflight[key]; ok {
		return f.waiters
	}
	return 0
}

func (g *Group[T]) finish(key string, f *flight) {
	g.mu.Lock()
	if g.inflight[key] == f {
		delete(g.inflight, key)
	}
	g.mu.Unlock()
	f.cancel()
}

func (g *Group[T]) leave(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f.waiters > 0 {
		f.waiters--
	}
	if f.waiters > 0 || g.inflight[key] != f {
		return
	}
	// Nobody is left to receive the result.
	delete(g.inflight, key)
	g.flights.Forget(key)
	f.cancel()
}
