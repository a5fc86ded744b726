package batcher

import (
	"context"
	"sync"

	"github.com/theoremus-urban-solutions/departures/model"
)

// Future is the pending result of an enqueued request.
type Future struct {
	done     chan struct{}
	journeys []model.JourneyOption
	err      error

	// release is called once when a waiter gives up.
	release func()
	once    sync.Once
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func resolved(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

// resolve must be called exactly once.
func (f *Future) resolve(js []model.JourneyOption, err error) {
	f.journeys, f.err = js, err
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx ends. When ctx ends and
// no other future shares the request, its fetch is cancelled.
func (f *Future) Wait(ctx context.Context) ([]model.JourneyOption, error) {
	select {
	case <-f.done:
		return f.journeys, f.err
	case <-ctx.Done():
		f.abandon()
		return nil, ctx.Err()
	}
}

func (f *Future) abandon() {
	if f.release != nil {
		f.once.Do(f.release)
	}
}
