package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/theoremus-urban-solutions/departures/config"
	"github.com/theoremus-urban-solutions/departures/engine"
)

// waker plays the host's background scheduler in serve mode: the engine
// registers its next wake-up time and the loop sleeps until then, or at most
// one background interval.
type waker struct {
	mu   sync.Mutex
	next time.Time
	kick chan struct{}
}

func newWaker() *waker { return &waker{kick: make(chan struct{}, 1)} }

func (w *waker) schedule(at time.Time) error {
	w.mu.Lock()
	w.next = at
	w.mu.Unlock()
	select {
	case w.kick <- struct{}{}:
	default:
	}
	return nil
}

func (w *waker) wait(now time.Time, limit time.Duration) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.next.IsZero() {
		return limit
	}
	d := w.next.Sub(now)
	if d < 0 {
		d = 0
	}
	return min(d, limit)
}

func backgroundLoop(ctx context.Context, e *engine.Engine, cfg *config.AppConfig, w *waker, logger *slog.Logger) {
	interval := config.Seconds(cfg.Background.IntervalSec)
	timeout := config.Seconds(cfg.Background.RunTimeoutSec)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.wait(time.Now(), interval))
			continue
		case <-timer.C:
		}
		rep := e.RunDueRefreshes(ctx, time.Now().Add(timeout))
		if rep.Error != "" {
			logger.Warn("background run incomplete", "run_id", rep.RunID, "err", rep.Error)
		}
		timer.Reset(w.wait(time.Now(), interval))
	}
}
