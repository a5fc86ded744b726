package gtfsrt

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/transport"
)

// Feed keeps the latest AlertIndex of one ServiceAlerts URL.
type Feed struct {
	url       string
	transport *transport.Client
	log       *slog.Logger

	mu    sync.RWMutex
	index *AlertIndex
}

// NewFeed returns a feed for url. An empty url yields a feed that never
// fetches and annotates nothing.
func NewFeed(t *transport.Client, url string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{url: url, transport: t, log: logger.With("component", "gtfsrt")}
}

// Enabled reports whether a feed URL is configured.
func (f *Feed) Enabled() bool { return f != nil && f.url != "" }

// Refresh fetches the feed (served from cache while fresh) and swaps in the
// new index. On failure the previous index stays in place.
func (f *Feed) Refresh(ctx context.Context) (*AlertIndex, error) {
	if !f.Enabled() {
		return nil, nil
	}
	key := "alerts:" + f.url
	body, err := f.transport.Get(ctx, transport.Request{
		Key:      key,
		Priority: model.PriorityNormal,
		Build: func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Accept", "application/x-protobuf")
			return req, nil
		},
	})
	if err != nil {
		return f.Index(), err
	}
	ix, err := ParseAlerts(body)
	if err != nil {
		f.transport.Invalidate(key)
		return f.Index(), &transport.DecodeError{Key: key, Err: err}
	}
	f.mu.Lock()
	f.index = ix
	f.mu.Unlock()
	f.log.Debug("service alerts refreshed", "alerts", ix.Len(), "feed_timestamp", ix.Timestamp())
	return ix, nil
}

// Index returns the last successfully parsed index, possibly nil.
func (f *Feed) Index() *AlertIndex {
	if f == nil {
		return nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index
}
