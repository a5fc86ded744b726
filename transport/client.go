package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/theoremus-urban-solutions/departures/cache"
	"github.com/theoremus-urban-solutions/departures/coalesce"
	"github.com/theoremus-urban-solutions/departures/model"
)

// Request describes one logical GET.
type Request struct {
	// Key identifies the request in the cache and the coalescer.
	Key      string
	Priority model.Priority
	// Build creates the HTTP request for one attempt. It is called again for
	// every retry.
	Build func(ctx context.Context) (*http.Request, error)
}

// Options configures a Client. HTTPClient and Cache are required.
type Options struct {
	HTTPClient *http.Client
	Cache      *cache.Cache
	Retry      Policy
	UserAgent  string
	Logger     *slog.Logger
	Now        func() time.Time
	Sleep      func(ctx context.Context, d time.Duration) error
	Rand       func() float64
}

// Stats counts transport activity since start.
type Stats struct {
	CacheHits   int64 `json:"cacheHits"`
	Requests    int64 `json:"requests"`
	NotModified int64 `json:"notModified"`
	Retries     int64 `json:"retries"`
	RateLimited int64 `json:"rateLimited"`
	Exhausted   int64 `json:"exhausted"`
}

// Client is safe for concurrent use.
type Client struct {
	http      *http.Client
	cache     *cache.Cache
	flights   coalesce.Group[[]byte]
	retry     Policy
	userAgent string
	log       *slog.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	rand      func() float64

	cacheHits   atomic.Int64
	requests    atomic.Int64
	notModified atomic.Int64
	retries     atomic.Int64
	rateLimited atomic.Int64
	exhausted   atomic.Int64
}

// NewClient wires a client from opts.
func NewClient(opts Options) *Client {
	c := &Client{
		http:      opts.HTTPClient,
		cache:     opts.Cache,
		retry:     opts.Retry,
		userAgent: opts.UserAgent,
		log:       opts.Logger,
		now:       opts.Now,
		sleep:     opts.Sleep,
		rand:      opts.Rand,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.cache == nil {
		c.cache = cache.New(cache.Options{})
	}
	if c.retry == (Policy{}) {
		c.retry = DefaultPolicy()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "transport")
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.rand == nil {
		c.rand = rand.Float64
	}
	return c
}

// Cache returns the result cache backing the client.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Invalidate drops a cached payload, e.g. one that failed to decode.
func (c *Client) Invalidate(key string) { c.cache.Remove(key) }

// Cached returns the fresh cached payload for key without going upstream.
func (c *Client) Cached(key string) ([]byte, bool) {
	payload, ok := c.cache.Peek(key)
	if ok {
		c.cacheHits.Add(1)
	}
	return payload, ok
}

// Get returns the payload for req, from cache when fresh.
func (c *Client) Get(ctx context.Context, req Request) ([]byte, error) {
	if req.Key == "" || req.Build == nil {
		return nil, fmt.Errorf("%w: missing key or builder", ErrInvalidRequest)
	}
	if payload, ok := c.cache.Retrieve(req.Key); ok {
		c.cacheHits.Add(1)
		return payload, nil
	}
	payload, shared, err := c.flights.Do(ctx, req.Key, func(ctx context.Context) ([]byte, error) {
		return c.fetch(ctx, req)
	})
	if shared {
		c.log.Debug("coalesced request", "key", req.Key)
	}
	return payload, err
}

// Stats returns the transport counters.
func (c *Client) Stats() Stats {
	return Stats{
		CacheHits:   c.cacheHits.Load(),
		Requests:    c.requests.Load(),
		NotModified: c.notModified.Load(),
		Retries:     c.retries.Load(),
		RateLimited: c.rateLimited.Load(),
		Exhausted:   c.exhausted.Load(),
	}
}

func (c *Client) fetch(ctx context.Context, req Request) ([]byte, error) {
	for retry := 0; ; retry++ {
		payload, err := c.attempt(ctx, req)
		if err == nil {
			return payload, nil
		}
		if !Retryable(err) {
			return nil, err
		}
		if retry >= c.retry.MaxRetries {
			c.exhausted.Add(1)
			c.log.Warn("retries exhausted", "key", req.Key, "attempts", retry+1, "err", err)
			return nil, &TooManyRetriesError{Attempts: retry + 1, Last: err}
		}
		delay := c.retry.Delay(retry, c.rand)
		var rl *RateLimitedError
		if errors.As(err, &rl) {
			c.rateLimited.Add(1)
			if rl.RetryAfter > 0 {
				delay = rl.RetryAfter
			}
		}
		c.retries.Add(1)
		c.log.Info("retrying", "key", req.Key, "attempt", retry+1, "delay", delay, "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) attempt(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := req.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	stale, haveStale := c.cache.Lookup(req.Key)
	if haveStale && stale.Validator != "" {
		httpReq.Header.Set("If-None-Match", stale.Validator)
	}
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	c.requests.Add(1)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	url := httpReq.URL.Redacted()
	switch {
	case resp.StatusCode == http.StatusNotModified:
		_, _ = io.Copy(io.Discard, resp.Body)
		if !haveStale {
			return nil, errStaleValidator
		}
		cc := parseCacheControl(resp.Header)
		e, ok := c.cache.Revalidate(req.Key, cc.ttl(c.cache.TTLFor(stale.Priority)))
		if !ok {
			return nil, errStaleValidator
		}
		c.notModified.Add(1)
		c.log.Debug("not modified", "key", req.Key)
		return e.Payload, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		_, _ = io.Copy(io.Discard, resp.Body)
		after, _ := parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return nil, &RateLimitedError{StatusCode: resp.StatusCode, RetryAfter: after}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Err: fmt.Errorf("read body from %s: %w", url, err)}
	}
	c.store(req, resp.Header, body)
	return body, nil
}

func (c *Client) store(req Request, h http.Header, body []byte) {
	cc := parseCacheControl(h)
	if cc.noStore {
		return
	}
	ttl := cc.ttl(c.cache.TTLFor(req.Priority))
	if ttl <= 0 {
		// Keep the validator for the next conditional request.
		ttl = time.Nanosecond
	}
	c.cache.StoreWithOptions(req.Key, body, req.Priority, cache.StoreOptions{
		Validator: h.Get("ETag"),
		TTL:       ttl,
	})
}
