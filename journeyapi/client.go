package journeyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bluele/gcache"

	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/transport"
)

// ErrRefreshTokenExpired is returned by RefreshJourney when the upstream no
// longer knows the token (HTTP 404).
var ErrRefreshTokenExpired = errors.New("refresh token expired")

// Options configures a Client.
type Options struct {
	BaseURL  string
	Results  int
	Language string
	// PlaceCacheSize bounds the location-search LRU. Zero disables it.
	PlaceCacheSize int
	PlaceCacheTTL  time.Duration
	Logger         *slog.Logger
}

// Client issues typed upstream calls through a transport.Client.
type Client struct {
	transport *transport.Client
	base      *url.URL
	results   int
	language  string
	places    gcache.Cache
	log       *slog.Logger
}

// New builds a Client for the upstream at opts.BaseURL.
func New(t *transport.Client, opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base url %q", opts.BaseURL)
	}
	c := &Client{
		transport: t,
		base:      base,
		results:   opts.Results,
		language:  opts.Language,
		log:       opts.Logger,
	}
	if c.results <= 0 {
		c.results = 5
	}
	if c.language == "" {
		c.language = "en"
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	c.log = c.log.With("component", "journeyapi")
	if opts.PlaceCacheSize > 0 {
		b := gcache.New(opts.PlaceCacheSize).LRU()
		if opts.PlaceCacheTTL > 0 {
			b = b.Expiration(opts.PlaceCacheTTL)
		}
		c.places = b.Build()
	}
	return c, nil
}

// JourneysKey is the cache key of a plan between two places.
func JourneysKey(from, to model.Place) string {
	return "journeys:" + from.Key() + "→" + to.Key()
}

// RefreshKey is the cache key of a refresh call.
func RefreshKey(token string) string { return "refresh:" + token }

// Journeys plans from → to.
func (c *Client) Journeys(ctx context.Context, from, to model.Place, p model.Priority) ([]model.JourneyOption, error) {
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("%w: origin %q: %w", transport.ErrInvalidRequest, from.Name, err)
	}
	if err := to.Validate(); err != nil {
		return nil, fmt.Errorf("%w: destination %q: %w", transport.ErrInvalidRequest, to.Name, err)
	}
	q := url.Values{}
	encodePlace(q, "from", from)
	encodePlace(q, "to", to)
	q.Set("results", strconv.Itoa(c.results))
	q.Set("stopovers", "true")
	q.Set("remarks", "true")
	q.Set("language", c.language)

	key := JourneysKey(from, to)
	body, err := c.transport.Get(ctx, c.request(key, p, "/journeys", q))
	if err != nil {
		return nil, err
	}
	return c.decodeJourneys(key, body)
}

// CachedJourneys returns the plan from → to when a fresh copy is cached.
func (c *Client) CachedJourneys(from, to model.Place) ([]model.JourneyOption, bool) {
	if from.Validate() != nil || to.Validate() != nil {
		return nil, false
	}
	key := JourneysKey(from, to)
	body, ok := c.transport.Cached(key)
	if !ok {
		return nil, false
	}
	js, err := c.decodeJourneys(key, body)
	return js, err == nil
}

func (c *Client) decodeJourneys(key string, body []byte) ([]model.JourneyOption, error) {
	var resp journeysResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.decodeError(key, err)
	}
	out := make([]model.JourneyOption, 0, len(resp.Journeys))
	for _, j := range resp.Journeys {
		if opt, ok := j.option(); ok {
			out = append(out, opt)
		}
	}
	if skipped := len(resp.Journeys) - len(out); skipped > 0 {
		c.log.Debug("skipped journeys without usable times", "key", key, "skipped", skipped)
	}
	return out, nil
}

// RefreshJourney exchanges a refresh token for an updated journey.
func (c *Client) RefreshJourney(ctx context.Context, token string, p model.Priority) (model.JourneyOption, error) {
	if token == "" {
		return model.JourneyOption{}, fmt.Errorf("%w: empty refresh token", transport.ErrInvalidRequest)
	}
	q := url.Values{}
	q.Set("stopovers", "true")
	q.Set("remarks", "true")
	q.Set("language", c.language)

	key := RefreshKey(token)
	body, err := c.transport.Get(ctx, c.request(key, p, "/journeys/"+url.PathEscape(token), q))
	if err != nil {
		if errors.Is(err, transport.ErrNotFound) {
			return model.JourneyOption{}, fmt.Errorf("%w: %w", ErrRefreshTokenExpired, err)
		}
		return model.JourneyOption{}, err
	}
	var resp refreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.JourneyOption{}, c.decodeError(key, err)
	}
	if resp.Journey == nil {
		return model.JourneyOption{}, c.decodeError(key, errors.New("missing journey"))
	}
	opt, ok := resp.Journey.option()
	if !ok {
		return model.JourneyOption{}, c.decodeError(key, errors.New("journey without usable times"))
	}
	if opt.RefreshToken == "" {
		opt.RefreshToken = token
	}
	return opt, nil
}

// Locations searches stations and stops by name.
func (c *Client) Locations(ctx context.Context, query string, limit int) ([]model.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty location query", transport.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = 10
	}
	key := "locations:" + strings.ToLower(query) + ":" + strconv.Itoa(limit)
	if c.places != nil {
		if v, err := c.places.Get(key); err == nil {
			if places, ok := v.([]model.Place); ok {
				return places, nil
			}
		}
	}
	q := url.Values{}
	q.Set("query", query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("poi", "false")
	q.Set("addresses", "false")

	places, err := c.fetchPlaces(ctx, key, "/locations", q)
	if err != nil {
		return nil, err
	}
	if c.places != nil {
		if err := c.places.Set(key, places); err != nil {
			c.log.Debug("place cache set failed", "key", key, "err", err)
		}
	}
	return places, nil
}

// Nearby lists stops within distance meters of a coordinate.
func (c *Client) Nearby(ctx context.Context, lat, lon float64, distance, limit int) ([]model.Place, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: coordinate %f,%f out of range", transport.ErrInvalidRequest, lat, lon)
	}
	if distance <= 0 {
		distance = 1000
	}
	if limit <= 0 {
		limit = 10
	}
	q := url.Values{}
	q.Set("latitude", formatCoord(lat))
	q.Set("longitude", formatCoord(lon))
	q.Set("distance", strconv.Itoa(distance))
	q.Set("limit", strconv.Itoa(limit))
	key := fmt.Sprintf("nearby:%.5f,%.5f:%d:%d", lat, lon, distance, limit)
	return c.fetchPlaces(ctx, key, "/locations/nearby", q)
}

// ResolvePlace returns p unchanged when it is already fetchable. A place with
// only a name is resolved to the top search hit.
func (c *Client) ResolvePlace(ctx context.Context, p model.Place) (model.Place, error) {
	if p.Validate() == nil {
		return p, nil
	}
	if strings.TrimSpace(p.Name) == "" {
		return p, fmt.Errorf("%w: %w", transport.ErrInvalidRequest, model.ErrInvalidPlace)
	}
	hits, err := c.Locations(ctx, p.Name, 1)
	if err != nil {
		return p, fmt.Errorf("resolve %q: %w", p.Name, err)
	}
	if len(hits) == 0 {
		return p, fmt.Errorf("%w: no location matches %q", transport.ErrInvalidRequest, p.Name)
	}
	resolved := hits[0]
	if resolved.Name == "" {
		resolved.Name = p.Name
	}
	c.log.Debug("resolved place", "name", p.Name, "id", resolved.ID)
	return resolved, nil
}

func (c *Client) fetchPlaces(ctx context.Context, key, path string, q url.Values) ([]model.Place, error) {
	body, err := c.transport.Get(ctx, c.request(key, model.PriorityNormal, path, q))
	if err != nil {
		return nil, err
	}
	var locs []wireLocation
	if err := json.Unmarshal(body, &locs); err != nil {
		return nil, c.decodeError(key, err)
	}
	out := make([]model.Place, 0, len(locs))
	for _, l := range locs {
		out = append(out, l.place())
	}
	return out, nil
}

// request builds a GET for an already escaped path.
func (c *Client) request(key string, p model.Priority, path string, q url.Values) transport.Request {
	u := *c.base
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + path
	u.Path, _ = url.PathUnescape(u.RawPath)
	u.RawQuery = q.Encode()
	target := u.String()
	return transport.Request{
		Key:      key,
		Priority: p,
		Build: func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		},
	}
}

// decodeError drops the cached payload so the next call refetches it.
func (c *Client) decodeError(key string, err error) error {
	c.transport.Invalidate(key)
	c.log.Warn("malformed upstream payload", "key", key, "err", err)
	return &transport.DecodeError{Key: key, Err: err}
}

func encodePlace(q url.Values, prefix string, p model.Place) {
	if p.ID != "" {
		q.Set(prefix, p.ID)
		return
	}
	q.Set(prefix+".latitude", formatCoord(*p.Latitude))
	q.Set(prefix+".longitude", formatCoord(*p.Longitude))
	if p.Name != "" {
		q.Set(prefix+".address", p.Name)
	}
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
