package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/theoremus-urban-solutions/departures/model"
)

// DefaultPaths are tried in order when LoadAppConfig gets no paths.
var DefaultPaths = []string{"config.yml", "./config/config.yml"}

// LoadAppConfig reads the first existing file of paths, applies defaults and
// validates the result.
func LoadAppConfig(paths ...string) (*AppConfig, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var data []byte
	var err error
	for _, p := range paths {
		data, err = os.ReadFile(p)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	for _, r := range cfg.Routes.Static {
		if !r.Origin.set() || !r.Destination.set() {
			return nil, fmt.Errorf("validate config: route %s needs an origin and a destination", r.ID)
		}
	}
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	setDefault(&c.Server.Port, 16181)
	setDefault(&c.Server.ShutdownTimeoutSec, 10)
	setDefault(&c.Upstream.TimeoutMS, 15000)
	setDefault(&c.Upstream.Results, 5)
	setDefault(&c.Upstream.PlaceCacheSize, 256)
	setDefault(&c.Upstream.PlaceCacheTTLSec, 86400)
	if c.Upstream.Language == "" {
		c.Upstream.Language = "en"
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = "departured/1.0"
	}
	if c.Retry.MaxRetries == nil {
		n := c.Retry.Retries()
		c.Retry.MaxRetries = &n
	}
	if c.Retry.Jitter == nil {
		j := c.Retry.JitterFraction()
		c.Retry.Jitter = &j
	}
	setDefault(&c.Retry.BaseDelayMS, 1000)
	setDefault(&c.Retry.MaxDelayMS, 30000)
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Cache.MemoryClass == "" {
		c.Cache.MemoryClass = "normal"
	}
	setDefault(&c.Cache.SweepIntervalSec, 60)
	setDefault(&c.Cache.StaleRetentionSec, 300)
	setDefault(&c.Batcher.WindowMS, 500)
	setDefault(&c.Batcher.MaxPending, 10)
	setDefault(&c.Batcher.MaxAgeSec, 30)
	if c.Batcher.GroupRadiusKM == 0 {
		c.Batcher.GroupRadiusKM = 1.0
	}
	setDefault(&c.Selector.MaxDelayMinutes, 30)
	setDefault(&c.Selector.MaxDurationMinutes, 240)
	setDefault(&c.Selector.DepartedGraceMinutes, 5)
	setDefault(&c.Scheduler.MinIntervalSec, 30)
	setDefault(&c.Scheduler.MaxIntervalSec, 1800)
	setDefault(&c.Scheduler.FavoriteBaseSec, 120)
	setDefault(&c.Scheduler.DefaultBaseSec, 300)
	setDefault(&c.Background.IntervalSec, 60)
	setDefault(&c.Background.RunTimeoutSec, 30)
	setDefault(&c.Background.SoftMarginSec, 5)
	setDefault(&c.Background.Concurrency, 4)
	if c.Background.Priority == "" {
		c.Background.Priority = "low"
	}
	if c.Routes.Driver == "" {
		c.Routes.Driver = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// Seconds converts a config value in seconds.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts a config value in milliseconds.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (p PlaceConfig) set() bool {
	return p.ID != "" || p.Name != "" || (p.Latitude != nil && p.Longitude != nil)
}

// Place converts to the model type.
func (p PlaceConfig) Place() model.Place {
	return model.Place{ID: p.ID, Name: p.Name, Latitude: p.Latitude, Longitude: p.Longitude}
}

// Route converts to the model type.
func (r RouteConfig) Route() (model.Route, error) {
	iv, err := model.ParseRefreshInterval(r.RefreshInterval)
	if err != nil {
		return model.Route{}, fmt.Errorf("route %s: %w", r.ID, err)
	}
	name := r.Name
	if name == "" {
		name = r.ID
	}
	return model.Route{
		ID:              r.ID,
		Name:            name,
		Origin:          r.Origin.Place(),
		Destination:     r.Destination.Place(),
		Favorite:        r.Favorite,
		RefreshInterval: iv,
	}, nil
}

// StaticRoutes converts every configured route.
func (c *AppConfig) StaticRoutes() ([]model.Route, error) {
	out := make([]model.Route, 0, len(c.Routes.Static))
	seen := map[string]bool{}
	var errs []error
	for _, rc := range c.Routes.Static {
		if seen[rc.ID] {
			errs = append(errs, fmt.Errorf("duplicate route id %s", rc.ID))
			continue
		}
		seen[rc.ID] = true
		r, err := rc.Route()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, r)
	}
	return out, errors.Join(errs...)
}

// TTLs returns the configured per-priority cache TTLs.
func (c CacheConfig) TTLs() map[model.Priority]time.Duration {
	out := map[model.Priority]time.Duration{}
	for name, secs := range c.TTLSeconds {
		if p, err := model.ParsePriority(name); err == nil {
			out[p] = Seconds(secs)
		}
	}
	return out
}
