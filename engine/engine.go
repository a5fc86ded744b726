package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/theoremus-urban-solutions/departures/background"
	"github.com/theoremus-urban-solutions/departures/batcher"
	"github.com/theoremus-urban-solutions/departures/cache"
	"github.com/theoremus-urban-solutions/departures/config"
	"github.com/theoremus-urban-solutions/departures/gtfsrt"
	"github.com/theoremus-urban-solutions/departures/journeyapi"
	"github.com/theoremus-urban-solutions/departures/model"
	"github.com/theoremus-urban-solutions/departures/orchestrator"
	"github.com/theoremus-urban-solutions/departures/routestore"
	"github.com/theoremus-urban-solutions/departures/scheduler"
	"github.com/theoremus-urban-solutions/departures/selector"
	"github.com/theoremus-urban-solutions/departures/transport"
)

// Options carries the host hooks that do not come from the config file.
type Options struct {
	Logger *slog.Logger
	// HTTPClient overrides the upstream client built from the config.
	HTTPClient *http.Client
	// Routes overrides the repository selected by routes.driver.
	Routes routestore.Repository
	// ScheduleBackground is called with the earliest time the host should
	// invoke RunDueRefreshes. It is only used when background.enabled is set.
	ScheduleBackground func(time.Time) error
	// OnBackgroundReport receives every background run's outcome.
	OnBackgroundReport background.Reporter
	Now                func() time.Time
}

// Stats is a snapshot of cache and transport counters.
type Stats struct {
	Cache     cache.Statistics `json:"cache"`
	Transport transport.Stats  `json:"transport"`
	Alerts    int              `json:"alerts"`
}

// Engine is safe for concurrent use.
type Engine struct {
	log        *slog.Logger
	now        func() time.Time
	cache      *cache.Cache
	transport  *transport.Client
	api        *journeyapi.Client
	alerts     *gtfsrt.Feed
	selector   *selector.Selector
	device     *scheduler.StaticDevice
	scheduler  *scheduler.Scheduler
	orch       *orchestrator.Orchestrator
	routes     routestore.Repository
	trigger    background.Trigger
	background *background.Coordinator
	closers    []func() error
}

// New builds every component from cfg. The caller must Close the engine.
func New(ctx context.Context, cfg *config.AppConfig, opts Options) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	e := &Engine{log: opts.Logger, now: opts.Now}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}

	capacity := cfg.Cache.MaxEntries
	if capacity <= 0 {
		capacity = cache.CapacityForMemoryClass(cfg.Cache.MemoryClass)
	}
	e.cache = cache.New(cache.Options{
		MaxEntries:     capacity,
		TTLs:           cfg.Cache.TTLs(),
		StaleRetention: config.Seconds(cfg.Cache.StaleRetentionSec),
		SweepInterval:  config.Seconds(cfg.Cache.SweepIntervalSec),
		Now:            e.now,
		Logger:         e.log,
	})

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Millis(cfg.Upstream.TimeoutMS)}
	}
	e.transport = transport.NewClient(transport.Options{
		HTTPClient: httpClient,
		Cache:      e.cache,
		Retry:      retryPolicy(cfg.Retry),
		UserAgent:  cfg.Upstream.UserAgent,
		Logger:     e.log,
		Now:        e.now,
	})

	api, err := journeyapi.New(e.transport, journeyapi.Options{
		BaseURL:        cfg.Upstream.BaseURL,
		Results:        cfg.Upstream.Results,
		Language:       cfg.Upstream.Language,
		PlaceCacheSize: cfg.Upstream.PlaceCacheSize,
		PlaceCacheTTL:  config.Seconds(cfg.Upstream.PlaceCacheTTLSec),
		Logger:         e.log,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.api = api
	e.alerts = gtfsrt.NewFeed(e.transport, cfg.Alerts.ServiceAlertsURL, e.log)

	e.selector = selector.New(selector.Options{
		MaxDelay:      time.Duration(cfg.Selector.MaxDelayMinutes) * time.Minute,
		MaxDuration:   time.Duration(cfg.Selector.MaxDurationMinutes) * time.Minute,
		DepartedGrace: time.Duration(cfg.Selector.DepartedGraceMinutes) * time.Minute,
		Logger:        e.log,
	})

	state, err := deviceState(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.device = scheduler.NewStaticDevice(state)
	e.scheduler = scheduler.New(scheduler.Options{
		MinInterval:  config.Seconds(cfg.Scheduler.MinIntervalSec),
		MaxInterval:  config.Seconds(cfg.Scheduler.MaxIntervalSec),
		FavoriteBase: config.Seconds(cfg.Scheduler.FavoriteBaseSec),
		DefaultBase:  config.Seconds(cfg.Scheduler.DefaultBaseSec),
		Device:       e.device,
		Now:          e.now,
		Logger:       e.log,
	})

	e.orch = orchestrator.New(e.api, orchestrator.Options{
		Selector: e.selector,
		Alerts:   e.alerts,
		Batcher:  batcherOptions(cfg.Batcher),
		Now:      e.now,
		Logger:   e.log,
	})
	e.closers = append(e.closers, func() error { e.orch.Close(); return nil })

	e.routes = opts.Routes
	if e.routes == nil {
		if e.routes, err = e.openRoutes(ctx, cfg); err != nil {
			_ = e.Close()
			return nil, err
		}
	}

	prio, err := model.ParsePriority(cfg.Background.Priority)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("engine: background priority: %w", err)
	}
	e.trigger = background.NewTrigger(cfg.Background.Enabled, opts.ScheduleBackground)
	e.background = background.New(background.Options{
		Routes:      e.routes,
		Scheduler:   e.scheduler,
		Fetcher:     e.orch,
		Trigger:     e.trigger,
		Reporter:    opts.OnBackgroundReport,
		SoftMargin:  config.Seconds(cfg.Background.SoftMarginSec),
		Concurrency: cfg.Background.Concurrency,
		Priority:    prio,
		Now:         e.now,
		Logger:      e.log,
	})

	e.log.Info("engine ready",
		"upstream", cfg.Upstream.BaseURL,
		"cache_capacity", capacity,
		"routes_driver", cfg.Routes.Driver,
		"alerts", e.alerts.Enabled(),
		"background", e.trigger.Supported())
	return e, nil
}

func (e *Engine) openRoutes(ctx context.Context, cfg *config.AppConfig) (routestore.Repository, error) {
	static, err := cfg.StaticRoutes()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if cfg.Routes.Driver == "" || cfg.Routes.Driver == "memory" {
		return routestore.NewMemoryStore(static...), nil
	}
	store, err := routestore.OpenSQL(ctx, cfg.Routes.Driver, cfg.Routes.DSN)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.closers = append(e.closers, store.Close)
	if cfg.Routes.Migrate {
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	if len(static) > 0 {
		e.log.Warn("static routes are ignored by the sql route store", "count", len(static))
	}
	return store, nil
}

func retryPolicy(c config.RetryConfig) transport.Policy {
	return transport.Policy{
		MaxRetries: c.Retries(),
		BaseDelay:  config.Millis(c.BaseDelayMS),
		Multiplier: c.Multiplier,
		MaxDelay:   config.Millis(c.MaxDelayMS),
		Jitter:     c.JitterFraction(),
	}
}

func batcherOptions(c config.BatcherConfig) batcher.Options {
	return batcher.Options{
		Window:        config.Millis(c.WindowMS),
		MaxPending:    c.MaxPending,
		MaxAge:        config.Seconds(c.MaxAgeSec),
		GroupRadiusKM: c.GroupRadiusKM,
		Concurrency:   c.Concurrency,
	}
}

func deviceState(c config.DeviceConfig) (scheduler.DeviceState, error) {
	s := scheduler.DeviceState{BatteryLevel: -1, Charging: true, Network: scheduler.NetworkWiFi}
	if c.BatteryLevel != nil {
		s.BatteryLevel = *c.BatteryLevel
	}
	if c.Charging != nil {
		s.Charging = *c.Charging
	}
	if c.Network != "" {
		n, err := scheduler.ParseNetworkType(c.Network)
		if err != nil {
			return s, err
		}
		s.Network = n
	}
	return s, nil
}

// Close stops background goroutines and releases the route store.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
