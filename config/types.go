package config

// ServerConfig contains the HTTP control surface configuration
type ServerConfig struct {
	Port               int      `yaml:"port" validate:"gte=0,lte=65535"`
	AllowedOrigins     []string `yaml:"allowedOrigins"`
	ShutdownTimeoutSec int      `yaml:"shutdownTimeoutSec" validate:"gte=0"`
}

// UpstreamConfig describes the journey-planning API
type UpstreamConfig struct {
	BaseURL          string `yaml:"baseURL" validate:"required,url"`
	TimeoutMS        int    `yaml:"timeoutMS" validate:"gte=0"`
	UserAgent        string `yaml:"userAgent"`
	Results          int    `yaml:"results" validate:"gte=0,lte=20"`
	Language         string `yaml:"language" validate:"omitempty,len=2"`
	PlaceCacheSize   int    `yaml:"placeCacheSize" validate:"gte=0"`
	PlaceCacheTTLSec int    `yaml:"placeCacheTTLSec" validate:"gte=0"`
}

// RetryConfig is the transport backoff schedule. MaxRetries and Jitter are
// pointers so an explicit zero survives defaulting.
type RetryConfig struct {
	MaxRetries  *int     `yaml:"maxRetries" validate:"omitempty,gte=0,lte=10"`
	BaseDelayMS int      `yaml:"baseDelayMS" validate:"gte=0"`
	Multiplier  float64  `yaml:"multiplier" validate:"gte=0"`
	MaxDelayMS  int      `yaml:"maxDelayMS" validate:"gte=0"`
	Jitter      *float64 `yaml:"jitter" validate:"omitempty,gte=0,lte=1"`
}

// Retries returns MaxRetries, or 3 when unset.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return 3
	}
	return *r.MaxRetries
}

// JitterFraction returns Jitter, or 0.1 when unset.
func (r RetryConfig) JitterFraction() float64 {
	if r.Jitter == nil {
		return 0.1
	}
	return *r.Jitter
}

// CacheConfig sizes the result cache
type CacheConfig struct {
	MemoryClass       string         `yaml:"memoryClass" validate:"omitempty,oneof=low normal high"`
	MaxEntries        int            `yaml:"maxEntries" validate:"gte=0"`
	SweepIntervalSec  int            `yaml:"sweepIntervalSec" validate:"gte=0"`
	StaleRetentionSec int            `yaml:"staleRetentionSec" validate:"gte=0"`
	TTLSeconds        map[string]int `yaml:"ttlSeconds" validate:"dive,keys,oneof=low normal high critical,endkeys,gt=0"`
}

// BatcherConfig tunes request batching
type BatcherConfig struct {
	WindowMS      int     `yaml:"windowMS" validate:"gte=0"`
	MaxPending    int     `yaml:"maxPending" validate:"gte=0"`
	MaxAgeSec     int     `yaml:"maxAgeSec" validate:"gte=0"`
	GroupRadiusKM float64 `yaml:"groupRadiusKM" validate:"gte=0"`
	Concurrency   int     `yaml:"concurrency" validate:"gte=0"`
}

// SelectorConfig holds the viability thresholds
type SelectorConfig struct {
	MaxDelayMinutes      int `yaml:"maxDelayMinutes" validate:"gte=0"`
	MaxDurationMinutes   int `yaml:"maxDurationMinutes" validate:"gte=0"`
	DepartedGraceMinutes int `yaml:"departedGraceMinutes" validate:"gte=0"`
}

// SchedulerConfig bounds adaptive intervals
type SchedulerConfig struct {
	MinIntervalSec  int `yaml:"minIntervalSec" validate:"gte=0"`
	MaxIntervalSec  int `yaml:"maxIntervalSec" validate:"gte=0"`
	FavoriteBaseSec int `yaml:"favoriteBaseSec" validate:"gte=0"`
	DefaultBaseSec  int `yaml:"defaultBaseSec" validate:"gte=0"`
}

// BackgroundConfig controls background refresh runs
type BackgroundConfig struct {
	Enabled bool `yaml:"enabled"`
	// IntervalSec is the daemon's own wake-up period in serve mode.
	IntervalSec   int    `yaml:"intervalSec" validate:"gte=0"`
	RunTimeoutSec int    `yaml:"runTimeoutSec" validate:"gte=0"`
	SoftMarginSec int    `yaml:"softMarginSec" validate:"gte=0"`
	Concurrency   int    `yaml:"concurrency" validate:"gte=0"`
	Priority      string `yaml:"priority" validate:"omitempty,oneof=low normal high critical"`
}

// AlertsConfig points at an optional GTFS-RT service alerts feed
type AlertsConfig struct {
	ServiceAlertsURL string `yaml:"serviceAlertsURL" validate:"omitempty,url"`
}

// PlaceConfig is an origin or destination. One of id, coordinates or name
// is required; name-only places are resolved by search.
type PlaceConfig struct {
	ID        string   `yaml:"id"`
	Name      string   `yaml:"name"`
	Latitude  *float64 `yaml:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `yaml:"longitude" validate:"omitempty,longitude"`
}

// RouteConfig declares a watched route
type RouteConfig struct {
	ID              string      `yaml:"id" validate:"required"`
	Name            string      `yaml:"name"`
	Origin          PlaceConfig `yaml:"origin"`
	Destination     PlaceConfig `yaml:"destination"`
	Favorite        bool        `yaml:"favorite"`
	RefreshInterval string      `yaml:"refreshInterval" validate:"omitempty,oneof=default manual 1m 2m 5m 10m 15m"`
}

// RoutesConfig selects the route repository
type RoutesConfig struct {
	Driver  string        `yaml:"driver" validate:"omitempty,oneof=memory postgres mysql"`
	DSN     string        `yaml:"dsn" validate:"required_unless=Driver memory"`
	Migrate bool          `yaml:"migrate"`
	Static  []RouteConfig `yaml:"static" validate:"dive"`
}

// DeviceConfig is the initial device state reported to the scheduler
type DeviceConfig struct {
	BatteryLevel *float64 `yaml:"batteryLevel" validate:"omitempty,gte=0,lte=1"`
	Charging     *bool    `yaml:"charging"`
	Network      string   `yaml:"network" validate:"omitempty,oneof=unknown wifi ethernet cellular metered none offline"`
}

// LoggingConfig selects level and output format
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// AppConfig is the root configuration structure
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Retry      RetryConfig      `yaml:"retry"`
	Cache      CacheConfig      `yaml:"cache"`
	Batcher    BatcherConfig    `yaml:"batcher"`
	Selector   SelectorConfig   `yaml:"selector"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Background BackgroundConfig `yaml:"background"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Routes     RoutesConfig     `yaml:"routes"`
	Device     DeviceConfig     `yaml:"device"`
	Logging    LoggingConfig    `yaml:"logging"`
}
