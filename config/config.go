package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall agent configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Sync       SyncConfig       `yaml:"sync"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	DeviceID   string           `yaml:"device_id"`
}

// ServerConfig holds the diagnostic HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// TrackerConfig holds the session tracker configuration.
type TrackerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	UserID          string        `yaml:"user_id"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	WindowSeconds   int           `yaml:"window_seconds"`
	Window          time.Duration `yaml:"-"`
	BackoffSeconds  int           `yaml:"backoff_seconds"`
	Backoff         time.Duration `yaml:"-"`
	// Consecutive tick failures tolerated before switching to the backoff delay.
	BackoffThreshold int `yaml:"backoff_threshold"`
	// Minimum session duration persisted at close, in milliseconds. Zero-length
	// sessions are always dropped regardless of this value.
	MinDurationMillis int64 `yaml:"min_duration_ms"`
	// Packages never tracked: the agent itself plus launcher/home screens.
	SelfPackage      string   `yaml:"self_package"`
	LauncherPatterns []string `yaml:"launcher_patterns"`
	// What to do with records left isActive=true by an earlier process:
	// "discard" deletes them at the next StartTracking, "keep" leaves them.
	OrphanPolicy string `yaml:"orphan_policy"`
	// Observer command for the daemon: prints the foreground package id.
	ObserverCommand []string `yaml:"observer_command"`
}

// SyncConfig holds the collector client plus sync scheduling configuration.
type SyncConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
	HTTPProxy      string        `yaml:"http_proxy"`

	// "outbox" selects unsynced records via the store predicate (the default);
	// "window" applies the age/active filter over all records instead.
	Strategy      string `yaml:"strategy"`
	IncludeActive bool   `yaml:"include_active"`
	MaxAgeHours   int    `yaml:"max_age_hours"`

	// Whether synced records are pruned in the same pass. Pruning is the
	// default so the local store stays small.
	DeleteAfterSync *bool `yaml:"delete_after_sync"`

	Auto AutoSyncConfig `yaml:"auto"`
}

// AutoSyncConfig drives the daemon's periodic sync runner.
type AutoSyncConfig struct {
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	// Upper bound on the post-failure retry window within one interval.
	MaxElapsedSeconds int           `yaml:"max_elapsed_seconds"`
	MaxElapsed        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig sizes the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// DatabaseConfig holds the local store configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // "sqlite" or "postgres"
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn must be configured")
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with their documented defaults and
// derives the time.Duration views of the integer second fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Tracker.IntervalSeconds <= 0 {
		cfg.Tracker.IntervalSeconds = 10
	}
	cfg.Tracker.Interval = time.Duration(cfg.Tracker.IntervalSeconds) * time.Second

	if cfg.Tracker.WindowSeconds <= 0 {
		cfg.Tracker.WindowSeconds = 60
	}
	cfg.Tracker.Window = time.Duration(cfg.Tracker.WindowSeconds) * time.Second

	if cfg.Tracker.BackoffSeconds <= 0 {
		cfg.Tracker.BackoffSeconds = 10
	}
	cfg.Tracker.Backoff = time.Duration(cfg.Tracker.BackoffSeconds) * time.Second

	if cfg.Tracker.BackoffThreshold <= 0 {
		cfg.Tracker.BackoffThreshold = 5
	}

	if cfg.Tracker.UserID == "" {
		cfg.Tracker.UserID = "default_user"
	}

	if cfg.Tracker.OrphanPolicy == "" {
		cfg.Tracker.OrphanPolicy = "discard"
	}

	if len(cfg.Tracker.LauncherPatterns) == 0 {
		cfg.Tracker.LauncherPatterns = []string{"launcher", "nexuslauncher", "trebuchet", "home"}
	}

	if cfg.Sync.TimeoutSeconds <= 0 {
		cfg.Sync.TimeoutSeconds = 30
	}
	cfg.Sync.Timeout = time.Duration(cfg.Sync.TimeoutSeconds) * time.Second

	if cfg.Sync.Strategy == "" {
		cfg.Sync.Strategy = "outbox"
	}
	if cfg.Sync.MaxAgeHours <= 0 {
		cfg.Sync.MaxAgeHours = 24
	}
	if cfg.Sync.DeleteAfterSync == nil {
		deleteAfter := true
		cfg.Sync.DeleteAfterSync = &deleteAfter
	}

	if cfg.Sync.Auto.IntervalSeconds <= 0 {
		cfg.Sync.Auto.IntervalSeconds = 900
	}
	cfg.Sync.Auto.Interval = time.Duration(cfg.Sync.Auto.IntervalSeconds) * time.Second

	if cfg.Sync.Auto.MaxElapsedSeconds <= 0 {
		cfg.Sync.Auto.MaxElapsedSeconds = cfg.Sync.Auto.IntervalSeconds / 2
	}
	cfg.Sync.Auto.MaxElapsed = time.Duration(cfg.Sync.Auto.MaxElapsedSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8099
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 60
	}
}
