package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	// Application
	App AppConfig

	// Embedded document store
	Store StoreConfig

	// Redis
	Redis RedisConfig

	// Sync Gateway API
	Gateway GatewayConfig

	// Scheduler
	Scheduler SchedulerConfig

	// Feature Flags
	Features *FeatureFlags

	// Observability
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// Timezone for cron jobs (default: UTC)
	Timezone string
	Location *time.Location

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration
}

// StoreConfig holds embedded document store settings.
type StoreConfig struct {
	// Directory holding the store file. Created if missing.
	Dir string

	// Instance name. The store file becomes "<Name>.db" under Dir.
	Name string

	// How long a write waits on a locked store
	BusyTimeout time.Duration

	// SQLite journal mode (WAL keeps readers unblocked during writes)
	JournalMode string

	// fsync policy (NORMAL is safe under WAL)
	Synchronous string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Pool settings
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Enable for deployments without Redis
	Disabled bool
}

// GatewayConfig holds sync gateway API settings.
type GatewayConfig struct {
	// Base URL of the sync gateway. Empty disables remote sync entirely,
	// the hub then runs as a purely local store.
	BaseURL string

	// Authentication
	APIKey string

	// DeviceID identifies this installation in the gateway changes feed
	DeviceID string

	// Rate limiting (protect from being throttled)
	RateLimit      int // requests per second
	RateLimitBurst int // burst size
	RequestTimeout time.Duration
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	// Enable/disable scheduler
	Enabled bool

	// Sync cycle
	SyncInterval    time.Duration // full push/pull cycle cadence
	SyncTimeout     time.Duration // per-cycle deadline
	PullPageSize    int           // changes requested per feed page
	PushConcurrency int           // classes pushed in parallel
	PushLimit       int           // dirty classes pushed per cycle

	// Stale class detection
	StaleCheckInterval time.Duration
	StaleThreshold     time.Duration
	StaleMaxReported   int

	// Store compaction time (in configured timezone)
	CompactionHour   int // 0-23
	CompactionMinute int // 0-59

	// History
	MaxHistorySize int
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	// Logging
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// Metrics (scheduler and event bus counters)
	MetricsEnabled bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	// Load App config
	cfg.App = loadAppConfig()

	// Load Store config
	cfg.Store = loadStoreConfig()

	// Load Redis config
	cfg.Redis = loadRedisConfig()

	// Load Gateway config
	cfg.Gateway = loadGatewayConfig()

	// Load Scheduler config
	cfg.Scheduler = loadSchedulerConfig()

	// Load Feature Flags
	cfg.Features = LoadFeatureFlags()

	// Load Observability config
	cfg.Observability = loadObservabilityConfig()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))
	timezone := getEnv("APP_TIMEZONE", "UTC")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = time.UTC
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "klypt-class-hub"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Dir:         getEnv("STORE_DIR", "data"),
		Name:        getEnv("STORE_NAME", "klypt"),
		BusyTimeout: getEnvDuration("STORE_BUSY_TIMEOUT", 5*time.Second),
		JournalMode: getEnv("STORE_JOURNAL_MODE", "WAL"),
		Synchronous: getEnv("STORE_SYNCHRONOUS", "NORMAL"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadGatewayConfig() GatewayConfig {
	deviceID := getEnv("GATEWAY_DEVICE_ID", "")
	if deviceID == "" {
		// A stable fallback so a fresh install still gets a usable
		// identity in the changes feed.
		if host, err := os.Hostname(); err == nil {
			deviceID = "hub-" + host
		}
	}

	return GatewayConfig{
		BaseURL:        getEnv("GATEWAY_BASE_URL", ""),
		APIKey:         getEnv("GATEWAY_API_KEY", ""),
		DeviceID:       deviceID,
		RateLimit:      getEnvInt("GATEWAY_RATE_LIMIT", 4),
		RateLimitBurst: getEnvInt("GATEWAY_RATE_LIMIT_BURST", 8),
		RequestTimeout: getEnvDuration("GATEWAY_REQUEST_TIMEOUT", 30*time.Second),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:            getEnvBool("SCHEDULER_ENABLED", true),
		SyncInterval:       getEnvDuration("SCHEDULER_SYNC_INTERVAL", 5*time.Minute),
		SyncTimeout:        getEnvDuration("SCHEDULER_SYNC_TIMEOUT", 5*time.Minute),
		PullPageSize:       getEnvInt("SCHEDULER_PULL_PAGE_SIZE", 100),
		PushConcurrency:    getEnvInt("SCHEDULER_PUSH_CONCURRENCY", 4),
		PushLimit:          getEnvInt("SCHEDULER_PUSH_LIMIT", 200),
		StaleCheckInterval: getEnvDuration("SCHEDULER_STALE_INTERVAL", 1*time.Hour),
		StaleThreshold:     getEnvDuration("SCHEDULER_STALE_THRESHOLD", 7*24*time.Hour),
		StaleMaxReported:   getEnvInt("SCHEDULER_STALE_MAX_REPORTED", 50),
		CompactionHour:     getEnvInt("SCHEDULER_COMPACTION_HOUR", 3),
		CompactionMinute:   getEnvInt("SCHEDULER_COMPACTION_MINUTE", 0),
		MaxHistorySize:     getEnvInt("SCHEDULER_MAX_HISTORY", 1000),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Gateway URL is required in production; an offline production hub
	// is a misconfiguration, not a mode.
	if c.App.Environment == EnvProduction {
		if c.Gateway.BaseURL == "" {
			errs = append(errs, "GATEWAY_BASE_URL is required in production")
		}
	}

	if c.Store.Dir == "" {
		errs = append(errs, "STORE_DIR must not be empty")
	}

	// Validate ranges
	if c.Scheduler.CompactionHour < 0 || c.Scheduler.CompactionHour > 23 {
		errs = append(errs, "SCHEDULER_COMPACTION_HOUR must be 0-23")
	}

	if c.Scheduler.CompactionMinute < 0 || c.Scheduler.CompactionMinute > 59 {
		errs = append(errs, "SCHEDULER_COMPACTION_MINUTE must be 0-59")
	}

	if c.Scheduler.SyncInterval <= 0 {
		errs = append(errs, "SCHEDULER_SYNC_INTERVAL must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// SyncEnabled reports whether remote sync can run at all.
func (c *Config) SyncEnabled() bool {
	return c.Gateway.BaseURL != ""
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
