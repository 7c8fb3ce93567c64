// Package config provides configuration management for clipdock using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultListen            = ":8080"
	defaultBasePath          = "/api/v1"
	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 2 * time.Minute
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultWorkers           = 4
	defaultProbeTimeoutMs    = 5000
	defaultQueueSize         = 256
	defaultFlagThreshold     = 30
	defaultContentType       = "video/mp4"
	defaultCacheControl      = "public, max-age=86400"
	defaultSubscriberBuffer  = 64
	defaultMaxBlobBytes      = 2 * 1024 * 1024 * 1024 // 2GiB
	defaultNotifyTimeout     = 10 * time.Second
	defaultNotifyRetries     = 3
	defaultSweepSchedule     = "*/15 * * * *"
	defaultTenantHeader      = "X-Tenant-ID"
)

// defaultStepDelaysMs is the per-checkpoint delay table for the processing
// pipeline, in milliseconds. One entry per progress checkpoint.
var defaultStepDelaysMs = []int{1000, 1500, 1200, 2000, 1500, 1000}

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Analyzer    AnalyzerConfig    `mapstructure:"analyzer"`
	Streamer    StreamerConfig    `mapstructure:"streamer"`
	Bus         BusConfig         `mapstructure:"bus"`
	Blob        BlobConfig        `mapstructure:"blob"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
//
// There are deliberately no global read/write timeouts: uploads and range
// streams of multi-gigabyte files outlive any reasonable fixed value.
type ServerConfig struct {
	Listen            string        `mapstructure:"listen"`
	BasePath          string        `mapstructure:"basePath"`
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	IdleTimeout       time.Duration `mapstructure:"idleTimeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
	CORSOrigins       []string      `mapstructure:"corsOrigins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"connMaxIdleTime"`
	LogLevel        string        `mapstructure:"logLevel"` // silent, error, warn, info
}

// StorageConfig holds blob storage configuration.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// PipelineConfig holds processing pipeline configuration.
type PipelineConfig struct {
	Workers        int        `mapstructure:"workers"`
	ProbeTimeoutMs int        `mapstructure:"probeTimeoutMs"`
	FFprobePath    string     `mapstructure:"ffprobePath"`
	QueueSize      int        `mapstructure:"queueSize"`
	RequeueOnStart bool       `mapstructure:"requeueOnStart"`
	Step           StepConfig `mapstructure:"step"`
}

// StepConfig holds the per-checkpoint delay table.
type StepConfig struct {
	// DelaysMs has one entry per progress checkpoint, in order. Zeroes make
	// the pipeline run without pacing, which is what tests want.
	DelaysMs []int `mapstructure:"delaysMs"`
}

// AnalyzerConfig holds content analysis configuration.
type AnalyzerConfig struct {
	// FlagThreshold is the sensitivity score a video must exceed to be flagged.
	FlagThreshold int `mapstructure:"flagThreshold"`
}

// StreamerConfig holds video delivery configuration.
type StreamerConfig struct {
	ContentType  string `mapstructure:"contentType"`
	CacheControl string `mapstructure:"cacheControl"`
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	SubscriberBuffer int `mapstructure:"subscriberBuffer"`
}

// BlobConfig holds upload limits.
type BlobConfig struct {
	// MaxBytes is the maximum accepted upload size.
	// Supports human-readable values like "2GiB" or raw byte counts.
	MaxBytes ByteSize `mapstructure:"maxBytes"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	// Tokens lists the accepted bearer tokens and the principal each one
	// resolves to. An empty list enables dev mode: the tenant is taken from
	// the TenantHeader instead.
	Tokens       []TokenClaims `mapstructure:"tokens"`
	TenantHeader string        `mapstructure:"tenantHeader"`
}

// TokenClaims binds a bearer token to a tenant and owner.
type TokenClaims struct {
	Token    string `mapstructure:"token"`
	TenantID string `mapstructure:"tenantId"`
	OwnerID  string `mapstructure:"ownerId"`
}

// NotifyConfig holds webhook notification configuration.
type NotifyConfig struct {
	// WebhookURL receives terminal processing events. Empty disables delivery.
	WebhookURL string   `mapstructure:"webhookUrl"`
	Timeout    Duration `mapstructure:"timeout"`
	MaxRetries int      `mapstructure:"maxRetries"`
}

// MaintenanceConfig holds background sweep configuration.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // 5-field cron expression
	// Retention is how long soft-deleted videos are kept before purge.
	// Zero keeps them forever.
	Retention Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"addSource"`
	TimeFormat string `mapstructure:"timeFormat"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with CLIPDOCK_ and use underscores for
// nesting. Example: CLIPDOCK_PIPELINE_WORKERS=8.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("clipdock")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/clipdock")
		v.AddConfigPath("$HOME/.clipdock")
	}

	v.SetEnvPrefix("CLIPDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a configuration from an already
// populated Viper instance. The CLI uses this with the global Viper so
// bound command-line flags take part in the usual precedence chain.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen", defaultListen)
	v.SetDefault("server.basePath", defaultBasePath)
	v.SetDefault("server.readHeaderTimeout", defaultReadHeaderTimeout)
	v.SetDefault("server.idleTimeout", defaultIdleTimeout)
	v.SetDefault("server.shutdownTimeout", defaultShutdownTimeout)
	v.SetDefault("server.corsOrigins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "clipdock.db")
	v.SetDefault("database.maxOpenConns", defaultMaxOpenConns)
	v.SetDefault("database.maxIdleConns", defaultMaxIdleConns)
	v.SetDefault("database.connMaxLifetime", time.Hour)
	v.SetDefault("database.connMaxIdleTime", defaultConnMaxIdleTime)
	v.SetDefault("database.logLevel", "warn")

	// Storage defaults
	v.SetDefault("storage.path", "./data/blobs")

	// Pipeline defaults
	v.SetDefault("pipeline.workers", defaultWorkers)
	v.SetDefault("pipeline.probeTimeoutMs", defaultProbeTimeoutMs)
	v.SetDefault("pipeline.ffprobePath", "ffprobe")
	v.SetDefault("pipeline.queueSize", defaultQueueSize)
	v.SetDefault("pipeline.requeueOnStart", true)
	v.SetDefault("pipeline.step.delaysMs", defaultStepDelaysMs)

	// Analyzer defaults
	v.SetDefault("analyzer.flagThreshold", defaultFlagThreshold)

	// Streamer defaults
	v.SetDefault("streamer.contentType", defaultContentType)
	v.SetDefault("streamer.cacheControl", defaultCacheControl)

	// Bus defaults
	v.SetDefault("bus.subscriberBuffer", defaultSubscriberBuffer)

	// Blob defaults
	v.SetDefault("blob.maxBytes", defaultMaxBlobBytes)

	// Auth defaults
	v.SetDefault("auth.tenantHeader", defaultTenantHeader)

	// Notify defaults
	v.SetDefault("notify.webhookUrl", "")
	v.SetDefault("notify.timeout", defaultNotifyTimeout)
	v.SetDefault("notify.maxRetries", defaultNotifyRetries)

	// Maintenance defaults
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", defaultSweepSchedule)
	v.SetDefault("maintenance.retention", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.addSource", false)
	v.SetDefault("logging.timeFormat", time.RFC3339)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	if c.Pipeline.ProbeTimeoutMs < 1 {
		return fmt.Errorf("pipeline.probeTimeoutMs must be at least 1")
	}
	if c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.queueSize must be at least 1")
	}
	if len(c.Pipeline.Step.DelaysMs) != len(defaultStepDelaysMs) {
		return fmt.Errorf("pipeline.step.delaysMs must have exactly %d entries", len(defaultStepDelaysMs))
	}
	for i, d := range c.Pipeline.Step.DelaysMs {
		if d < 0 {
			return fmt.Errorf("pipeline.step.delaysMs[%d] must not be negative", i)
		}
	}

	if c.Analyzer.FlagThreshold < 0 || c.Analyzer.FlagThreshold > 100 {
		return fmt.Errorf("analyzer.flagThreshold must be between 0 and 100")
	}

	if c.Bus.SubscriberBuffer < 1 {
		return fmt.Errorf("bus.subscriberBuffer must be at least 1")
	}

	if c.Blob.MaxBytes < 1 {
		return fmt.Errorf("blob.maxBytes must be positive")
	}

	for i, tc := range c.Auth.Tokens {
		if tc.Token == "" || tc.TenantID == "" {
			return fmt.Errorf("auth.tokens[%d]: token and tenantId are required", i)
		}
	}

	if c.Maintenance.Enabled && c.Maintenance.Schedule == "" {
		return fmt.Errorf("maintenance.schedule is required when maintenance is enabled")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// ProbeTimeout returns the metadata probe timeout as a time.Duration.
func (c *PipelineConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// StepDelays returns the checkpoint delay table as time.Durations.
func (c *PipelineConfig) StepDelays() []time.Duration {
	out := make([]time.Duration, len(c.Step.DelaysMs))
	for i, ms := range c.Step.DelaysMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}
