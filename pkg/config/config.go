// Package config loads the robometrics configuration: a YAML file with
// ROBOMETRICS_* environment overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultResultsDir is the default directory watched for output.xml.
	DefaultResultsDir = "./results"

	// DefaultHistoryDir is the default directory holding run records and
	// archives.
	DefaultHistoryDir = "./data/history"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultScanInterval is the default results-dir poll interval.
	DefaultScanInterval = "30s"

	// envPrefix is the prefix for environment variable overrides, e.g.
	// ROBOMETRICS_GLOBAL_LOG_LEVEL.
	envPrefix = "ROBOMETRICS"
)

// Config is the root configuration for robometrics.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`

	// Timezone pins the location attached to offset-less document
	// timestamps: an IANA name ("Europe/Sofia") or a fixed offset
	// ("+03:00"). Empty means the host's local location.
	Timezone string `yaml:"timezone,omitempty" mapstructure:"timezone"`
}

// IngestConfig configures the results watcher and parser.
type IngestConfig struct {
	// ResultsDirs are the directories scanned for output.xml documents.
	ResultsDirs []string `yaml:"results_dirs" mapstructure:"results_dirs"`

	// ScanInterval is how often the watcher polls, e.g. "30s".
	ScanInterval string `yaml:"scan_interval,omitempty" mapstructure:"scan_interval"`

	// Concurrency bounds how many results dirs are scanned in parallel.
	Concurrency int `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// StorageConfig contains run record and archive storage settings.
type StorageConfig struct {
	HistoryDir string          `yaml:"history_dir" mapstructure:"history_dir"`
	Index      *IndexConfig    `yaml:"index,omitempty" mapstructure:"index"`
	S3         *S3MirrorConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// IndexConfig configures the optional database-backed run index.
type IndexConfig struct {
	Enabled  bool           `yaml:"enabled" mapstructure:"enabled"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password,omitempty" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// S3MirrorConfig mirrors archived artifacts to S3-compatible storage.
type S3MirrorConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute,omitempty" mapstructure:"requests_per_minute"`
}

// Load reads the configuration file and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// AutomaticEnv only overrides keys viper already knows about, so
	// bind every key present in the file explicitly.
	for _, key := range v.AllKeys() {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("binding env for %q: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// Default returns a configuration populated with defaults only, used by
// `config init` and by callers running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if len(c.Ingest.ResultsDirs) == 0 {
		c.Ingest.ResultsDirs = []string{DefaultResultsDir}
	}

	if c.Ingest.ScanInterval == "" {
		c.Ingest.ScanInterval = DefaultScanInterval
	}

	if c.Storage.HistoryDir == "" {
		c.Storage.HistoryDir = DefaultHistoryDir
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerMinute == 0 {
		c.Server.RateLimit.RequestsPerMinute = 120
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := c.ParseTimezone(); err != nil {
		return err
	}

	if _, err := time.ParseDuration(c.Ingest.ScanInterval); err != nil {
		return fmt.Errorf("invalid scan_interval %q: %w",
			c.Ingest.ScanInterval, err)
	}

	if c.Ingest.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}

	if dir := filepath.Dir(c.Storage.HistoryDir); dir != "." && dir != ".." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf(
				"history directory parent %q does not exist", dir,
			)
		}
	}

	if c.Storage.Index != nil && c.Storage.Index.Enabled {
		switch c.Storage.Index.Database.Driver {
		case "sqlite":
			if c.Storage.Index.Database.SQLite.Path == "" {
				return fmt.Errorf("index: sqlite path is required")
			}
		case "postgres":
			if c.Storage.Index.Database.Postgres.Host == "" {
				return fmt.Errorf("index: postgres host is required")
			}
		default:
			return fmt.Errorf("index: unsupported database driver %q",
				c.Storage.Index.Database.Driver)
		}
	}

	if c.Storage.S3 != nil && c.Storage.S3.Enabled && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3: bucket is required")
	}

	return nil
}

// ParseTimezone resolves the configured timezone into a location. An
// empty setting yields the host's local location.
func (c *Config) ParseTimezone() (*time.Location, error) {
	tz := c.Global.Timezone
	if tz == "" {
		return time.Local, nil
	}

	if loc := parseFixedOffset(tz); loc != nil {
		return loc, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}

	return loc, nil
}

// parseFixedOffset handles "+HH:MM" / "-HH:MM" timezone values. Returns
// nil when the value is not a fixed offset.
func parseFixedOffset(tz string) *time.Location {
	if len(tz) != 6 || (tz[0] != '+' && tz[0] != '-') || tz[3] != ':' {
		return nil
	}

	ts, err := time.Parse("-07:00", tz)
	if err != nil {
		return nil
	}

	return ts.Location()
}
