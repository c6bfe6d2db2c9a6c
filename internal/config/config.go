// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/crawler"
)

// AppName names the XDG data directory.
const AppName = "arcgis-catalog-crawler"

// Sink drivers.
const (
	SinkFile     = "file"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Input   InputConfig   `mapstructure:"input"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Sink    SinkConfig    `mapstructure:"sink"`
	DB      DBConfig      `mapstructure:"db"`
	Export  ExportConfig  `mapstructure:"export"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// InputConfig locates the root list.
type InputConfig struct {
	RootsFile string `mapstructure:"roots_file"`
}

// CrawlerConfig governs catalog traversal.
type CrawlerConfig struct {
	Workers              int      `mapstructure:"workers"`
	Concurrency          int64    `mapstructure:"concurrency"`
	MaxFolderDepth       int      `mapstructure:"max_folder_depth"`
	AllowedServiceTypes  []string `mapstructure:"allowed_service_types"`
	AllowedGeometryTypes []string `mapstructure:"allowed_geometry_types"`
	KeepUnknownGeometry  bool     `mapstructure:"keep_unknown_geometry"`
}

// HTTPConfig configures the fetch client and its retry behavior.
type HTTPConfig struct {
	UserAgent      string             `mapstructure:"user_agent"`
	RequestTimeout time.Duration      `mapstructure:"request_timeout"`
	MaxAttempts    int                `mapstructure:"max_attempts"`
	RetryDelay     time.Duration      `mapstructure:"retry_delay"`
	Backoff        string             `mapstructure:"backoff"`
	BackoffMax     time.Duration      `mapstructure:"backoff_max"`
	MaxBodyBytes   int                `mapstructure:"max_body_bytes"`
	RatePerHost    float64            `mapstructure:"rate_per_host"`
	Burst          int                `mapstructure:"burst"`
	HostRates      map[string]float64 `mapstructure:"host_rates"`
	Headers        map[string]string  `mapstructure:"headers"`
}

// SinkConfig selects where records and checkpoints are persisted.
type SinkConfig struct {
	Driver         string `mapstructure:"driver"`
	RecordsPath    string `mapstructure:"records_path"`
	CheckpointPath string `mapstructure:"checkpoint_path"`
	SQLitePath     string `mapstructure:"sqlite_path"`
}

// DBConfig controls access to Postgres when sink.driver is postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	RecordsTable    string        `mapstructure:"records_table"`
	CheckpointTable string        `mapstructure:"checkpoint_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ExportConfig sets the blob target of the export command.
type ExportConfig struct {
	Driver       string `mapstructure:"driver"`
	Dir          string `mapstructure:"dir"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

// NotifyConfig holds metadata for root completion notices.
type NotifyConfig struct {
	Driver       string `mapstructure:"driver"`
	Topic        string `mapstructure:"topic"`
	ProjectID    string `mapstructure:"project_id"`
	Brokers      string `mapstructure:"brokers"`
	MaxAttempts  int    `mapstructure:"max_attempts"`
	RequiredAcks int    `mapstructure:"required_acks"`
}

// ServerConfig enables the status server when Addr is set.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DataDir is where file-backed state lives unless configured otherwise.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func setDefaults(v *viper.Viper) {
	data := DataDir()
	v.SetDefault("input.roots_file", "")
	v.SetDefault("crawler.workers", 8)
	v.SetDefault("crawler.concurrency", crawler.DefaultConcurrency)
	v.SetDefault("crawler.max_folder_depth", 0)
	v.SetDefault("crawler.allowed_service_types", crawler.DefaultServiceTypes)
	v.SetDefault("crawler.allowed_geometry_types", crawler.DefaultGeometryTypes)
	v.SetDefault("crawler.keep_unknown_geometry", false)
	v.SetDefault("http.user_agent", "arcgis-catalog-crawler/0.1")
	v.SetDefault("http.request_timeout", crawler.DefaultRequestTimeout)
	v.SetDefault("http.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("http.retry_delay", crawler.DefaultRetryDelay)
	v.SetDefault("http.backoff", "fixed")
	v.SetDefault("http.backoff_max", 30*time.Second)
	v.SetDefault("http.max_body_bytes", 32<<20)
	v.SetDefault("http.rate_per_host", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("sink.driver", SinkFile)
	v.SetDefault("sink.records_path", filepath.Join(data, "records.ndjson"))
	v.SetDefault("sink.checkpoint_path", filepath.Join(data, "checkpoint.txt"))
	v.SetDefault("sink.sqlite_path", filepath.Join(data, "catalog.db"))
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("export.driver", "local")
	v.SetDefault("export.dir", filepath.Join(data, "exports"))
	v.SetDefault("notify.driver", "none")
	v.SetDefault("notify.topic", "catalog-roots")
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.required_acks", 1)
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxFolderDepth < 0 {
		return fmt.Errorf("crawler.max_folder_depth must be >= 0")
	}
	if len(c.Crawler.AllowedServiceTypes) == 0 {
		return fmt.Errorf("crawler.allowed_service_types must not be empty")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.RetryDelay < 0 {
		return fmt.Errorf("http.retry_delay must be >= 0")
	}
	switch c.HTTP.Backoff {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("http.backoff must be fixed or exponential, got %q", c.HTTP.Backoff)
	}
	switch c.Sink.Driver {
	case SinkFile:
		if c.Sink.RecordsPath == "" || c.Sink.CheckpointPath == "" {
			return fmt.Errorf("sink.records_path and sink.checkpoint_path are required for the file sink")
		}
	case SinkSQLite:
		if c.Sink.SQLitePath == "" {
			return fmt.Errorf("sink.sqlite_path is required for the sqlite sink")
		}
	case SinkPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres sink")
		}
	case SinkMemory:
	default:
		return fmt.Errorf("unknown sink.driver %q", c.Sink.Driver)
	}
	switch c.Export.Driver {
	case "local":
	case "gcs", "s3":
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket is required for the %s export driver", c.Export.Driver)
		}
	default:
		return fmt.Errorf("unknown export.driver %q", c.Export.Driver)
	}
	switch c.Notify.Driver {
	case "none", "memory":
	case "pubsub":
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for pubsub")
		}
	case "kafka":
		if c.Notify.Brokers == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.brokers and notify.topic are required for kafka")
		}
	default:
		return fmt.Errorf("unknown notify.driver %q", c.Notify.Driver)
	}
	return nil
}

// ClientConfig converts HTTP settings into the fetch client's config.
func (c Config) ClientConfig() crawler.ClientConfig {
	headers := make(http.Header, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		headers.Set(k, v)
	}
	return crawler.ClientConfig{
		RequestTimeout: c.HTTP.RequestTimeout,
		Concurrency:    c.Crawler.Concurrency,
		Headers:        headers,
	}
}

// RetryPolicy builds the configured retry policy.
func (c Config) RetryPolicy() crawler.RetryPolicy {
	if c.HTTP.Backoff == "exponential" {
		return crawler.NewExponentialRetryPolicy(c.HTTP.MaxAttempts, c.HTTP.RetryDelay, c.HTTP.BackoffMax)
	}
	return crawler.NewFixedRetryPolicy(c.HTTP.MaxAttempts, c.HTTP.RetryDelay)
}

// WalkerConfig converts crawler settings into the walker's config.
func (c Config) WalkerConfig() crawler.WalkerConfig {
	return crawler.WalkerConfig{
		Workers:        c.Crawler.Workers,
		ServiceTypes:   c.Crawler.AllowedServiceTypes,
		Geometry:       crawler.NewGeometryPolicy(c.Crawler.AllowedGeometryTypes, c.Crawler.KeepUnknownGeometry),
		MaxFolderDepth: c.Crawler.MaxFolderDepth,
	}
}
