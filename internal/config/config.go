// Package config loads and validates orchestrator and worker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLER_CRAWLER_MAX_LEVELS.
const EnvPrefix = "CRAWLER"

// Supported state store backends.
const (
	StateBackendFile   = "file"
	StateBackendMemory = "memory"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Debug   DebugConfig   `mapstructure:"debug"`
	State   StateConfig   `mapstructure:"state"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Storage StorageConfig `mapstructure:"storage"`
	Report  ReportConfig  `mapstructure:"report"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the orchestrator's crawl behavior.
type CrawlerConfig struct {
	MaxLevels         int           `mapstructure:"max_levels"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RateLimitDelay    time.Duration `mapstructure:"rate_limit_delay"`
	ExtractLinks      bool          `mapstructure:"extract_links"`
	MaxLinks          int           `mapstructure:"max_links"`
	AnalyzeContent    bool          `mapstructure:"analyze_content"`
	KeepQuery         bool          `mapstructure:"keep_query"`
	SameSiteOnly      bool          `mapstructure:"same_site_only"`
	AllowedDomains    []string      `mapstructure:"allowed_domains"`
	BlockedExtensions []string      `mapstructure:"blocked_extensions"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
}

// DebugConfig bounds a crawl for quick experiments.
type DebugConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MaxSublinks int  `mapstructure:"max_sublinks"`
	MaxURLs     int  `mapstructure:"max_urls"`
}

// StateConfig selects where orchestrator state lives.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// WorkerConfig covers both the orchestrator's view of the worker (endpoint)
// and the worker process itself.
type WorkerConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	Port          int           `mapstructure:"port"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes  int           `mapstructure:"max_body_bytes"`
}

// StorageConfig sets the blob backend for page artifacts and reports.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// ReportConfig places run reports in the blob store.
type ReportConfig struct {
	Prefix string `mapstructure:"prefix"`
}

// DBConfig controls the optional Postgres result export.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the optional completion notification target.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig exposes Prometheus collectors from the orchestrator. Port 0
// disables the listener.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from an optional file and the environment.
func Load(path string) (Config, error) {
	return LoadFrom(viper.New(), path)
}

// LoadFrom is Load on a caller-owned Viper, so CLI flags bound to v take part
// in the precedence chain.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.max_levels", 1)
	v.SetDefault("crawler.max_concurrency", 5)
	v.SetDefault("crawler.retry_attempts", 3)
	v.SetDefault("crawler.timeout", "15m")
	v.SetDefault("crawler.rate_limit_delay", "1s")
	v.SetDefault("crawler.extract_links", true)
	v.SetDefault("crawler.max_links", 0)
	v.SetDefault("crawler.analyze_content", true)
	v.SetDefault("crawler.keep_query", true)
	v.SetDefault("crawler.same_site_only", false)
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.blocked_extensions", crawler.DefaultBlockedExtensions)
	v.SetDefault("crawler.progress_interval", "10s")
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.max_sublinks", 5)
	v.SetDefault("debug.max_urls", 10)
	v.SetDefault("state.backend", StateBackendFile)
	v.SetDefault("state.dir", "crawler_data")
	v.SetDefault("worker.endpoint", "http://localhost:8081/v1/crawl")
	v.SetDefault("worker.port", 8081)
	v.SetDefault("worker.user_agent", "crawl-orchestrator/1.0")
	v.SetDefault("worker.respect_robots", true)
	v.SetDefault("worker.fetch_timeout", "30s")
	v.SetDefault("worker.max_body_bytes", 10<<20)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local_dir", "crawler_artifacts")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("report.prefix", "reports")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "crawl_results")
	v.SetDefault("db.runs_table", "crawl_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.port", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Crawler.MaxLevels >= 1, "crawler.max_levels must be >= 1")
	check(c.Crawler.MaxConcurrency >= 1, "crawler.max_concurrency must be >= 1")
	check(c.Crawler.RetryAttempts >= 0, "crawler.retry_attempts must be >= 0")
	check(c.Crawler.Timeout > 0, "crawler.timeout must be > 0")
	check(c.Crawler.RateLimitDelay >= 0, "crawler.rate_limit_delay must be >= 0")
	check(c.Crawler.MaxLinks >= 0, "crawler.max_links must be >= 0")
	check(c.Crawler.ProgressInterval >= 0, "crawler.progress_interval must be >= 0")
	if c.Debug.Enabled {
		check(c.Debug.MaxSublinks >= 1, "debug.max_sublinks must be >= 1 when debug is enabled")
		check(c.Debug.MaxURLs >= 1, "debug.max_urls must be >= 1 when debug is enabled")
	}

	switch c.State.Backend {
	case StateBackendFile:
		check(strings.TrimSpace(c.State.Dir) != "", "state.dir must be set for the file backend")
	case StateBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("state.backend %q is not one of file, memory", c.State.Backend))
	}

	switch c.Storage.Backend {
	case "local":
		check(strings.TrimSpace(c.Storage.LocalDir) != "", "storage.local_dir must be set for the local backend")
	case "gcs":
		check(c.Storage.GCSBucket != "", "storage.gcs_bucket must be set for the gcs backend")
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of local, gcs, memory", c.Storage.Backend))
	}

	check(c.Worker.Endpoint != "", "worker.endpoint must be set")
	check(c.Worker.Port > 0, "worker.port must be > 0")
	check(c.Worker.FetchTimeout > 0, "worker.fetch_timeout must be > 0")
	check(c.Metrics.Port >= 0, "metrics.port must be >= 0")
	if c.DB.DSN != "" {
		check(c.DB.Table != "", "db.table must be set when db.dsn is set")
	}
	if c.PubSub.ProjectID != "" {
		check(c.PubSub.TopicName != "", "pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return errors.Join(errs...)
}

// InvocationTimeoutSeconds is the worker-side budget sent with each request.
func (c CrawlerConfig) InvocationTimeoutSeconds() int {
	return int(c.Timeout / time.Second)
}
