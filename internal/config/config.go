// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gov-crawler/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. GOVCRAWLER_DB_DSN.
const EnvPrefix = "GOVCRAWLER"

// Database and blob drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverLocal    = "local"
	DriverGCS      = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Sitemap    SitemapConfig    `mapstructure:"sitemap"`
	Dedup      DedupConfig      `mapstructure:"dedup"`
	DB         DBConfig         `mapstructure:"db"`
	Blob       BlobConfig       `mapstructure:"blob"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig governs the scheduler and page pipeline.
type CrawlerConfig struct {
	Seeds            []string `mapstructure:"seeds"`
	Workers          int      `mapstructure:"workers"`
	DelayMs          int      `mapstructure:"delay_ms"`
	MaxPages         int      `mapstructure:"max_pages"`
	MaxLevel         int      `mapstructure:"max_level"`
	MaxPathDepth     int      `mapstructure:"max_path_depth"`
	AllowedDomains   []string `mapstructure:"allowed_domains"`
	UserAgent        string   `mapstructure:"user_agent"`
	DownloadFiles    bool     `mapstructure:"download_files"`
	ParseJSRedirects bool     `mapstructure:"parse_js_redirects"`
	RenderMode       string   `mapstructure:"render_mode"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int `mapstructure:"max_body_bytes"`
}

// PolitenessConfig configures robots handling.
type PolitenessConfig struct {
	DefaultCrawlDelayMs int `mapstructure:"default_crawl_delay_ms"`
}

// SitemapConfig configures sitemap resolution.
type SitemapConfig struct {
	Nested       bool `mapstructure:"nested"`
	MaxDocuments int  `mapstructure:"max_documents"`
}

// DedupConfig configures the LSH near-duplicate detector.
type DedupConfig struct {
	ShingleLength  int     `mapstructure:"shingle_length"`
	HashFunctions  int     `mapstructure:"hash_functions"`
	Bands          int     `mapstructure:"bands"`
	Seed           uint64  `mapstructure:"seed"`
	Threshold      float64 `mapstructure:"threshold"`
	VocabularyPath string  `mapstructure:"vocabulary_path"`
}

// DBConfig selects and configures the crawl database.
type DBConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// BlobConfig selects where binary documents are written.
type BlobConfig struct {
	Driver    string `mapstructure:"driver"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds page-event notification settings. An empty topic disables
// publishing; a topic without a project keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// HeadlessConfig configures the browser renderer.
type HeadlessConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	MaxParallel        int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds  int    `mapstructure:"nav_timeout_seconds"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
	ExecPath           string `mapstructure:"exec_path"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
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
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.delay_ms", 1000)
	v.SetDefault("crawler.max_pages", 50000)
	v.SetDefault("crawler.max_level", 0)
	v.SetDefault("crawler.max_path_depth", crawler.MaxPathDepth)
	v.SetDefault("crawler.allowed_domains", []string{"gov.si"})
	v.SetDefault("crawler.user_agent", "gov-crawler/0.1")
	v.SetDefault("crawler.download_files", false)
	v.SetDefault("crawler.parse_js_redirects", false)
	v.SetDefault("crawler.render_mode", string(crawler.RenderNever))
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("politeness.default_crawl_delay_ms", 3000)
	v.SetDefault("sitemap.nested", true)
	v.SetDefault("sitemap.max_documents", 50)
	v.SetDefault("dedup.shingle_length", 3)
	v.SetDefault("dedup.hash_functions", 20)
	v.SetDefault("dedup.bands", 5)
	v.SetDefault("dedup.seed", 42)
	v.SetDefault("dedup.threshold", 0.9)
	v.SetDefault("dedup.vocabulary_path", "")
	v.SetDefault("db.driver", DriverMemory)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate", true)
	v.SetDefault("blob.driver", DriverMemory)
	v.SetDefault("blob.base_dir", "data/blobs")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if len(c.Crawler.Seeds) == 0 {
		errs = append(errs, errors.New("crawler.seeds must not be empty"))
	}
	if c.Crawler.Workers <= 0 {
		errs = append(errs, errors.New("crawler.workers must be > 0"))
	}
	if c.Crawler.DelayMs < 0 {
		errs = append(errs, errors.New("crawler.delay_ms must be >= 0"))
	}
	if c.Crawler.MaxPages <= 0 {
		errs = append(errs, errors.New("crawler.max_pages must be > 0"))
	}
	if mode, err := crawler.ParseRenderMode(c.Crawler.RenderMode); err != nil {
		errs = append(errs, fmt.Errorf("crawler.render_mode: %w", err))
	} else if mode != crawler.RenderNever && !c.Headless.Enabled {
		errs = append(errs, fmt.Errorf("crawler.render_mode %q requires headless.enabled", mode))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("http.timeout_seconds must be > 0"))
	}
	if c.Dedup.Bands <= 0 {
		errs = append(errs, errors.New("dedup.bands must be > 0"))
	} else if c.Dedup.HashFunctions <= 0 || c.Dedup.HashFunctions%c.Dedup.Bands != 0 {
		errs = append(errs, fmt.Errorf("dedup.hash_functions (%d) must be a positive multiple of dedup.bands (%d)",
			c.Dedup.HashFunctions, c.Dedup.Bands))
	}
	if c.Dedup.ShingleLength <= 0 {
		errs = append(errs, errors.New("dedup.shingle_length must be > 0"))
	}
	switch c.DB.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.DSN == "" {
			errs = append(errs, errors.New("db.dsn is required for the postgres driver"))
		}
		if int(c.DB.MaxConns) < c.Crawler.Workers {
			errs = append(errs, fmt.Errorf("db.max_conns (%d) must be at least crawler.workers (%d)",
				c.DB.MaxConns, c.Crawler.Workers))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown db.driver %q", c.DB.Driver))
	}
	switch c.Blob.Driver {
	case DriverMemory:
	case DriverLocal:
		if c.Blob.BaseDir == "" {
			errs = append(errs, errors.New("blob.base_dir is required for the local driver"))
		}
	case DriverGCS:
		if c.Blob.GCSBucket == "" {
			errs = append(errs, errors.New("blob.gcs_bucket is required for the gcs driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob.driver %q", c.Blob.Driver))
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		errs = append(errs, errors.New("headless.max_parallel must be > 0 when headless is enabled"))
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	return errors.Join(errs...)
}

// Delay is the pause between two pages handled by the same worker.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// FetchTimeout bounds a single page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DefaultCrawlDelay applies to origins whose robots document declares no crawl-delay.
func (c Config) DefaultCrawlDelay() time.Duration {
	return time.Duration(c.Politeness.DefaultCrawlDelayMs) * time.Millisecond
}

// NavTimeout bounds a single browser render.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// ConnLifetime is the maximum lifetime of a pooled database connection.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeMinutes) * time.Minute
}
