// Package config loads and validates snapshotter configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xunniaona/RobloxServerListEndpoint/internal/crawler"
)

// EnvPrefix namespaces environment overrides, e.g. SERVERLIST_TARGET_PLACE_ID.
const EnvPrefix = "SERVERLIST"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Target  TargetConfig  `mapstructure:"target"`
	API     APIConfig     `mapstructure:"api"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Output  OutputConfig  `mapstructure:"output"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	DB      DBConfig      `mapstructure:"db"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TargetConfig names the listing being polled.
type TargetConfig struct {
	PlaceID int64 `mapstructure:"place_id"`
}

// APIConfig shapes each listing request.
type APIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	PageLimit        int           `mapstructure:"page_limit"`
	SortOrder        string        `mapstructure:"sort_order"`
	ExcludeFullGames bool          `mapstructure:"exclude_full_games"`
	UserAgent        string        `mapstructure:"user_agent"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BodyPreviewBytes int           `mapstructure:"body_preview_bytes"`
}

// CrawlConfig governs the page loop and retry budget.
type CrawlConfig struct {
	MaxPages         int           `mapstructure:"max_pages"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	RateLimitBackoff time.Duration `mapstructure:"rate_limit_backoff"`
	ErrorBackoff     time.Duration `mapstructure:"error_backoff"`
	PageDelay        time.Duration `mapstructure:"page_delay"`
}

// OutputConfig sets where the snapshot is written.
type OutputConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// ArchiveConfig toggles raw page archival.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls the run ledger.
type DBConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles OpenTelemetry spans around runs and page requests.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	ProjectID   string `mapstructure:"project_id"`
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
	order, _ := crawler.ParseSortOrder(cfg.API.SortOrder)
	cfg.API.SortOrder = string(order)

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.place_id", int64(109983668079237))
	v.SetDefault("api.base_url", "https://games.roblox.com")
	v.SetDefault("api.page_limit", 100)
	v.SetDefault("api.sort_order", string(crawler.SortDesc))
	v.SetDefault("api.exclude_full_games", false)
	v.SetDefault("api.user_agent", "serverlist-snapshotter/1.0")
	v.SetDefault("api.timeout", 15*time.Second)
	v.SetDefault("api.body_preview_bytes", 300)
	v.SetDefault("crawl.max_pages", 50)
	v.SetDefault("crawl.max_attempts", crawler.DefaultMaxAttempts)
	v.SetDefault("crawl.rate_limit_backoff", crawler.DefaultRateLimitBackoff)
	v.SetDefault("crawl.error_backoff", crawler.DefaultErrorBackoff)
	v.SetDefault("crawl.page_delay", crawler.DefaultPageDelay)
	v.SetDefault("output.snapshot_path", "server_list.json")
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dir", "raw_pages")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "snapshot_runs")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "serverlist")
	v.SetDefault("tracing.project_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Target.PlaceID <= 0 {
		return fmt.Errorf("target.place_id must be > 0")
	}
	base, err := url.Parse(c.API.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return fmt.Errorf("api.base_url must be an absolute http(s) url, got %q", c.API.BaseURL)
	}
	if c.API.PageLimit <= 0 {
		return fmt.Errorf("api.page_limit must be > 0")
	}
	if _, ok := crawler.ParseSortOrder(c.API.SortOrder); !ok {
		return fmt.Errorf("api.sort_order must be Asc or Desc, got %q", c.API.SortOrder)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.BodyPreviewBytes < 0 {
		return fmt.Errorf("api.body_preview_bytes must be >= 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.max_attempts must be > 0")
	}
	if c.Crawl.RateLimitBackoff <= 0 || c.Crawl.ErrorBackoff <= 0 {
		return fmt.Errorf("crawl backoffs must be > 0")
	}
	if c.Crawl.RateLimitBackoff <= c.Crawl.ErrorBackoff {
		return fmt.Errorf("crawl.rate_limit_backoff (%s) must exceed crawl.error_backoff (%s)",
			c.Crawl.RateLimitBackoff, c.Crawl.ErrorBackoff)
	}
	if c.Crawl.PageDelay < 0 {
		return fmt.Errorf("crawl delays must be >= 0")
	}
	if strings.TrimSpace(c.Output.SnapshotPath) == "" {
		return fmt.Errorf("output.snapshot_path must be set")
	}
	if c.Archive.Enabled && c.Archive.GCSBucket == "" && strings.TrimSpace(c.Archive.Dir) == "" {
		return fmt.Errorf("archive.dir must be set when archival is enabled without a gcs bucket")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.DB.DSN != "" && !validTableName.MatchString(c.DB.Table) {
		return fmt.Errorf("db.table %q is not a valid table name", c.DB.Table)
	}
	return nil
}

// CrawlerConfig maps the loaded settings onto the controller's run config.
func (c Config) CrawlerConfig() crawler.Config {
	order, _ := crawler.ParseSortOrder(c.API.SortOrder)
	return crawler.Config{
		PlaceID:          c.Target.PlaceID,
		PageLimit:        c.API.PageLimit,
		SortOrder:        order,
		ExcludeFullGames: c.API.ExcludeFullGames,
		MaxPages:         c.Crawl.MaxPages,
		PageDelay:        c.Crawl.PageDelay,
	}
}

// RetryPolicy builds the linear retry policy from the crawl settings.
func (c Config) RetryPolicy() *crawler.LinearRetryPolicy {
	return crawler.NewLinearRetryPolicy(c.Crawl.MaxAttempts, c.Crawl.RateLimitBackoff, c.Crawl.ErrorBackoff)
}
