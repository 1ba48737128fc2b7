// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Logging       LoggingConfig       `mapstructure:"logging"`
	Channel       ChannelConfig       `mapstructure:"channel"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Browser       BrowserConfig       `mapstructure:"browser"`
	Transcript    TranscriptConfig    `mapstructure:"transcript"`
	Fallback      FallbackConfig      `mapstructure:"fallback"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Manifest      ManifestConfig      `mapstructure:"manifest"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
	API           APIConfig           `mapstructure:"api"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	YouTube       YouTubeConfig       `mapstructure:"youtube"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ChannelConfig describes how handles are validated and resolved.
type ChannelConfig struct {
	Sigil   string `mapstructure:"sigil"`
	BaseURL string `mapstructure:"base_url"`
}

// CrawlerConfig governs the crawl loop.
type CrawlerConfig struct {
	JobCap        int  `mapstructure:"job_cap"`
	FollowRelated bool `mapstructure:"follow_related"`
	RelatedLimit  int  `mapstructure:"related_limit"`
}

// RateLimitConfig bounds the randomized delay between jobs.
type RateLimitConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// BrowserConfig configures the headless Chrome collaborator. Discovery
// always uses the browser; Enabled toggles the rendered transcript strategy.
type BrowserConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Headless      bool          `mapstructure:"headless"`
	UserAgent     string        `mapstructure:"user_agent"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	ScrollPause   time.Duration `mapstructure:"scroll_pause"`
	MaxScrolls    int           `mapstructure:"max_scrolls"`
	NavigationQPS float64       `mapstructure:"navigation_qps"`
}

// TranscriptConfig selects the structured transcript source.
type TranscriptConfig struct {
	Source       string        `mapstructure:"source"`
	Command      string        `mapstructure:"command"`
	Args         []string      `mapstructure:"args"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Language     string        `mapstructure:"language"`
	TimedtextURL string        `mapstructure:"timedtext_url"`
}

// FallbackConfig configures the external extraction tool.
type FallbackConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Command string        `mapstructure:"command"`
	Args    []string      `mapstructure:"args"`
	Mode    string        `mapstructure:"mode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig sets where artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	Dir       string `mapstructure:"dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	Extension string `mapstructure:"extension"`
}

// ManifestConfig selects the optional completion manifest.
type ManifestConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ConsolidationConfig names the merged output file.
type ConsolidationConfig struct {
	Output string `mapstructure:"output"`
}

// ShutdownConfig bounds graceful shutdown.
type ShutdownConfig struct {
	DrainTimeout       time.Duration `mapstructure:"drain_timeout"`
	AbortGrace         time.Duration `mapstructure:"abort_grace"`
	ResolveTimeout     time.Duration `mapstructure:"resolve_timeout"`
	ConsolidateTimeout time.Duration `mapstructure:"consolidate_timeout"`
}

// APIConfig enables the status server.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// MetricsConfig controls the end-of-run metrics dump.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// PubSubConfig holds metadata for artifact notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// YouTubeConfig carries credentials that are loaded but not used by the
// crawler itself.
type YouTubeConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("youtube.api_key", "CRAWLER_YOUTUBE_API_KEY", "YOUTUBE_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind youtube.api_key: %w", err)
	}

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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("channel.sigil", "@")
	v.SetDefault("channel.base_url", "https://www.youtube.com")
	v.SetDefault("crawler.job_cap", 100)
	v.SetDefault("crawler.follow_related", false)
	v.SetDefault("crawler.related_limit", 10)
	v.SetDefault("ratelimit.min_delay", 11*time.Second)
	v.SetDefault("ratelimit.max_delay", 73*time.Second)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.nav_timeout", 45*time.Second)
	v.SetDefault("browser.probe_timeout", 5*time.Second)
	v.SetDefault("browser.settle_delay", time.Second)
	v.SetDefault("browser.scroll_pause", 2*time.Second)
	v.SetDefault("browser.max_scrolls", 200)
	v.SetDefault("browser.navigation_qps", 0.0)
	v.SetDefault("transcript.source", "process")
	v.SetDefault("transcript.command", "python3")
	v.SetDefault("transcript.args", []string{})
	v.SetDefault("transcript.timeout", 60*time.Second)
	v.SetDefault("transcript.language", "en")
	v.SetDefault("transcript.timedtext_url", "https://www.youtube.com/api/timedtext")
	v.SetDefault("fallback.enabled", false)
	v.SetDefault("fallback.command", "")
	v.SetDefault("fallback.args", []string{})
	v.SetDefault("fallback.mode", "video_id")
	v.SetDefault("fallback.timeout", 120*time.Second)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "TRANSCRIPTIONS")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.extension", ".txt")
	v.SetDefault("manifest.backend", "none")
	v.SetDefault("manifest.path", "manifest.db")
	v.SetDefault("manifest.dsn", "")
	v.SetDefault("manifest.table", "transcript_manifest")
	v.SetDefault("manifest.max_conns", 4)
	v.SetDefault("consolidation.output", "consolidated_transcripts.jsonl")
	v.SetDefault("shutdown.drain_timeout", 3*time.Minute)
	v.SetDefault("shutdown.abort_grace", 30*time.Second)
	v.SetDefault("shutdown.resolve_timeout", 5*time.Minute)
	v.SetDefault("shutdown.consolidate_timeout", 2*time.Minute)
	v.SetDefault("api.listen_addr", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("youtube.api_key", "")
}

// Validate enforces required values and reasonable limits.
//
//nolint:gocyclo // flat list of independent checks
func (c Config) Validate() error {
	if strings.TrimSpace(c.Channel.Sigil) == "" {
		return fmt.Errorf("channel.sigil must be set")
	}
	if strings.TrimSpace(c.Channel.BaseURL) == "" {
		return fmt.Errorf("channel.base_url must be set")
	}
	if c.Crawler.JobCap <= 0 {
		return fmt.Errorf("crawler.job_cap must be > 0")
	}
	if c.Crawler.RelatedLimit < 0 {
		return fmt.Errorf("crawler.related_limit must be >= 0")
	}
	if c.RateLimit.MinDelay < 0 {
		return fmt.Errorf("ratelimit.min_delay must be >= 0")
	}
	if c.RateLimit.MaxDelay < c.RateLimit.MinDelay {
		return fmt.Errorf("ratelimit.max_delay must be >= ratelimit.min_delay")
	}
	if c.Browser.NavigationQPS < 0 {
		return fmt.Errorf("browser.navigation_qps must be >= 0")
	}
	switch c.Transcript.Source {
	case "process":
		if strings.TrimSpace(c.Transcript.Command) == "" {
			return fmt.Errorf("transcript.command must be set when transcript.source is process")
		}
	case "timedtext":
		if strings.TrimSpace(c.Transcript.TimedtextURL) == "" {
			return fmt.Errorf("transcript.timedtext_url must be set when transcript.source is timedtext")
		}
	default:
		return fmt.Errorf("transcript.source must be process or timedtext, got %q", c.Transcript.Source)
	}
	if c.Transcript.Timeout <= 0 {
		return fmt.Errorf("transcript.timeout must be > 0")
	}
	if c.Fallback.Enabled {
		if strings.TrimSpace(c.Fallback.Command) == "" {
			return fmt.Errorf("fallback.command must be set when fallback is enabled")
		}
		if c.Fallback.Mode != "video_id" && c.Fallback.Mode != "snapshot" {
			return fmt.Errorf("fallback.mode must be video_id or snapshot, got %q", c.Fallback.Mode)
		}
	}
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return fmt.Errorf("storage.dir must be set for the local backend")
		}
	case "gcs":
		if strings.TrimSpace(c.Storage.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be local, gcs, or memory, got %q", c.Storage.Backend)
	}
	switch c.Manifest.Backend {
	case "none", "":
	case "sqlite":
		if strings.TrimSpace(c.Manifest.Path) == "" {
			return fmt.Errorf("manifest.path must be set for the sqlite manifest")
		}
	case "postgres":
		if strings.TrimSpace(c.Manifest.DSN) == "" {
			return fmt.Errorf("manifest.dsn must be set for the postgres manifest")
		}
	default:
		return fmt.Errorf("manifest.backend must be none, sqlite, or postgres, got %q", c.Manifest.Backend)
	}
	if strings.TrimSpace(c.Consolidation.Output) == "" {
		return fmt.Errorf("consolidation.output must be set")
	}
	if c.Shutdown.DrainTimeout <= 0 {
		return fmt.Errorf("shutdown.drain_timeout must be > 0")
	}
	if c.Shutdown.AbortGrace < 0 || c.Shutdown.ResolveTimeout < 0 || c.Shutdown.ConsolidateTimeout < 0 {
		return fmt.Errorf("shutdown timeouts must not be negative")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic is set")
	}
	return nil
}

// ChannelURL joins the base url and a handle.
func (c Config) ChannelURL(handle string) string {
	return strings.TrimRight(c.Channel.BaseURL, "/") + "/" + strings.TrimLeft(handle, "/")
}
