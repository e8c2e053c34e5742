// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix scopes environment overrides, e.g. HARVESTER_LLM_API_KEY.
const EnvPrefix = "HARVESTER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Filter   FilterConfig   `mapstructure:"filter"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Download DownloadConfig `mapstructure:"download"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Sorter   SorterConfig   `mapstructure:"sorter"`
	Stats    StatsConfig    `mapstructure:"stats"`
	Mapping  MappingConfig  `mapstructure:"mapping"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Taxonomy TaxonomyConfig `mapstructure:"taxonomy"`
}

// ServerConfig controls the operator API.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TreeDepth      int           `mapstructure:"tree_depth"`
}

// CrawlerConfig governs the crawl drivers and the page worker pool.
type CrawlerConfig struct {
	StartURLs       []string      `mapstructure:"start_urls"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	MaxDepth        int           `mapstructure:"max_depth"`
	MaxPages        int           `mapstructure:"max_pages"`
	UserAgent       string        `mapstructure:"user_agent"`
	AllowedDomains  []string      `mapstructure:"allowed_domains"`
	BlockedDomains  []string      `mapstructure:"blocked_domains"`
	Headless        bool          `mapstructure:"headless"`
	HeadlessMax     int           `mapstructure:"headless_max_parallel"`
	RenderThreshold int           `mapstructure:"render_threshold"`
	FileExtensions  []string      `mapstructure:"file_extensions"`
	GroupByHost     bool          `mapstructure:"group_by_host"`
	Delay           time.Duration `mapstructure:"delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RespectRobots   bool          `mapstructure:"respect_robots"`
}

// FilterConfig configures the relevance filter and its request window.
type FilterConfig struct {
	TargetSubjects    []string      `mapstructure:"target_subjects"`
	TargetGrades      []string      `mapstructure:"target_grades"`
	MinConfidence     float64       `mapstructure:"min_confidence"`
	EnableCaching     bool          `mapstructure:"enable_caching"`
	Retries           int           `mapstructure:"retries"`
	BatchSize         int           `mapstructure:"batch_size"`
	BatchPause        time.Duration `mapstructure:"batch_pause"`
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	CacheBackend      string        `mapstructure:"cache_backend"`
	CachePath         string        `mapstructure:"cache_path"`
}

// LLMConfig selects the classification service.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
}

// DownloadConfig controls binary acquisition.
type DownloadConfig struct {
	Root         string        `mapstructure:"root"`
	StagingDir   string        `mapstructure:"staging_dir"`
	FinishedDir  string        `mapstructure:"finished_dir"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PerDomainRPS float64       `mapstructure:"per_domain_rps"`
	MaxBytes     int64         `mapstructure:"max_bytes"`
}

// ArchiveConfig configures remote archival.
type ArchiveConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Backend      string `mapstructure:"backend"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	RootFolderID string `mapstructure:"root_folder_id"`
	AutoCleanup  bool   `mapstructure:"auto_cleanup"`
}

// SorterConfig configures classification sorting.
type SorterConfig struct {
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	ItemDelay           time.Duration `mapstructure:"item_delay"`
}

// StatsConfig selects where counters are persisted.
type StatsConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
}

// MappingConfig locates the file mapping ledger.
type MappingConfig struct {
	Path string `mapstructure:"path"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TaxonomyConfig points at an optional YAML override.
type TaxonomyConfig struct {
	Path string `mapstructure:"path"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is applied to the environment first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

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

// Every key gets a default, even an empty one, so AutomaticEnv can see it
// during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.tree_depth", 6)

	v.SetDefault("crawler.start_urls", []string{})
	v.SetDefault("crawler.max_concurrency", 5)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.user_agent", "edu-harvester/1.0 (+https://github.com/JakeFAU/edu-harvester)")
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.headless", false)
	v.SetDefault("crawler.headless_max_parallel", 2)
	v.SetDefault("crawler.render_threshold", 0)
	v.SetDefault("crawler.file_extensions", []string{"pdf", "doc", "docx", "ppt", "pptx", "xls", "xlsx", "zip"})
	v.SetDefault("crawler.group_by_host", false)
	v.SetDefault("crawler.delay", "1s")
	v.SetDefault("crawler.timeout", "30s")
	v.SetDefault("crawler.respect_robots", true)

	v.SetDefault("filter.target_subjects", []string{})
	v.SetDefault("filter.target_grades", []string{})
	v.SetDefault("filter.min_confidence", 0.6)
	v.SetDefault("filter.enable_caching", true)
	v.SetDefault("filter.retries", 3)
	v.SetDefault("filter.batch_size", 5)
	v.SetDefault("filter.batch_pause", "1s")
	v.SetDefault("filter.requests_per_window", 15)
	v.SetDefault("filter.window", "60s")
	v.SetDefault("filter.cache_backend", "memory")
	v.SetDefault("filter.cache_path", "data/decisions.db")

	v.SetDefault("llm.provider", "openrouter")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")

	v.SetDefault("download.root", "downloads")
	v.SetDefault("download.staging_dir", "incoming")
	v.SetDefault("download.finished_dir", "finished")
	v.SetDefault("download.timeout", "60s")
	v.SetDefault("download.per_domain_rps", 1.0)
	v.SetDefault("download.max_bytes", 200*1024*1024)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "gcs")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("archive.root_folder_id", "")
	v.SetDefault("archive.auto_cleanup", false)

	v.SetDefault("sorter.confidence_threshold", 0.8)
	v.SetDefault("sorter.item_delay", "2s")

	v.SetDefault("stats.backend", "file")
	v.SetDefault("stats.path", "data/stats.json")
	v.SetDefault("stats.dsn", "")
	v.SetDefault("stats.table", "harvester_stats")

	v.SetDefault("mapping.path", "data/file_mappings.json")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("logging.development", true)

	v.SetDefault("taxonomy.path", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxConcurrency <= 0 {
		return fmt.Errorf("crawler.max_concurrency must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	if c.Crawler.Headless && c.Crawler.HeadlessMax <= 0 {
		return fmt.Errorf("crawler.headless_max_parallel must be > 0 when headless is enabled")
	}
	if c.Filter.MinConfidence < 0 || c.Filter.MinConfidence > 1 {
		return fmt.Errorf("filter.min_confidence must be within [0,1]")
	}
	if c.Filter.RequestsPerWindow <= 0 {
		return fmt.Errorf("filter.requests_per_window must be > 0")
	}
	switch c.Filter.CacheBackend {
	case "memory":
	case "sqlite":
		if c.Filter.CachePath == "" {
			return fmt.Errorf("filter.cache_path must be set for the sqlite cache")
		}
	default:
		return fmt.Errorf("filter.cache_backend %q is not supported", c.Filter.CacheBackend)
	}
	if c.LLM.Provider != "openrouter" {
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}
	if c.Download.Root == "" {
		return fmt.Errorf("download.root must be set")
	}
	if c.Download.PerDomainRPS < 0 {
		return fmt.Errorf("download.per_domain_rps must be >= 0")
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "memory":
		case "gcs":
			if c.Archive.Bucket == "" {
				return fmt.Errorf("archive.bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
		}
	}
	if c.Sorter.ConfidenceThreshold <= 0 || c.Sorter.ConfidenceThreshold > 1 {
		return fmt.Errorf("sorter.confidence_threshold must be within (0,1]")
	}
	switch c.Stats.Backend {
	case "file", "memory":
	case "postgres":
		if c.Stats.DSN == "" {
			return fmt.Errorf("stats.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("stats.backend %q is not supported", c.Stats.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ServerAddr returns the listen address for the operator API.
func (c Config) ServerAddr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
