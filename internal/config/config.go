package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Lock       LockConfig       `yaml:"lock" mapstructure:"lock"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Executor   ExecutorConfig   `yaml:"executor" mapstructure:"executor"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Intel      IntelConfig      `yaml:"intel" mapstructure:"intel"`
	Progress   ProgressConfig   `yaml:"progress" mapstructure:"progress"`
	Phases     PhasesConfig     `yaml:"phases" mapstructure:"phases"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	EDGAR      EDGARConfig      `yaml:"edgar" mapstructure:"edgar"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the session store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, postgres or sqlite
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LockConfig configures the execution lock manager.
type LockConfig struct {
	Backend     string      `yaml:"backend" mapstructure:"backend"` // memory, postgres or redis
	TTLMins     int         `yaml:"ttl_mins" mapstructure:"ttl_mins"`
	JanitorSecs int         `yaml:"janitor_secs" mapstructure:"janitor_secs"`
	Redis       RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// FetchConfig configures outbound page fetches.
type FetchConfig struct {
	UserAgent    string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst        int     `yaml:"burst" mapstructure:"burst"`
}

// BrowserConfig configures the headless browser behind the dynamic
// strategy. An empty Bin lets rod download or find a browser.
type BrowserConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Bin         string `yaml:"bin" mapstructure:"bin"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ExecutorConfig configures scraper runs.
type ExecutorConfig struct {
	DefaultScraper   string `yaml:"default_scraper" mapstructure:"default_scraper"`
	MaxURLs          int    `yaml:"max_urls" mapstructure:"max_urls"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	ConflictAttempts int    `yaml:"conflict_attempts" mapstructure:"conflict_attempts"`
}

// DiscoveryConfig configures URL discovery.
type DiscoveryConfig struct {
	MaxURLs       int      `yaml:"max_urls" mapstructure:"max_urls"`
	MaxCandidates int      `yaml:"max_candidates" mapstructure:"max_candidates"`
	CrawlDepth    int      `yaml:"crawl_depth" mapstructure:"crawl_depth"`
	CrawlPages    int      `yaml:"crawl_pages" mapstructure:"crawl_pages"`
	Concurrency   int      `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs   int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ExcludePaths  []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
}

// IntelConfig configures external intelligence enrichment.
type IntelConfig struct {
	SourceTimeoutSecs int     `yaml:"source_timeout_secs" mapstructure:"source_timeout_secs"`
	MaxAttempts       int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
	MaxAgeHours       int     `yaml:"max_age_hours" mapstructure:"max_age_hours"`
	RefreshThreshold  float64 `yaml:"refresh_threshold" mapstructure:"refresh_threshold"`
}

// ProgressConfig configures the progress hub.
type ProgressConfig struct {
	IdleTimeoutMins int `yaml:"idle_timeout_mins" mapstructure:"idle_timeout_mins"`
	HistoryLimit    int `yaml:"history_limit" mapstructure:"history_limit"`
	SweepSecs       int `yaml:"sweep_secs" mapstructure:"sweep_secs"`
}

// PhasesConfig points at optional phase-control presets.
type PhasesConfig struct {
	PresetsFile string `yaml:"presets_file" mapstructure:"presets_file"`
	Default     string `yaml:"default" mapstructure:"default"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// EDGARConfig holds SEC EDGAR settings. SEC requires a contact address in
// the user agent.
type EDGARConfig struct {
	UserAgent string `yaml:"user_agent" mapstructure:"user_agent"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	ExtractModel string `yaml:"extract_model" mapstructure:"extract_model"`
	ReportModel  string `yaml:"report_model" mapstructure:"report_model"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	HeartbeatSecs  int      `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
}

// MonitoringConfig configures the background session health checker.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	StaleAfterMins       int     `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	RecoverStale         bool    `yaml:"recover_stale" mapstructure:"recover_stale"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "research.db")
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl_mins", 30)
	v.SetDefault("lock.janitor_secs", 60)
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.prefix", "research:")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_body_bytes", 2<<20)
	v.SetDefault("fetch.rate_per_sec", 2.0)
	v.SetDefault("fetch.burst", 4)
	v.SetDefault("browser.timeout_secs", 30)
	v.SetDefault("executor.default_scraper", "auto")
	v.SetDefault("executor.max_urls", 100)
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.initial_backoff_ms", 500)
	v.SetDefault("executor.max_backoff_ms", 10000)
	v.SetDefault("executor.conflict_attempts", 4)
	v.SetDefault("discovery.max_urls", 100)
	v.SetDefault("discovery.max_candidates", 200)
	v.SetDefault("discovery.crawl_depth", 2)
	v.SetDefault("discovery.crawl_pages", 30)
	v.SetDefault("discovery.concurrency", 8)
	v.SetDefault("discovery.timeout_secs", 15)
	v.SetDefault("intel.source_timeout_secs", 45)
	v.SetDefault("intel.max_attempts", 2)
	v.SetDefault("intel.breaker_threshold", 5)
	v.SetDefault("intel.breaker_reset_secs", 30)
	v.SetDefault("intel.max_age_hours", 24)
	v.SetDefault("intel.refresh_threshold", 50.0)
	v.SetDefault("progress.idle_timeout_mins", 5)
	v.SetDefault("progress.history_limit", 500)
	v.SetDefault("progress.sweep_secs", 60)
	v.SetDefault("phases.default", "full")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("edgar.user_agent", "ResearchBot research@example.com")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.report_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.heartbeat_secs", 15)
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.stale_after_mins", 30)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.recover_stale", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode needs. Mode is one of "serve",
// "run" (CLI lifecycle commands) or "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "memory":
		if mode == "run" {
			errs = append(errs, "store.driver memory does not persist between CLI invocations")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be memory, postgres or sqlite")
	}

	switch c.Lock.Backend {
	case "memory":
	case "postgres":
		if c.Store.Driver != "postgres" {
			errs = append(errs, "lock.backend postgres requires store.driver postgres")
		}
	case "redis":
		if c.Lock.Redis.Addr == "" {
			errs = append(errs, "lock.redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, "lock.backend must be memory, postgres or redis")
	}

	if mode == "serve" || mode == "run" {
		if c.Intel.RefreshThreshold < 0 || c.Intel.RefreshThreshold > 100 {
			errs = append(errs, "intel.refresh_threshold must be between 0 and 100")
		}
		if c.Executor.MaxAttempts < 1 {
			errs = append(errs, "executor.max_attempts must be at least 1")
		}
	}

	if mode == "serve" {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Monitoring.Enabled && c.Monitoring.StaleAfterMins > 0 && c.Monitoring.StaleAfterMins < c.Lock.TTLMins {
			errs = append(errs, "monitoring.stale_after_mins must not be shorter than lock.ttl_mins")
		}
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// Seconds converts a whole-second setting to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
