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
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Search SearchConfig `yaml:"search" mapstructure:"search"`
	Queue  QueueConfig  `yaml:"queue" mapstructure:"queue"`
	PDF    PDFConfig    `yaml:"pdf" mapstructure:"pdf"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`

	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SearchConfig configures the clerk-site search client.
type SearchConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	SearchPath      string `yaml:"search_path" mapstructure:"search_path"`
	ResultsPath     string `yaml:"results_path" mapstructure:"results_path"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries         int    `yaml:"retries" mapstructure:"retries"`
	CacheTTLHours   int    `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	CacheCapacity   int    `yaml:"cache_capacity" mapstructure:"cache_capacity"`
	FallbackToken   string `yaml:"fallback_token" mapstructure:"fallback_token"`
	DefaultPageSize int    `yaml:"default_page_size" mapstructure:"default_page_size"`
	MaxPageSize     int    `yaml:"max_page_size" mapstructure:"max_page_size"`
}

// Timeout returns the search request timeout as a duration.
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheTTL returns the search-results cache TTL as a duration.
func (c SearchConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// QueueConfig configures the PDF processing queue.
type QueueConfig struct {
	MaxConcurrent       int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MinIntervalMillis   int `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	ReservoirSize       int `yaml:"reservoir_size" mapstructure:"reservoir_size"`
	ReservoirWindowSecs int `yaml:"reservoir_window_secs" mapstructure:"reservoir_window_secs"`
	ShutdownGraceSecs   int `yaml:"shutdown_grace_secs" mapstructure:"shutdown_grace_secs"`
}

// MinInterval returns the minimum spacing between job starts.
func (c QueueConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMillis) * time.Millisecond
}

// ReservoirWindow returns the reservoir refill window.
func (c QueueConfig) ReservoirWindow() time.Duration {
	return time.Duration(c.ReservoirWindowSecs) * time.Second
}

// ShutdownGrace returns how long Shutdown waits for in-flight jobs.
func (c QueueConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSecs) * time.Second
}

// PDFConfig configures PDF download and text extraction.
type PDFConfig struct {
	UserAgent              string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs            int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Retries                int    `yaml:"retries" mapstructure:"retries"`
	BufferCacheTTLMins     int    `yaml:"buffer_cache_ttl_mins" mapstructure:"buffer_cache_ttl_mins"`
	BufferCacheCapacity    int    `yaml:"buffer_cache_capacity" mapstructure:"buffer_cache_capacity"`
	ProcessedCacheTTLHours int    `yaml:"processed_cache_ttl_hours" mapstructure:"processed_cache_ttl_hours"`
	ProcessedCacheCapacity int    `yaml:"processed_cache_capacity" mapstructure:"processed_cache_capacity"`
	PdfToTextPath          string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// Timeout returns the PDF download timeout as a duration.
func (c PDFConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// BufferCacheTTL returns the raw-buffer cache TTL.
func (c PDFConfig) BufferCacheTTL() time.Duration {
	return time.Duration(c.BufferCacheTTLMins) * time.Minute
}

// ProcessedCacheTTL returns the processed-document cache TTL.
func (c PDFConfig) ProcessedCacheTTL() time.Duration {
	return time.Duration(c.ProcessedCacheTTLHours) * time.Hour
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DLQDepthThreshold    int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// CheckInterval returns how often the checker evaluates alerts.
func (c MonitoringConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSecs) * time.Second
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
	v.SetEnvPrefix("DISCLOSURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "disclosures.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("search.base_url", "https://disclosures-clerk.house.gov")
	v.SetDefault("search.search_path", "/FinancialDisclosure")
	v.SetDefault("search.results_path", "/FinancialDisclosure/ViewMemberSearchResult")
	v.SetDefault("search.timeout_secs", 30)
	v.SetDefault("search.retries", 3)
	v.SetDefault("search.cache_ttl_hours", 24)
	v.SetDefault("search.cache_capacity", 500)
	v.SetDefault("search.fallback_token", defaultVerificationToken)
	v.SetDefault("search.default_page_size", 100)
	v.SetDefault("search.max_page_size", 500)
	v.SetDefault("queue.max_concurrent", 5)
	v.SetDefault("queue.min_interval_ms", 500)
	v.SetDefault("queue.reservoir_size", 200)
	v.SetDefault("queue.reservoir_window_secs", 60)
	v.SetDefault("queue.shutdown_grace_secs", 30)
	v.SetDefault("pdf.user_agent", "disclosure-cli/1.0")
	v.SetDefault("pdf.timeout_secs", 30)
	v.SetDefault("pdf.retries", 3)
	v.SetDefault("pdf.buffer_cache_ttl_mins", 60)
	v.SetDefault("pdf.buffer_cache_capacity", 100)
	v.SetDefault("pdf.processed_cache_ttl_hours", 24)
	v.SetDefault("pdf.processed_cache_capacity", 500)
	v.SetDefault("pdf.pdftotext_path", "pdftotext")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.dlq_depth_threshold", 50)

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

// defaultVerificationToken is used when the CSRF token page cannot be
// scraped. The clerk site accepts stale tokens for anonymous searches.
const defaultVerificationToken = "CfDJ8PKifB2d25VIr5FlpzbdlcEZdfTWDxWUuOZ2A1-98XLjUMPzuurwBWeUoQqr7mucWaeZ1a0RbAoheaeOAkhh_kTlQ_J1N-alS0avVzMAJtuRype4dywmHOXJbNUAJZGXaMzanB3e00eKNf7YfP-p4HE"

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
