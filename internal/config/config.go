// Package config loads application configuration and initializes logging.
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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Scoring ScoringConfig `yaml:"scoring" mapstructure:"scoring"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Alert   AlertConfig   `yaml:"alert" mapstructure:"alert"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// IngestConfig configures the ingestion engine and source defaults.
type IngestConfig struct {
	SourcesFile          string `yaml:"sources_file" mapstructure:"sources_file"`
	MaxConcurrentSources int    `yaml:"max_concurrent_sources" mapstructure:"max_concurrent_sources"`
	UserAgent            string `yaml:"user_agent" mapstructure:"user_agent"`
	FetchTimeoutSecs     int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	MaxRetries           int    `yaml:"max_retries" mapstructure:"max_retries"`
	DefaultPageSize      int    `yaml:"default_page_size" mapstructure:"default_page_size"`
	DefaultLookbackDays  int    `yaml:"default_lookback_days" mapstructure:"default_lookback_days"`
	DefaultOverlapSecs   int    `yaml:"default_overlap_secs" mapstructure:"default_overlap_secs"`
	TempDir              string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// FetchTimeout returns the per-request timeout as a duration.
func (c IngestConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// DefaultLookback returns the first-run fallback window as a duration.
func (c IngestConfig) DefaultLookback() time.Duration {
	return time.Duration(c.DefaultLookbackDays) * 24 * time.Hour
}

// DefaultOverlap returns the watermark overlap buffer as a duration.
func (c IngestConfig) DefaultOverlap() time.Duration {
	return time.Duration(c.DefaultOverlapSecs) * time.Second
}

// ScoringConfig holds the lead scoring weights and rule tables.
// Raw component points are capped per component, then multiplied by the
// component weight; the weighted sum is clamped to [0,100].
type ScoringConfig struct {
	RecencyWeight     float64 `yaml:"recency_weight" mapstructure:"recency_weight"`
	TradeWeight       float64 `yaml:"trade_weight" mapstructure:"trade_weight"`
	ValueWeight       float64 `yaml:"value_weight" mapstructure:"value_weight"`
	PropertyAgeWeight float64 `yaml:"property_age_weight" mapstructure:"property_age_weight"`
	OwnerTypeWeight   float64 `yaml:"owner_type_weight" mapstructure:"owner_type_weight"`

	// RecencyMaxAgeDays is the age ceiling beyond which recency scores zero.
	RecencyMaxAgeDays int `yaml:"recency_max_age_days" mapstructure:"recency_max_age_days"`

	// HighValueTrades maps trade tags to raw points (capped at 25).
	HighValueTrades map[string]float64 `yaml:"high_value_trades" mapstructure:"high_value_trades"`

	// Score label thresholds.
	HotThreshold  int `yaml:"hot_threshold" mapstructure:"hot_threshold"`
	WarmThreshold int `yaml:"warm_threshold" mapstructure:"warm_threshold"`
}

// ServerConfig configures the lead read API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// AlertConfig configures operator alerting.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`

	// FailureRateThreshold is the failed/finished run ratio above which a
	// failure-rate alert fires.
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	// QuarantineThreshold is the quarantined-record count within the
	// lookback window above which an alert fires.
	QuarantineThreshold int64 `yaml:"quarantine_threshold" mapstructure:"quarantine_threshold"`

	CheckIntervalSecs   int `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours int `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
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
	v.SetEnvPrefix("PERMITS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("ingest.sources_file", "sources.yaml")
	v.SetDefault("ingest.max_concurrent_sources", 4)
	v.SetDefault("ingest.user_agent", "permit-leads/1.0")
	v.SetDefault("ingest.fetch_timeout_secs", 30)
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.default_page_size", 1000)
	v.SetDefault("ingest.default_lookback_days", 7)
	v.SetDefault("ingest.default_overlap_secs", 60)
	v.SetDefault("ingest.temp_dir", "/tmp/permit-leads")
	v.SetDefault("scoring.recency_weight", 3)
	v.SetDefault("scoring.trade_weight", 2)
	v.SetDefault("scoring.value_weight", 2)
	v.SetDefault("scoring.property_age_weight", 1)
	v.SetDefault("scoring.owner_type_weight", 1)
	v.SetDefault("scoring.recency_max_age_days", 180)
	v.SetDefault("scoring.high_value_trades", map[string]float64{
		"roofing":          25,
		"kitchen_remodel":  22,
		"bathroom_remodel": 20,
		"hvac":             20,
		"pool_spa":         18,
		"solar":            15,
		"windows_doors":    12,
		"electrical":       10,
		"plumbing":         10,
	})
	v.SetDefault("scoring.hot_threshold", 70)
	v.SetDefault("scoring.warm_threshold", 40)
	v.SetDefault("alert.failure_rate_threshold", 0.5)
	v.SetDefault("alert.quarantine_threshold", 500)
	v.SetDefault("alert.check_interval_secs", 300)
	v.SetDefault("alert.lookback_window_hours", 24)

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
