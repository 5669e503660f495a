package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Adjudication AdjudicationConfig `yaml:"adjudication" mapstructure:"adjudication"`
	Events       EventsConfig       `yaml:"events" mapstructure:"events"`
	Plan         PlanConfig         `yaml:"plan" mapstructure:"plan"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Report       ReportConfig       `yaml:"report" mapstructure:"report"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSOrigins        []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AdjudicationConfig bounds the engine's retries, waits and concurrency.
type AdjudicationConfig struct {
	MaxCommitAttempts   int `yaml:"max_commit_attempts" mapstructure:"max_commit_attempts"`
	CommitBackoffMs     int `yaml:"commit_backoff_ms" mapstructure:"commit_backoff_ms"`
	CommitMaxBackoffMs  int `yaml:"commit_max_backoff_ms" mapstructure:"commit_max_backoff_ms"`
	LockTimeoutMs       int `yaml:"lock_timeout_ms" mapstructure:"lock_timeout_ms"`
	LineParallelism     int `yaml:"line_parallelism" mapstructure:"line_parallelism"`
	MaxConcurrentClaims int `yaml:"max_concurrent_claims" mapstructure:"max_concurrent_claims"`
}

// CommitBackoff returns the initial commit retry backoff.
func (a AdjudicationConfig) CommitBackoff() time.Duration {
	return time.Duration(a.CommitBackoffMs) * time.Millisecond
}

// CommitMaxBackoff returns the commit retry backoff ceiling.
func (a AdjudicationConfig) CommitMaxBackoff() time.Duration {
	return time.Duration(a.CommitMaxBackoffMs) * time.Millisecond
}

// LockTimeout returns the accumulator lock wait bound.
func (a AdjudicationConfig) LockTimeout() time.Duration {
	return time.Duration(a.LockTimeoutMs) * time.Millisecond
}

// EventsConfig configures event publication. An empty webhook URL logs
// events only.
type EventsConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst              int     `yaml:"burst" mapstructure:"burst"`
	RetryAttempts      int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	CircuitThreshold   int     `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs   int     `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	DLQMaxRetries      int     `yaml:"dlq_max_retries" mapstructure:"dlq_max_retries"`
	DLQReplayBatchSize int     `yaml:"dlq_replay_batch_size" mapstructure:"dlq_replay_batch_size"`
}

// PlanConfig names the reference data files loaded by the CLI.
type PlanConfig struct {
	RulesFile    string `yaml:"rules_file" mapstructure:"rules_file"`
	CoverageFile string `yaml:"coverage_file" mapstructure:"coverage_file"`
}

// MonitoringConfig configures the background health checker.
type MonitoringConfig struct {
	Enabled               bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours         int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	ManualReviewRateAlert float64 `yaml:"manual_review_rate_alert" mapstructure:"manual_review_rate_alert"`
	DLQDepthAlert         int     `yaml:"dlq_depth_alert" mapstructure:"dlq_depth_alert"`
	AlertWebhookURL       string  `yaml:"alert_webhook_url" mapstructure:"alert_webhook_url"`
}

// ReportConfig configures spreadsheet exports.
type ReportConfig struct {
	Locale string `yaml:"locale" mapstructure:"locale"`
	Limit  int    `yaml:"limit" mapstructure:"limit"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BENEFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "benefit.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("adjudication.max_commit_attempts", 5)
	v.SetDefault("adjudication.commit_backoff_ms", 10)
	v.SetDefault("adjudication.commit_max_backoff_ms", 200)
	v.SetDefault("adjudication.lock_timeout_ms", 5000)
	v.SetDefault("adjudication.line_parallelism", 8)
	v.SetDefault("adjudication.max_concurrent_claims", 16)
	v.SetDefault("events.timeout_secs", 10)
	v.SetDefault("events.rate_per_sec", 20.0)
	v.SetDefault("events.burst", 5)
	v.SetDefault("events.retry_attempts", 3)
	v.SetDefault("events.circuit_threshold", 5)
	v.SetDefault("events.circuit_reset_secs", 30)
	v.SetDefault("events.dlq_max_retries", 5)
	v.SetDefault("events.dlq_replay_batch_size", 100)
	v.SetDefault("plan.rules_file", "rules.yaml")
	v.SetDefault("plan.coverage_file", "coverages.yaml")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.manual_review_rate_alert", 0.05)
	v.SetDefault("monitoring.dlq_depth_alert", 100)
	v.SetDefault("report.locale", "en")
	v.SetDefault("report.limit", 10000)

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

// Validate checks the settings a command mode depends on. Modes are
// "serve", "adjudicate", "load" and "migrate"; every mode needs a usable
// store.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, sqlite, postgres", c.Store.Driver))
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Adjudication.MaxConcurrentClaims < 1 {
			errs = append(errs, "adjudication.max_concurrent_claims must be at least 1")
		}
		errs = append(errs, c.Adjudication.problems()...)
	case "adjudicate":
		errs = append(errs, c.Adjudication.problems()...)
	case "load", "migrate":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if c.Events.WebhookURL != "" && (mode == "serve" || mode == "adjudicate") {
		if c.Events.RatePerSec <= 0 {
			errs = append(errs, "events.rate_per_sec must be positive when a webhook is configured")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (a AdjudicationConfig) problems() []string {
	var errs []string
	if a.MaxCommitAttempts < 1 {
		errs = append(errs, "adjudication.max_commit_attempts must be at least 1")
	}
	if a.LockTimeoutMs <= 0 {
		errs = append(errs, "adjudication.lock_timeout_ms must be positive")
	}
	if a.LineParallelism < 1 || a.LineParallelism > 256 {
		errs = append(errs, "adjudication.line_parallelism must be between 1 and 256")
	}
	return errs
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
