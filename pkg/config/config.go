// Package config provides engine configuration loading and validation.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pinotpulse/ingest/pkg/errors"
)

// EngineConfig is the top-level configuration for the ingestion engine.
type EngineConfig struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Vault      VaultConfig      `mapstructure:"vault" yaml:"vault"`
	Processing ProcessingConfig `mapstructure:"processing" yaml:"processing"`
	Target     TargetConfig     `mapstructure:"target" yaml:"target"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Health     HealthConfig     `mapstructure:"health" yaml:"health"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig configures the console-facing HTTP API.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// StoreConfig configures the durable pipeline store.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// VaultConfig configures the credential vault.
type VaultConfig struct {
	// Backend is "file" or "memory".
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
	// KeyHex is the 32-byte AES key, hex encoded. Required for the file backend.
	KeyHex string `mapstructure:"key_hex" yaml:"key_hex"`
}

// ProcessingConfig carries engine-wide defaults for the processing policy.
// Per-pipeline values override these.
type ProcessingConfig struct {
	BatchSize      int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay" yaml:"retry_max_delay"`
	DedupEnabled   bool          `mapstructure:"dedup_enabled" yaml:"dedup_enabled"`
	DedupWindow    time.Duration `mapstructure:"dedup_window" yaml:"dedup_window"`
	ChannelBuffer  int           `mapstructure:"channel_buffer" yaml:"channel_buffer"`
}

// TargetConfig configures where ingested batches land.
type TargetConfig struct {
	// Backend is "pinot" or "memory". The memory backend is for local
	// development only.
	Backend string `mapstructure:"backend" yaml:"backend"`
	// BaseURL is the Pinot controller's ingest endpoint.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// MetricsConfig configures the metrics aggregator.
type MetricsConfig struct {
	BucketGranularity time.Duration `mapstructure:"bucket_granularity" yaml:"bucket_granularity"`
	Retention         time.Duration `mapstructure:"retention" yaml:"retention"`
}

// HealthConfig configures the degraded/failed health evaluator.
type HealthConfig struct {
	ErrorRateThreshold float64       `mapstructure:"error_rate_threshold" yaml:"error_rate_threshold"`
	EvaluationWindow   time.Duration `mapstructure:"evaluation_window" yaml:"evaluation_window"`
	FailedAfterWindows int           `mapstructure:"failed_after_windows" yaml:"failed_after_windows"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
}

// Default returns an EngineConfig populated with production defaults.
func Default() *EngineConfig {
	return &EngineConfig{
		Server: ServerConfig{
			ListenAddr:      ":8088",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			Path: "pulse.db",
		},
		Vault: VaultConfig{
			Backend: "file",
			Path:    "vault.db",
		},
		Processing: ProcessingConfig{
			BatchSize:      1000,
			BatchTimeout:   5 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
			RetryMaxDelay:  30 * time.Second,
			DedupEnabled:   true,
			DedupWindow:    time.Hour,
			ChannelBuffer:  1000,
		},
		Target: TargetConfig{
			Backend: "pinot",
			BaseURL: "http://localhost:9000",
		},
		Metrics: MetricsConfig{
			BucketGranularity: time.Minute,
			Retention:         7 * 24 * time.Hour,
		},
		Health: HealthConfig{
			ErrorRateThreshold: 0.05,
			EvaluationWindow:   time.Minute,
			FailedAfterWindows: 3,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Load reads configuration from the given YAML file, with PULSE_* environment
// variables overriding file values. An empty path loads defaults plus env.
func Load(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *EngineConfig) {
	v.SetDefault("server.listen_addr", cfg.Server.ListenAddr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("vault.backend", cfg.Vault.Backend)
	v.SetDefault("vault.path", cfg.Vault.Path)
	v.SetDefault("processing.batch_size", cfg.Processing.BatchSize)
	v.SetDefault("processing.batch_timeout", cfg.Processing.BatchTimeout)
	v.SetDefault("processing.max_retries", cfg.Processing.MaxRetries)
	v.SetDefault("processing.retry_base_delay", cfg.Processing.RetryBaseDelay)
	v.SetDefault("processing.retry_max_delay", cfg.Processing.RetryMaxDelay)
	v.SetDefault("processing.dedup_enabled", cfg.Processing.DedupEnabled)
	v.SetDefault("processing.dedup_window", cfg.Processing.DedupWindow)
	v.SetDefault("processing.channel_buffer", cfg.Processing.ChannelBuffer)
	v.SetDefault("target.backend", cfg.Target.Backend)
	v.SetDefault("target.base_url", cfg.Target.BaseURL)
	v.SetDefault("metrics.bucket_granularity", cfg.Metrics.BucketGranularity)
	v.SetDefault("metrics.retention", cfg.Metrics.Retention)
	v.SetDefault("health.error_rate_threshold", cfg.Health.ErrorRateThreshold)
	v.SetDefault("health.evaluation_window", cfg.Health.EvaluationWindow)
	v.SetDefault("health.failed_after_windows", cfg.Health.FailedAfterWindows)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.development", cfg.Logging.Development)
	v.SetDefault("logging.encoding", cfg.Logging.Encoding)
}

// Validate checks the configuration for invalid values.
func (c *EngineConfig) Validate() error {
	if c.Store.Path == "" {
		return errors.New(errors.ErrorTypeConfig, "store.path is required")
	}
	switch c.Vault.Backend {
	case "file":
		if c.Vault.Path == "" {
			return errors.New(errors.ErrorTypeConfig, "vault.path is required for the file backend")
		}
	case "memory":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown vault backend %q", c.Vault.Backend)
	}
	if c.Processing.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "processing.batch_size must be positive")
	}
	if c.Processing.BatchTimeout <= 0 {
		return errors.New(errors.ErrorTypeConfig, "processing.batch_timeout must be positive")
	}
	if c.Processing.MaxRetries < 0 {
		return errors.New(errors.ErrorTypeConfig, "processing.max_retries cannot be negative")
	}
	switch c.Target.Backend {
	case "pinot":
		if c.Target.BaseURL == "" {
			return errors.New(errors.ErrorTypeConfig, "target.base_url is required for the pinot backend")
		}
	case "memory":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown target backend %q", c.Target.Backend)
	}
	if c.Metrics.BucketGranularity <= 0 {
		return errors.New(errors.ErrorTypeConfig, "metrics.bucket_granularity must be positive")
	}
	if c.Health.ErrorRateThreshold <= 0 || c.Health.ErrorRateThreshold > 1 {
		return errors.New(errors.ErrorTypeConfig, "health.error_rate_threshold must be in (0, 1]")
	}
	if c.Health.FailedAfterWindows < 1 {
		return errors.New(errors.ErrorTypeConfig, "health.failed_after_windows must be at least 1")
	}
	return nil
}
