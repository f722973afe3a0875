// Package config loads agent configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete agent configuration
type Config struct {
	Tracking    TrackingConfig    `mapstructure:"tracking"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	IPC         IPCConfig         `mapstructure:"ipc"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// TrackingConfig defines focus and process tracking behavior
type TrackingConfig struct {
	DebounceWindow time.Duration `mapstructure:"debounce_window"`
	ScanInterval   time.Duration `mapstructure:"scan_interval"`
	FocusBuffer    int           `mapstructure:"focus_buffer"`
}

// PipelineConfig defines the ingestion queue and flush scheduler
type PipelineConfig struct {
	QueueCapacity        int           `mapstructure:"queue_capacity"`
	EnqueueTimeout       time.Duration `mapstructure:"enqueue_timeout"`
	FlushInterval        time.Duration `mapstructure:"flush_interval"`
	RetentionDays        int           `mapstructure:"retention_days"`
	ShutdownFlushTimeout time.Duration `mapstructure:"shutdown_flush_timeout"`
}

// MetricsConfig defines system resource sampling
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// IPCConfig defines the local UI socket
type IPCConfig struct {
	SocketPath string `mapstructure:"socket_path"`
}

// StorageConfig defines the encrypted database location
type StorageConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	EncryptionKey string `mapstructure:"encryption_key"`
}

// AggregationConfig defines the daily summary job
type AggregationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// HTTPConfig defines the loopback observability listener
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given file (optional) and SCREENMON_*
// environment variables, applying defaults for anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("screenmon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/screenmon")
	}
	v.SetEnvPrefix("SCREENMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Tracking defaults
	v.SetDefault("tracking.debounce_window", "500ms")
	v.SetDefault("tracking.scan_interval", "3s")
	v.SetDefault("tracking.focus_buffer", 64)

	// Pipeline defaults
	v.SetDefault("pipeline.queue_capacity", 1000)
	v.SetDefault("pipeline.enqueue_timeout", "5s")
	v.SetDefault("pipeline.flush_interval", "30s")
	v.SetDefault("pipeline.retention_days", 90)
	v.SetDefault("pipeline.shutdown_flush_timeout", "15s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", "5s")

	// IPC defaults
	v.SetDefault("ipc.socket_path", "/tmp/screenmon.sock")

	// Storage defaults
	v.SetDefault("storage.data_dir", "/var/lib/screenmon")
	v.SetDefault("storage.encryption_key", "")

	// Aggregation defaults
	v.SetDefault("aggregation.enabled", true)
	v.SetDefault("aggregation.check_interval", "1m")

	// HTTP defaults
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", "127.0.0.1:9183")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func validate(cfg *Config) error {
	if cfg.Tracking.DebounceWindow < 0 {
		return fmt.Errorf("invalid debounce window: %s", cfg.Tracking.DebounceWindow)
	}
	if cfg.Tracking.ScanInterval <= 0 {
		return fmt.Errorf("invalid scan interval: %s", cfg.Tracking.ScanInterval)
	}
	if cfg.Pipeline.QueueCapacity <= 0 {
		return fmt.Errorf("invalid queue capacity: %d", cfg.Pipeline.QueueCapacity)
	}
	if cfg.Pipeline.FlushInterval <= 0 {
		return fmt.Errorf("invalid flush interval: %s", cfg.Pipeline.FlushInterval)
	}
	if cfg.Pipeline.RetentionDays <= 0 {
		return fmt.Errorf("invalid retention days: %d", cfg.Pipeline.RetentionDays)
	}
	if cfg.Pipeline.EnqueueTimeout <= 0 {
		return fmt.Errorf("invalid enqueue timeout: %s", cfg.Pipeline.EnqueueTimeout)
	}
	if cfg.Pipeline.ShutdownFlushTimeout <= 0 {
		return fmt.Errorf("invalid shutdown flush timeout: %s", cfg.Pipeline.ShutdownFlushTimeout)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.SampleInterval <= 0 {
		return fmt.Errorf("invalid metrics sample interval: %s", cfg.Metrics.SampleInterval)
	}
	if cfg.Aggregation.Enabled && cfg.Aggregation.CheckInterval <= 0 {
		return fmt.Errorf("invalid aggregation check interval: %s", cfg.Aggregation.CheckInterval)
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc socket path is required")
	}
	if cfg.Storage.DataDir == "" {
		return fmt.Errorf("storage data directory is required")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", cfg.Logging.Level)
	}
	return nil
}
