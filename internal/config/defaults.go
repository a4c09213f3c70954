package config

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bogwonch/maestral/internal/bytesize"
)

// DefaultConfig returns a Config with every field set to its default,
// used when no config file is present.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with defaults, after loading
// from file/environment and before Validate.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyClientDefaults(&cfg.Client)
	applyTransferDefaults(&cfg.Transfer)
	applyBatchDefaults(&cfg.Batch)
	applyChangeFeedDefaults(&cfg.ChangeFeed)
	applyMetricsDefaults(&cfg.Metrics)
	applyCredentialsDefaults(&cfg.Credentials)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 100 * time.Second
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.DefaultChunkSize == 0 {
		cfg.DefaultChunkSize = int64(4 * bytesize.MiB)
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
}

func applyBatchDefaults(cfg *BatchConfig) {
	if cfg.DefaultBatchSize == 0 {
		cfg.DefaultBatchSize = 1000
	}
}

func applyChangeFeedDefaults(cfg *ChangeFeedConfig) {
	if cfg.MinPollTimeout == 0 {
		cfg.MinPollTimeout = 30 * time.Second
	}
	if cfg.MaxPollTimeout == 0 {
		cfg.MaxPollTimeout = 480 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyCredentialsDefaults(cfg *CredentialsConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
}

func defaultDataDir() string {
	return configDir() // co-located with config.yaml by default
}

func marshalYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
