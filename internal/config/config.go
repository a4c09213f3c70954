// Package config loads and validates maestral's configuration from a YAML
// file, MAESTRAL_-prefixed environment variables, and built-in defaults.
// It reads no command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/bogwonch/maestral/internal/bytesize"
)

// Config is maestral's static configuration. Account-specific state
// (credential, cursor, namespace id) lives in CredentialStore/StateStore,
// not here.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Client configures the HTTP transport shared by every remote call.
	Client ClientConfig `mapstructure:"client" yaml:"client"`

	// Transfer configures chunked download/upload (§4.5).
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer"`

	// Batch configures batched folder create/delete (§4.6).
	Batch BatchConfig `mapstructure:"batch" yaml:"batch"`

	// ChangeFeed configures long-poll change notification (§4.8).
	ChangeFeed ChangeFeedConfig `mapstructure:"change_feed" yaml:"change_feed"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Credentials configures where the on-disk CredentialStore and
	// StateStore keep their badger databases.
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ClientConfig configures the HTTP transport shared by every remote call
// (§5's per-request timeout).
type ClientConfig struct {
	// Timeout is the per-request HTTP timeout. Default 100s.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// UserAgentSuffix is appended to the base User-Agent string.
	UserAgentSuffix string `mapstructure:"user_agent_suffix" yaml:"user_agent_suffix,omitempty"`
}

// TransferConfig configures chunked transfer (§4.5).
type TransferConfig struct {
	// DefaultChunkSize is the requested chunk size in bytes, clamped by
	// TransferEngine between 100 KB and 150 MB.
	DefaultChunkSize int64 `mapstructure:"default_chunk_size" validate:"omitempty,gt=0" yaml:"default_chunk_size"`

	// MaxRetries is passed to the remote client as MaxUploadRetries. The
	// transfer engine does not read it: its data-corruption retry is fixed
	// at 3 attempts for both download and upload.
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,gt=0" yaml:"max_retries"`
}

// BatchConfig configures batched folder create/delete (§4.6).
type BatchConfig struct {
	// DefaultBatchSize is the requested batch size, clamped to 1000.
	DefaultBatchSize int `mapstructure:"default_batch_size" validate:"omitempty,gt=0" yaml:"default_batch_size"`
}

// ChangeFeedConfig configures the long-poll wait (§4.8).
type ChangeFeedConfig struct {
	MinPollTimeout time.Duration `mapstructure:"min_poll_timeout" yaml:"min_poll_timeout"`
	MaxPollTimeout time.Duration `mapstructure:"max_poll_timeout" yaml:"max_poll_timeout"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// CredentialsConfig configures on-disk secret storage.
type CredentialsConfig struct {
	// DataDir holds the badger databases backing CredentialStore and
	// StateStore, and the secretbox sealing key.
	DataDir string `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`
}

// Load reads the config file at configPath (or config.yaml in the default
// config directory), lets MAESTRAL_-prefixed environment variables override
// the keys the file sets, and applies ApplyDefaults and Validate before
// returning. When no config file is found it returns DefaultConfig()
// unchanged: environment variables are not read and Validate is not run.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := DefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks Config against its `validate` struct tags.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Schema returns Config's JSON Schema, used by `maestralctl config schema`
// and by tests asserting the shape is stable.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	schema := reflector.Reflect(&Config{})
	schema.Version = "https://json-schema.org/draft/2020-12/schema"
	schema.Title = "maestral Configuration"
	schema.Description = "Configuration schema for the maestral sync agent"
	return schema
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MAESTRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) && to != reflect.TypeOf(int64(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "maestral")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "maestral")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}

// SaveConfig writes cfg as YAML to path (0600: it may end up adjacent to
// nothing sensitive today, but config files are treated as such on
// principle).
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := marshalYAML(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
