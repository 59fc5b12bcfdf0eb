package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents nlmd's configuration.
//
// This structure captures the static configuration this daemon has:
//   - Logging output behavior
//   - The Prometheus metrics endpoint
//   - How long to wait for in-flight work during shutdown
//   - Lock engine tunables (grace period, idle timeout, retransmit
//     timeout, and how hard to retry binding to the local status monitor)
//   - The network address nlmd listens on for NLM/NSM traffic
//   - The loopback endpoint of the local status monitor (rpc.statd)
//
// Configuration sources, in order of precedence:
//  1. Environment variables (NLMD_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Lock contains the lock engine's tunables.
	Lock LockConfig `mapstructure:"lock" yaml:"lock"`

	// Transport is the local address nlmd binds to for NLM and NSM traffic.
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// SM is the loopback endpoint of the status monitor nlmd registers with.
	SM SMConfig `mapstructure:"sm" yaml:"sm"`

	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`

	// Profiling configures continuous Pyroscope profiling.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// TracingConfig controls OpenTelemetry trace export for lock operations.
type TracingConfig struct {
	// Enabled turns on span export. When false, all tracing calls use a
	// no-op tracer and cost nothing.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector address, e.g. "localhost:4317".
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS on the OTLP connection, for a collector
	// running on the same host or in the same pod.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the fraction of traces exported, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,min=0,max=1" yaml:"sample_rate"`
}

// ProfilingConfig controls continuous profiling via Pyroscope.
type ProfilingConfig struct {
	// Enabled turns on the profiler.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL, e.g. "http://localhost:4040".
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profiles to collect. See
	// internal/telemetry for the supported set.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// LockConfig holds the lock engine's tunables.
type LockConfig struct {
	// GracePeriod is how long, after startup, the engine rejects new
	// non-reclaim lock requests while giving former clients a chance to
	// reclaim what they held before the crash.
	// Default: 90s
	GracePeriod time.Duration `mapstructure:"grace_period" validate:"required,gt=0" yaml:"grace_period"`

	// IdleTimeout is how long an unreferenced host is kept around before
	// the garbage collector reclaims it.
	// Default: 10m
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"required,gt=0" yaml:"idle_timeout"`

	// RetransTimeout is passed to the lock engine as
	// ZoneConfig.RetransTimeout. No engine code path reads it, so it does
	// not change how blocked requests, callbacks or recovery waits behave.
	// Default: 5s
	RetransTimeout time.Duration `mapstructure:"retrans_timeout" validate:"required,gt=0" yaml:"retrans_timeout"`

	// SMBindRetries is how many times the SM client retries binding to
	// the local status monitor at startup before giving up.
	// Default: 3
	SMBindRetries int `mapstructure:"sm_bind_retries" validate:"required,gt=0" yaml:"sm_bind_retries"`

	// SMBindBackoff is the delay between SM bind retries.
	// Default: 1s
	SMBindBackoff time.Duration `mapstructure:"sm_bind_backoff" validate:"required,gt=0" yaml:"sm_bind_backoff"`
}

// TransportConfig is the network address nlmd serves NLM/NSM RPC on.
type TransportConfig struct {
	// Address is the host:port nlmd listens on for NLM and NSM traffic,
	// over TCP only.
	// Default: ":0" (an ephemeral port; nlmd does not register it with the
	// local portmapper)
	Address string `mapstructure:"address" validate:"required" yaml:"address"`
}

// SMConfig is the loopback endpoint of the already-running status monitor
// nlmd registers peer-watch requests with.
type SMConfig struct {
	// Host is the status monitor's address, almost always loopback since
	// rpc.statd runs on the same machine as nlmd.
	// Default: "127.0.0.1"
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// CallbackName is the name nlmd registers itself under with the
	// monitor (the my_id name in SM_MON/SM_UNMON requests); it is also the
	// caller_name nlmd puts in outbound NLM_GRANTED callbacks.
	// Default: "nlmd"
	CallbackName string `mapstructure:"callback_name" validate:"required" yaml:"callback_name"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected or served.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NLMD_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create one, or specify a custom config file:\n"+
				"  nlmd serve --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks a loaded configuration against its struct tags and a
// handful of cross-field rules the tags can't express.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}

	if cfg.Lock.RetransTimeout >= cfg.Lock.GracePeriod {
		return fmt.Errorf("lock.retrans_timeout (%s) must be shorter than lock.grace_period (%s)",
			cfg.Lock.RetransTimeout, cfg.Lock.GracePeriod)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the NLMD_ prefix and underscores.
	// Example: NLMD_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NLMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns the decode hook mapstructure uses when
// unmarshaling viper's map into Config. time.Duration is the only custom
// type this daemon's config carries.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings and raw numbers to time.Duration so
// config files can use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
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

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nlmd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nlmd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the CLI).
func GetConfigDir() string {
	return getConfigDir()
}
