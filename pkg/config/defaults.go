package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyLockDefaults(&cfg.Lock)
	applyTransportDefaults(&cfg.Transport)
	applySMDefaults(&cfg.SM)
	applyTracingDefaults(&cfg.Tracing)
	applyProfilingDefaults(&cfg.Profiling)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation.
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyLockDefaults sets the lock engine's tunable defaults.
func applyLockDefaults(cfg *LockConfig) {
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 90 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.RetransTimeout == 0 {
		cfg.RetransTimeout = 5 * time.Second
	}
	if cfg.SMBindRetries == 0 {
		cfg.SMBindRetries = 3
	}
	if cfg.SMBindBackoff == 0 {
		cfg.SMBindBackoff = 1 * time.Second
	}
}

// applyTransportDefaults sets the NLM/NSM listen address default.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Address == "" {
		cfg.Address = ":0"
	}
}

// applySMDefaults sets the status monitor endpoint defaults.
func applySMDefaults(cfg *SMConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.CallbackName == "" {
		cfg.CallbackName = "nlmd"
	}
}

// applyTracingDefaults sets OpenTelemetry export defaults.
func applyTracingDefaults(cfg *TracingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		// nlmd's hot path is registry/host mutex contention under concurrent
		// peers, not allocation churn, so mutex/block profiling ships by
		// default alongside the usual cpu/heap views.
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "inuse_objects", "mutex_count", "block_count"}
	}
}

// GetDefaultConfig returns a Config populated entirely with default values,
// used when no config file is found at startup.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
