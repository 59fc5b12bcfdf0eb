package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: "debug"},
		Lock:    LockConfig{GracePeriod: 30 * time.Second},
	}

	ApplyDefaults(cfg)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Lock.GracePeriod)
	assert.Equal(t, 10*time.Minute, cfg.Lock.IdleTimeout)
}

func TestApplyMetricsDefaultsOnlySetsPortWhenEnabled(t *testing.T) {
	disabled := &MetricsConfig{}
	applyMetricsDefaults(disabled)
	assert.Equal(t, 0, disabled.Port)

	enabled := &MetricsConfig{Enabled: true}
	applyMetricsDefaults(enabled)
	assert.Equal(t, 9090, enabled.Port)
}

func TestApplyLoggingDefaultsNormalizesLevelCase(t *testing.T) {
	cfg := &LoggingConfig{Level: "warn"}
	applyLoggingDefaults(cfg)
	assert.Equal(t, "WARN", cfg.Level)
}
