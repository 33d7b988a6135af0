// Package config provides aggregate configuration for the guard.
package config

import (
	"time"

	"github.com/croakml/guard/observability"
	"github.com/croakml/guard/resilience"
)

// Config is the main configuration for a guard instance.
type Config struct {
	RateLimiter    resilience.RateLimiterConfig
	Telemetry      observability.TelemetryConfig
	Audit          observability.AuditConfig
	PolicyPath     string
	PolicyBasePath string
	Guard          GuardConfig
}

// GuardConfig configures the execution guard itself.
type GuardConfig struct {
	// WorkspaceRoot confines working directories. Empty disables
	// containment, which is only acceptable in tests.
	WorkspaceRoot string

	// SecretEnvVars overrides the default secret-bearing variable set.
	SecretEnvVars []string

	// MaxConcurrent bounds simultaneous child processes. Zero means
	// unbounded.
	MaxConcurrent int64

	// PolicyWatchInterval enables hot reload when positive.
	PolicyWatchInterval time.Duration

	EnableMetrics bool
	EnableTracing bool
	EnableAudit   bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Guard: GuardConfig{
			MaxConcurrent: 8,
			EnableMetrics: true,
			EnableTracing: true,
			EnableAudit:   true,
		},
		RateLimiter:    resilience.DefaultRateLimiterConfig(),
		Telemetry:      observability.DefaultTelemetryConfig(),
		Audit:          observability.DefaultAuditConfig("."),
		PolicyPath:     "policy.yaml",
		PolicyBasePath: "/etc/guard",
	}
}

// DevelopmentConfig returns configuration suitable for development.
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.RateLimiter.DefaultLimit = 1000
	cfg.RateLimiter.DefaultBurst = 2000
	cfg.Audit.LogLevel = observability.AuditLogAll
	cfg.Audit.IncludeOutput = true
	return cfg
}

// ProductionConfig returns configuration suitable for production.
func ProductionConfig() Config {
	cfg := DefaultConfig()
	cfg.Guard.MaxConcurrent = 4
	cfg.Guard.PolicyWatchInterval = 30 * time.Second
	cfg.RateLimiter.DefaultLimit = 10
	cfg.RateLimiter.DefaultBurst = 20
	cfg.Audit.LogLevel = observability.AuditLogFailures
	cfg.Audit.IncludeOutput = false
	return cfg
}

// Validate normalizes out-of-range values in place.
func (c *Config) Validate() error {
	if c.Guard.MaxConcurrent < 0 {
		c.Guard.MaxConcurrent = 0
	}

	if c.RateLimiter.DefaultBurst <= 0 && c.RateLimiter.DefaultLimit > 0 {
		c.RateLimiter.DefaultBurst = int(c.RateLimiter.DefaultLimit)
	}

	if c.Audit.MaxOutputSize <= 0 {
		c.Audit.MaxOutputSize = 1024
	}

	return nil
}
