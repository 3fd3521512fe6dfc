// Package config provides configuration structures and loading logic for agorad.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/polisai/agora/internal/governance"
	"github.com/polisai/agora/pkg/domain"
	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the agorad daemon.
type Config struct {
	Server ServerConfig `yaml:"server"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Platform  PlatformConfig  `yaml:"platform"`
	Seed      SeedConfig      `yaml:"seed"`
}

// ServerConfig holds configuration for the admin HTTP server.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	Environment  string `yaml:"environment"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// EngineConfig holds configuration for the governance engine and its
// re-evaluation scheduler.
type EngineConfig struct {
	// FallbackVerdict resolves reviewed actions no policy claims.
	// Supported values: "passed", "failed". Empty defaults to failed.
	FallbackVerdict string `yaml:"fallback_verdict"`
	// MaxHookFailures is the consecutive hook fault threshold before an
	// (action, policy) pair is quarantined. Zero keeps the engine default.
	MaxHookFailures int `yaml:"max_hook_failures"`
	// ReevaluateSeconds is the scheduler sweep interval for pending proposals.
	ReevaluateSeconds int `yaml:"reevaluate_seconds"`
}

// Verdict returns the configured fallback verdict as a domain value.
func (c EngineConfig) Verdict() domain.Verdict {
	return domain.Verdict(c.FallbackVerdict)
}

// ReevaluateInterval returns the scheduler sweep interval.
func (c EngineConfig) ReevaluateInterval() time.Duration {
	return time.Duration(c.ReevaluateSeconds) * time.Second
}

// PlatformConfig holds governance settings for the outbound platform
// dispatcher. Zero values fall through to the dispatcher defaults.
type PlatformConfig struct {
	Retry     RetrySettings     `yaml:"retry"`
	Breaker   BreakerSettings   `yaml:"breaker"`
	RateLimit RateLimitSettings `yaml:"rate_limit"`
}

// RetrySettings configures bounded retry with exponential backoff for
// platform calls.
type RetrySettings struct {
	MaxRetries       int `yaml:"max_retries"`
	InitialBackoffMS int `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms"`
}

// ToGovernance converts the settings to a retry policy configuration.
// Unset values keep the governance defaults.
func (r RetrySettings) ToGovernance() governance.RetryConfig {
	cfg := governance.DefaultRetryConfig()
	if r.MaxRetries > 0 {
		cfg.MaxRetries = r.MaxRetries
	}
	if r.InitialBackoffMS > 0 {
		cfg.InitialBackoff = time.Duration(r.InitialBackoffMS) * time.Millisecond
	}
	if r.MaxBackoffMS > 0 {
		cfg.MaxBackoff = time.Duration(r.MaxBackoffMS) * time.Millisecond
	}
	return cfg
}

// BreakerSettings configures the per-community circuit breaker for
// platform calls.
type BreakerSettings struct {
	MaxFailures int `yaml:"max_failures"`
	CooldownMS  int `yaml:"cooldown_ms"`
}

// ToGovernance converts the settings to a circuit breaker configuration.
// Unset values keep the governance defaults.
func (b BreakerSettings) ToGovernance() governance.CircuitBreakerConfig {
	cfg := governance.DefaultCircuitBreakerConfig()
	if b.MaxFailures > 0 {
		cfg.MaxFailures = b.MaxFailures
	}
	if b.CooldownMS > 0 {
		cfg.Cooldown = time.Duration(b.CooldownMS) * time.Millisecond
	}
	return cfg
}

// RateLimitSettings configures the per-community call budget for platform
// calls. A zero CallsPerSecond disables limiting.
type RateLimitSettings struct {
	CallsPerSecond int `yaml:"calls_per_second"`
	Burst          int `yaml:"burst"`
}

// ToGovernance converts the settings to a rate limiter configuration.
func (l RateLimitSettings) ToGovernance() governance.RateLimiterConfig {
	return governance.RateLimiterConfig{
		CallsPerSecond: l.CallsPerSecond,
		BurstSize:      l.Burst,
	}
}

// SeedConfig holds configuration for community seed loading.
type SeedConfig struct {
	// File is a YAML seed applied to the store at startup.
	File string `yaml:"file"`
	// Watch re-applies the seed file whenever it changes on disk.
	Watch bool `yaml:"watch"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		// Defaults
		Server: ServerConfig{
			AdminAddress: ":19090",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Engine: EngineConfig{
			FallbackVerdict:   string(domain.VerdictFailed),
			ReevaluateSeconds: 30,
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AGORA_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}

	if val := os.Getenv("AGORA_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("AGORA_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("AGORA_ENVIRONMENT"); val != "" {
		cfg.Telemetry.Environment = val
	}

	if val := os.Getenv("AGORA_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("AGORA_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	if val := os.Getenv("AGORA_FALLBACK_VERDICT"); val != "" {
		cfg.Engine.FallbackVerdict = val
	}

	if val := os.Getenv("AGORA_SEED_FILE"); val != "" {
		cfg.Seed.File = val
	}
	if val := os.Getenv("AGORA_SEED_WATCH"); val == "true" {
		cfg.Seed.Watch = true
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}

	if err := c.Platform.Validate(); err != nil {
		return fmt.Errorf("platform configuration: %w", err)
	}

	if err := c.Seed.Validate(); err != nil {
		return fmt.Errorf("seed configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	// Set defaults if not provided
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":19090"
	}
	return nil
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	// Basic validation - OTLP endpoint format could be validated more strictly
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	// Set default log level if not provided
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level // Normalize to lowercase
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate performs validation of engine configuration
func (c *EngineConfig) Validate() error {
	if strings.TrimSpace(c.FallbackVerdict) == "" {
		c.FallbackVerdict = string(domain.VerdictFailed)
	}

	verdict := strings.TrimSpace(strings.ToLower(c.FallbackVerdict))
	switch domain.Verdict(verdict) {
	case domain.VerdictPassed, domain.VerdictFailed:
		c.FallbackVerdict = verdict
	default:
		return fmt.Errorf("invalid fallback verdict %q, supported verdicts: passed, failed", c.FallbackVerdict)
	}

	if c.MaxHookFailures < 0 {
		return fmt.Errorf("max_hook_failures must not be negative, got %d", c.MaxHookFailures)
	}

	if c.ReevaluateSeconds == 0 {
		c.ReevaluateSeconds = 30
	}
	if c.ReevaluateSeconds < 0 {
		return fmt.Errorf("reevaluate_seconds must be positive, got %d", c.ReevaluateSeconds)
	}

	return nil
}

// Validate performs validation of platform dispatcher configuration
func (c *PlatformConfig) Validate() error {
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.InitialBackoffMS < 0 || c.Retry.MaxBackoffMS < 0 {
		return fmt.Errorf("retry backoff durations must not be negative")
	}
	if c.Breaker.MaxFailures < 0 {
		return fmt.Errorf("breaker max_failures must not be negative, got %d", c.Breaker.MaxFailures)
	}
	if c.Breaker.CooldownMS < 0 {
		return fmt.Errorf("breaker cooldown_ms must not be negative, got %d", c.Breaker.CooldownMS)
	}
	if c.RateLimit.CallsPerSecond < 0 {
		return fmt.Errorf("rate limit calls_per_second must not be negative, got %d", c.RateLimit.CallsPerSecond)
	}
	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit burst must not be negative, got %d", c.RateLimit.Burst)
	}
	return nil
}

// Validate performs validation of seed configuration
func (c *SeedConfig) Validate() error {
	if c.Watch && strings.TrimSpace(c.File) == "" {
		return fmt.Errorf("seed watch requires a seed file")
	}
	return nil
}
