// Package config defines the configuration surface shared by all
// connectors plus the typed per-connector sections layered on top of it.
package config

import (
	"fmt"
	"time"
)

// BaseConfig carries the settings every connector understands. Typed
// connector configs embed it and add their own fields.
type BaseConfig struct {
	Name    string `yaml:"name" json:"name"`
	Type    string `yaml:"type" json:"type"`
	Version string `yaml:"version" json:"version"`

	Performance   PerformanceConfig   `yaml:"performance" json:"performance"`
	Timeouts      TimeoutConfig       `yaml:"timeouts" json:"timeouts"`
	Reliability   ReliabilityConfig   `yaml:"reliability" json:"reliability"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Advanced      AdvancedConfig      `yaml:"advanced" json:"advanced"`
}

// PerformanceConfig tunes throughput-related knobs.
type PerformanceConfig struct {
	BatchSize         int  `yaml:"batch_size" json:"batch_size"`
	MaxConcurrency    int  `yaml:"max_concurrency" json:"max_concurrency"`
	BufferSize        int  `yaml:"buffer_size" json:"buffer_size"`
	RequestsPerSecond int  `yaml:"requests_per_second" json:"requests_per_second"`
	EnableStreaming   bool `yaml:"enable_streaming" json:"enable_streaming"`
}

// TimeoutConfig bounds individual operations.
type TimeoutConfig struct {
	Request    time.Duration `yaml:"request" json:"request"`
	Connection time.Duration `yaml:"connection" json:"connection"`
	Idle       time.Duration `yaml:"idle" json:"idle"`
	Shutdown   time.Duration `yaml:"shutdown" json:"shutdown"`
}

// ReliabilityConfig controls retries and circuit breaking.
type ReliabilityConfig struct {
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay          time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryMultiplier     float64       `yaml:"retry_multiplier" json:"retry_multiplier"`
	MaxRetryDelay       time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	CircuitBreaker      bool          `yaml:"circuit_breaker" json:"circuit_breaker"`
	FailureThreshold    int           `yaml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeout     time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	HalfOpenMaxRequests int           `yaml:"half_open_max_requests" json:"half_open_max_requests"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
	EnableIdempotency   bool          `yaml:"enable_idempotency" json:"enable_idempotency"`
}

// SecurityConfig holds credentials and TLS settings.
type SecurityConfig struct {
	Credentials map[string]string `yaml:"credentials" json:"credentials"`
	TLS         TLSConfig         `yaml:"tls" json:"tls"`
}

// TLSConfig configures TLS on outbound connections.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	CertFile           string `yaml:"cert_file" json:"cert_file"`
	KeyFile            string `yaml:"key_file" json:"key_file"`
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// ObservabilityConfig controls logging and metrics emission.
type ObservabilityConfig struct {
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing" json:"enable_tracing"`
	LogLevel      string `yaml:"log_level" json:"log_level"`
	LogFormat     string `yaml:"log_format" json:"log_format"`
	MetricsPort   int    `yaml:"metrics_port" json:"metrics_port"`
}

// AdvancedConfig holds settings most deployments never touch.
type AdvancedConfig struct {
	EnableCompression    bool                   `yaml:"enable_compression" json:"enable_compression"`
	CompressionAlgorithm string                 `yaml:"compression_algorithm" json:"compression_algorithm"`
	CompressionLevel     int                    `yaml:"compression_level" json:"compression_level"`
	CustomSettings       map[string]interface{} `yaml:"custom_settings" json:"custom_settings"`
}

// NewBaseConfig returns a BaseConfig with production defaults applied.
func NewBaseConfig(name, connectorType string) *BaseConfig {
	cfg := &BaseConfig{
		Name:    name,
		Type:    connectorType,
		Version: "1.0.0",
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero-valued fields with sane defaults.
func (c *BaseConfig) SetDefaults() {
	if c.Performance.BatchSize == 0 {
		c.Performance.BatchSize = 100
	}
	if c.Performance.MaxConcurrency == 0 {
		c.Performance.MaxConcurrency = 1
	}
	if c.Performance.BufferSize == 0 {
		c.Performance.BufferSize = 1000
	}
	if c.Performance.RequestsPerSecond == 0 {
		c.Performance.RequestsPerSecond = 10
	}
	if c.Timeouts.Request == 0 {
		c.Timeouts.Request = 30 * time.Second
	}
	if c.Timeouts.Connection == 0 {
		c.Timeouts.Connection = 10 * time.Second
	}
	if c.Timeouts.Idle == 0 {
		c.Timeouts.Idle = 90 * time.Second
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = 30 * time.Second
	}
	if c.Reliability.MaxRetries == 0 {
		c.Reliability.MaxRetries = 3
	}
	if c.Reliability.RetryDelay == 0 {
		c.Reliability.RetryDelay = time.Second
	}
	if c.Reliability.RetryMultiplier == 0 {
		c.Reliability.RetryMultiplier = 2.0
	}
	if c.Reliability.MaxRetryDelay == 0 {
		c.Reliability.MaxRetryDelay = 30 * time.Second
	}
	if c.Reliability.FailureThreshold == 0 {
		c.Reliability.FailureThreshold = 5
	}
	if c.Reliability.RecoveryTimeout == 0 {
		c.Reliability.RecoveryTimeout = 30 * time.Second
	}
	if c.Reliability.HalfOpenMaxRequests == 0 {
		c.Reliability.HalfOpenMaxRequests = 3
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
	if c.Advanced.CompressionAlgorithm == "" {
		c.Advanced.CompressionAlgorithm = "zstd"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *BaseConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("connector name is required")
	}
	if c.Type == "" {
		return fmt.Errorf("connector type is required")
	}
	if c.Performance.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Performance.BatchSize)
	}
	if c.Performance.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative, got %d", c.Performance.RequestsPerSecond)
	}
	if c.Reliability.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.Reliability.MaxRetries)
	}
	return nil
}
