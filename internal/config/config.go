// Package config defines the global configuration structure for the ReportFlow
// dispatcher. Configuration is loaded once at process initialization and is
// immutable thereafter. It follows 12-Factor App principles by strictly
// separating code from configuration.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File (Lowest)
//
// Any missing required value or invalid format causes the application to exit
// immediately on startup (fail fast).
package config

import (
	"time"

	"reportflow/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the ReportFlow dispatcher.
// It is populated once during process initialization and never modified.
// Sub-components receive only the specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"reportflow-dispatcher"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Database      DatabaseConfig
	SMTP          SMTPConfig
	Generator     GeneratorConfig
	Dispatcher    DispatcherConfig
	Retry         RetryConfig
	Retention     RetentionConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// SMTPConfig holds mail transport credentials and sender identity.
type SMTPConfig struct {
	Host     string       `envconfig:"SMTP_HOST" validate:"required"`
	Port     int          `envconfig:"SMTP_PORT" default:"587"`
	Username string       `envconfig:"SMTP_USER"`
	Password SecretString `envconfig:"SMTP_PASS"`

	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"reports@reportflow.io" validate:"email"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"ReportFlow Reports"`

	// VerifyOnBoot dials the SMTP server during startup and fails fast on
	// misconfiguration instead of discovering it on the first delivery.
	VerifyOnBoot bool `envconfig:"SMTP_VERIFY_ON_BOOT" default:"true"`
}

// GeneratorConfig holds the report generator service connection settings.
type GeneratorConfig struct {
	BaseURL string        `envconfig:"GENERATOR_BASE_URL" validate:"required,url"`
	APIKey  SecretString  `envconfig:"GENERATOR_API_KEY"`
	Timeout time.Duration `envconfig:"GENERATOR_TIMEOUT" default:"60s"`
}

// DispatcherConfig holds the schedule clock tuning parameters.
type DispatcherConfig struct {
	// TickInterval is how often the dispatcher polls for due schedules.
	// Tunable, not load-bearing for correctness.
	TickInterval time.Duration `envconfig:"DISPATCH_TICK_INTERVAL" default:"60s"`

	// BatchLimit caps the number of due schedules selected per tick.
	BatchLimit int `envconfig:"DISPATCH_BATCH_LIMIT" default:"100"`

	// Concurrency bounds the worker pool processing schedules within a tick.
	Concurrency int `envconfig:"DISPATCH_CONCURRENCY" default:"4"`

	// SendTimeout bounds a single generate+send pass for one schedule.
	// A timeout is treated as a transient delivery failure.
	SendTimeout time.Duration `envconfig:"DISPATCH_SEND_TIMEOUT" default:"2m"`
}

// RetryConfig holds the delivery retry policy parameters.
type RetryConfig struct {
	// MaxAttempts is the attempt ceiling; the attempt that would exceed it
	// transitions the delivery to PERMANENTLY_FAILED instead.
	MaxAttempts int `envconfig:"DELIVERY_MAX_ATTEMPTS" default:"3"`

	// Backoff tiers applied after the 1st, 2nd, 3rd failures.
	Backoff []time.Duration `envconfig:"DELIVERY_RETRY_BACKOFF" default:"1m,5m,15m"`
}

// RetentionConfig holds the delivery log retention sweep settings.
type RetentionConfig struct {
	Age           time.Duration `envconfig:"DELIVERY_LOG_RETENTION" default:"2160h"` // 90 days
	SweepInterval time.Duration `envconfig:"RETENTION_SWEEP_INTERVAL" default:"24h"`
	BatchSize     int           `envconfig:"RETENTION_BATCH_SIZE" default:"500"`

	// ArchiveDir, when set, receives gzip JSONL archives of purged logs.
	// Empty disables archival (logs are deleted without a copy).
	ArchiveDir string `envconfig:"RETENTION_ARCHIVE_DIR"`
}

// ObservabilityConfig holds telemetry and monitoring settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"ReportFlow"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
