// Package config defines the configuration for the ClipHost monetization
// pipeline service. Configuration is loaded once at process start and is
// immutable thereafter; it follows 12-Factor principles by strictly
// separating code from configuration.
//
// Any missing required value or invalid format causes startup to fail fast.
package config

import (
	"time"

	"cliphost/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"cliphost-monetize"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Billing   BillingConfig
	Analytics AnalyticsConfig
	Search    SearchConfig
	Jobs      JobsConfig
	Metrics   MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds ledger database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// CacheConfig holds the billing status cache (Redis) connection settings.
type CacheConfig struct {
	Addr     string       `envconfig:"REDIS_ADDR" validate:"required"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0"`
}

// BillingConfig holds payment processor credentials and pipeline tunables.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`

	// CustomerPageSize is the stable page size used by the billing sync
	// pagination loop.
	CustomerPageSize int `envconfig:"STRIPE_PAGE_SIZE" default:"100"`

	// LowBalanceThresholdCents is the balance at or below which a customer
	// is considered due for recharge (minor units).
	LowBalanceThresholdCents int64 `envconfig:"LOW_BALANCE_THRESHOLD_CENTS" default:"500"`

	// TopUpAmountCents is the amount of the top-up invoice issued by the
	// recharge job (minor units).
	TopUpAmountCents int64 `envconfig:"TOPUP_AMOUNT_CENTS" default:"2500"`

	// MinCPV is the minimum viable cost-per-view. Requests below it are
	// either promoted (gated) or rejected by the score encoder.
	MinCPV float64 `envconfig:"MIN_CPV" default:"0.05"`
}

// AnalyticsConfig holds the analytics backend connection settings.
type AnalyticsConfig struct {
	URL   string       `envconfig:"ANALYTICS_URL" validate:"required,url"`
	Token SecretString `envconfig:"ANALYTICS_TOKEN"`
}

// SearchConfig holds the search index connection settings.
type SearchConfig struct {
	URL        string       `envconfig:"SEARCH_URL" validate:"required,url"`
	APIKey     SecretString `envconfig:"SEARCH_API_KEY"`
	VideoIndex string       `envconfig:"SEARCH_VIDEO_INDEX" default:"videos"`
}

// JobsConfig holds settings for the scheduler-facing job endpoints.
type JobsConfig struct {
	// SharedSecret guards every job endpoint; requests must carry it as a
	// bearer token.
	SharedSecret SecretString `envconfig:"JOBS_SHARED_SECRET" validate:"required,min=16"`
}

// MetricsConfig holds job telemetry settings.
type MetricsConfig struct {
	Enabled   bool   `envconfig:"ENABLE_METRICS" default:"false"`
	Namespace string `envconfig:"METRIC_NAMESPACE" default:"ClipHost"`
	AWSRegion string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
