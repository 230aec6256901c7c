// Package config defines the configuration structure for the DryDay service.
// Configuration is loaded once at process start and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> struct tag defaults (Lowest)
//
// A missing required value (the weather provider key) or an invalid format
// aborts startup.
package config

import (
	"time"

	"dryday/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"dryday"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Weather       WeatherConfig
	Prediction    PredictionConfig
	Models        ModelConfig
	Data          DataConfig
	Observability ObservabilityConfig
	Updater       UpdaterConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port               string        `envconfig:"PORT" default:"8000"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// WeatherConfig holds the forecast provider credentials and transport settings.
type WeatherConfig struct {
	APIKey  SecretString  `envconfig:"OPENWEATHER_KEY" validate:"required"`
	BaseURL string        `envconfig:"OPENWEATHER_BASE_URL" default:"https://api.openweathermap.org/data/2.5/forecast" validate:"url"`
	Units   string        `envconfig:"OPENWEATHER_UNITS" default:"metric" validate:"oneof=metric imperial standard"`
	Timeout time.Duration `envconfig:"OPENWEATHER_TIMEOUT" default:"10s" validate:"gt=0"`
}

// PredictionConfig holds the decision settings for the laundry question.
type PredictionConfig struct {
	DefaultCity     string  `envconfig:"DEFAULT_CITY" default:"London"`
	RainThresholdMM float64 `envconfig:"RAIN_THRESHOLD_MM" default:"1.0" validate:"gte=0"`
	// TZOffset shifts forecast timestamps before they are truncated to a
	// calendar date. Zero means UTC dates.
	TZOffset time.Duration `envconfig:"FEATURE_TZ_OFFSET" default:"0s"`
	// TZFromLocation uses the provider's per-location UTC offset when
	// TZOffset is zero.
	TZFromLocation bool `envconfig:"FEATURE_TZ_FROM_LOCATION" default:"false"`
}

// ModelConfig locates the persisted model artifacts.
type ModelConfig struct {
	Dir            string `envconfig:"MODEL_DIR" default:"models" validate:"required"`
	ProphetFile    string `envconfig:"PROPHET_MODEL_FILE" default:"prophet_model.json" validate:"required"`
	XGBoostFile    string `envconfig:"XGB_MODEL_FILE" default:"xgb_model.json" validate:"required"`
	UploadMaxBytes int64  `envconfig:"MODEL_UPLOAD_MAX_BYTES" default:"33554432" validate:"gt=0"`
}

// DataConfig locates the historical dataset and the static city index.
type DataConfig struct {
	Dir           string `envconfig:"DATA_DIR" default:"data" validate:"required"`
	DatasetPath   string `envconfig:"DATASET_PATH" default:"data/daily_London.csv" validate:"required"`
	CityIndexPath string `envconfig:"CITY_INDEX_PATH" default:"data/world_cities.json" validate:"required"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"DryDay"`
	AWSRegion       string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack Support (Empty in Prod)
	AWSEndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// UpdaterConfig drives the daily dataset updater.
type UpdaterConfig struct {
	Cities      []string `envconfig:"UPDATER_CITIES" default:"London" validate:"min=1,dive,required"`
	Schedule    string   `envconfig:"UPDATER_SCHEDULE" default:"@daily"`
	Concurrency int      `envconfig:"UPDATER_CONCURRENCY" default:"4" validate:"gte=1"`
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
