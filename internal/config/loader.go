// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so calendar-date math never depends on the host.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Fail fast if the weather provider key is missing.
//  4. Use envconfig to process struct tags and populate the Config struct.
//  5. Populate BuildInfo from linker-injected variables.
//  6. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid debugging.
type ConfigError struct {
	Type    ConfigErrorType
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// requiredEnv lists variables without which no process can do useful work.
var requiredEnv = []string{"OPENWEATHER_KEY"}

// envLookup matches os.LookupEnv and allows injection for testing.
type envLookup func(key string) (string, bool)

// LoadConfig loads and validates the service configuration from the process
// environment and an optional .env file in the working directory.
func LoadConfig() (*Config, error) {
	return load(os.LookupEnv)
}

func load(lookup envLookup) (*Config, error) {
	time.Local = time.UTC

	// godotenv.Load does not override variables already set in the environment.
	_ = godotenv.Load()

	for _, key := range requiredEnv {
		if v, ok := lookup(key); !ok || v == "" {
			return nil, &ConfigError{
				Type:    ErrMissingEnv,
				Message: fmt.Sprintf("required environment variable %s is not set", key),
			}
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrParsing,
			Message: "failed to process environment configuration",
			Err:     err,
		}
	}

	cfg.Build = NewBuildInfo()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}
