package config

import (
	"errors"
	"os"
	"testing"
	"time"
)

// setMinimalTestEnv sets the environment required for a valid Config.
// It uses t.Setenv so values are automatically cleaned up after the test.
func setMinimalTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "local")
	t.Setenv("OPENWEATHER_KEY", "ow_test_key")
}

func TestLoadConfigDefaults(t *testing.T) {
	setMinimalTestEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("Environment = %q, want %q", cfg.Environment, "local")
	}
	if cfg.Server.Port != "8000" {
		t.Errorf("Server.Port = %q, want default %q", cfg.Server.Port, "8000")
	}
	if cfg.Weather.Timeout != 10*time.Second {
		t.Errorf("Weather.Timeout = %v, want 10s", cfg.Weather.Timeout)
	}
	if cfg.Weather.Units != "metric" {
		t.Errorf("Weather.Units = %q, want metric", cfg.Weather.Units)
	}
	if cfg.Prediction.RainThresholdMM != 1.0 {
		t.Errorf("Prediction.RainThresholdMM = %v, want 1.0", cfg.Prediction.RainThresholdMM)
	}
	if cfg.Prediction.DefaultCity != "London" {
		t.Errorf("Prediction.DefaultCity = %q, want London", cfg.Prediction.DefaultCity)
	}
	if cfg.Prediction.TZOffset != 0 {
		t.Errorf("Prediction.TZOffset = %v, want 0", cfg.Prediction.TZOffset)
	}
	if cfg.Models.XGBoostFile != "xgb_model.json" || cfg.Models.ProphetFile != "prophet_model.json" {
		t.Errorf("model files = %q/%q", cfg.Models.ProphetFile, cfg.Models.XGBoostFile)
	}
	if len(cfg.Server.CorsAllowedOrigins) != 1 || cfg.Server.CorsAllowedOrigins[0] != "*" {
		t.Errorf("CorsAllowedOrigins = %v, want [*]", cfg.Server.CorsAllowedOrigins)
	}
	if len(cfg.Updater.Cities) != 1 || cfg.Updater.Cities[0] != "London" {
		t.Errorf("Updater.Cities = %v, want [London]", cfg.Updater.Cities)
	}
	if cfg.Build.Version != "dev" {
		t.Errorf("Build.Version = %q, want dev", cfg.Build.Version)
	}
	if time.Local != time.UTC {
		t.Error("LoadConfig must force time.Local to UTC")
	}
}

func TestLoadConfigSecretIsRedacted(t *testing.T) {
	setMinimalTestEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Weather.APIKey.Unmask() != "ow_test_key" {
		t.Errorf("APIKey.Unmask() = %q", cfg.Weather.APIKey.Unmask())
	}
	if cfg.Weather.APIKey.String() != "***REDACTED***" {
		t.Errorf("APIKey.String() should be redacted, got %q", cfg.Weather.APIKey.String())
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setMinimalTestEnv(t)
	t.Setenv("RAIN_THRESHOLD_MM", "2.5")
	t.Setenv("FEATURE_TZ_OFFSET", "2h")
	t.Setenv("UPDATER_CITIES", "London,Paris")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,https://dryday.app")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Prediction.RainThresholdMM != 2.5 {
		t.Errorf("RainThresholdMM = %v, want 2.5", cfg.Prediction.RainThresholdMM)
	}
	if cfg.Prediction.TZOffset != 2*time.Hour {
		t.Errorf("TZOffset = %v, want 2h", cfg.Prediction.TZOffset)
	}
	if len(cfg.Updater.Cities) != 2 || cfg.Updater.Cities[1] != "Paris" {
		t.Errorf("Updater.Cities = %v", cfg.Updater.Cities)
	}
	if len(cfg.Server.CorsAllowedOrigins) != 2 {
		t.Errorf("CorsAllowedOrigins = %v", cfg.Server.CorsAllowedOrigins)
	}
}

func TestLoadConfigMissingKey(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("OPENWEATHER_KEY", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing OPENWEATHER_KEY")
	}

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
	if cfgErr.Type != ErrMissingEnv {
		t.Errorf("Type = %q, want %q", cfgErr.Type, ErrMissingEnv)
	}
}

func TestLoadConfigMissingKeyViaLookup(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "OPENWEATHER_KEY" {
			return "", false
		}
		return os.LookupEnv(key)
	}

	_, err := load(lookup)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != ErrMissingEnv {
		t.Fatalf("expected MISSING_ENV ConfigError, got %v", err)
	}
}

func TestLoadConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		wantType ConfigErrorType
	}{
		{"negative threshold", "RAIN_THRESHOLD_MM", "-1", ErrValidation},
		{"bad environment", "APP_ENV", "qa", ErrValidation},
		{"bad log level", "LOG_LEVEL", "verbose", ErrValidation},
		{"bad units", "OPENWEATHER_UNITS", "kelvin", ErrValidation},
		{"unparseable threshold", "RAIN_THRESHOLD_MM", "lots", ErrParsing},
		{"unparseable timeout", "OPENWEATHER_TIMEOUT", "soon", ErrParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setMinimalTestEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %v", err)
			}
			if cfgErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q (err: %v)", cfgErr.Type, tt.wantType, err)
			}
		})
	}
}

func TestConfigErrorFormatting(t *testing.T) {
	inner := errors.New("boom")
	withInner := &ConfigError{Type: ErrParsing, Message: "failed", Err: inner}
	if withInner.Error() != "[PARSING_FAILED] failed: boom" {
		t.Errorf("Error() = %q", withInner.Error())
	}
	if !errors.Is(withInner, inner) {
		t.Error("Unwrap should expose the inner error")
	}

	bare := &ConfigError{Type: ErrMissingEnv, Message: "missing"}
	if bare.Error() != "[MISSING_ENV] missing" {
		t.Errorf("Error() = %q", bare.Error())
	}
}
