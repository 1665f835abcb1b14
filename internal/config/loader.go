// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone to prevent drift bugs.
//  2. Load .env file via godotenv (non-fatal if absent).
//  3. Scan environment for _SSM_PARAM suffix variables.
//  4. If APP_ENV != "local", resolve SSM parameters via the SecretProvider
//     and inject the resolved values back into the environment.
//  5. Use envconfig to process struct tags and populate the Config struct.
//  6. Validate the struct using go-playground/validator.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ConfigError is a diagnostic error type returned by LoadConfig to aid
// debugging. It wraps a ConfigErrorType and an underlying error.
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

// ssmParamSuffix is the environment variable suffix used to identify SSM
// parameter pointer variables. For example, DATABASE_URL_SSM_PARAM points
// to the SSM path holding the DATABASE_URL secret.
const ssmParamSuffix = "_SSM_PARAM"

// localEnv is the APP_ENV value that bypasses SSM resolution.
const localEnv = "local"

// LoadConfig loads and validates the eventplane configuration.
//
// The provider parameter is the SecretProvider used for SSM resolution.
// For local development the provider may be nil (resolution is skipped).
func LoadConfig(provider SecretProvider) (*Config, error) {
	// Enforce UTC: every timestamp comparison in the scheduler and the
	// workflow engine assumes it.
	time.Local = time.UTC

	// Load .env if present. godotenv does not override existing variables,
	// preserving the priority chain.
	_ = godotenv.Load()

	appEnv, _ := os.LookupEnv("APP_ENV")
	if appEnv != localEnv {
		if err := resolveSSMParams(provider); err != nil {
			return nil, err
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

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, &ConfigError{
			Type:    ErrValidation,
			Message: "configuration validation failed",
			Err:     err,
		}
	}

	return &cfg, nil
}

// resolveSSMParams scans the environment for variables ending in _SSM_PARAM,
// fetches the corresponding secret values via the SecretProvider, and injects
// them back into the environment so that envconfig can process them.
//
// If the target variable is already set, SSM resolution is skipped for that
// variable (priority: OS Environment > Dotenv > SSM).
func resolveSSMParams(provider SecretProvider) error {
	ssmPathToTarget := make(map[string]string)

	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasSuffix(key, ssmParamSuffix) {
			continue
		}

		target := strings.TrimSuffix(key, ssmParamSuffix)
		if _, exists := os.LookupEnv(target); exists {
			continue
		}
		if value == "" {
			continue
		}
		ssmPathToTarget[value] = target
	}

	if len(ssmPathToTarget) == 0 {
		return nil
	}

	if provider == nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "SSM parameters referenced but no secret provider configured",
		}
	}

	paths := make([]string, 0, len(ssmPathToTarget))
	for path := range ssmPathToTarget {
		paths = append(paths, path)
	}

	resolved, err := provider.GetParametersBatch(context.Background(), paths)
	if err != nil {
		return &ConfigError{
			Type:    ErrSSMResolution,
			Message: "failed to resolve SSM parameters",
			Err:     err,
		}
	}

	for path, target := range ssmPathToTarget {
		value, ok := resolved[path]
		if !ok {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("SSM parameter %s not resolved", path),
			}
		}
		if err := os.Setenv(target, value); err != nil {
			return &ConfigError{
				Type:    ErrSSMResolution,
				Message: fmt.Sprintf("failed to set %s from SSM", target),
				Err:     err,
			}
		}
	}

	return nil
}
