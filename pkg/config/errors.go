package config

import (
	"errors"
	"fmt"
)

// Configuration errors, for comparison with errors.Is
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")
)

// ConfigError describes which setting was rejected and why
type ConfigError struct {
	Op      string // e.g. "Config.Validate", "LoadFromEnv"
	Field   string // dotted setting name, e.g. "storage.redis_url"
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Field != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Field, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": configuration error"
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}

func invalid(op, field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Op: op, Field: field, Message: fmt.Sprintf(format, args...), Err: ErrInvalidConfiguration}
}

func missing(op, field, message string) *ConfigError {
	return &ConfigError{Op: op, Field: field, Message: message, Err: ErrMissingConfiguration}
}
