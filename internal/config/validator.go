package config

import (
	"fmt"
	"strings"

	"github.com/coral-mesh/spanprof/internal/blob"
	"github.com/coral-mesh/spanprof/internal/upsert"
)

// Validator is implemented by validatable configuration.
type Validator interface {
	Validate() error
}

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError collects every invalid field.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []ValidationError
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if c.Version == "" {
		add("version", "version is required")
	}

	switch c.Storage.Driver {
	case "sqlite", "duckdb":
	default:
		add("storage.driver", fmt.Sprintf("driver must be 'sqlite' or 'duckdb', got %q", c.Storage.Driver))
	}
	if c.Storage.Path == "" {
		add("storage.path", "database path is required")
	}
	switch upsert.Mode(c.Storage.UpsertMode) {
	case upsert.ModeAuto, upsert.ModeNative, upsert.ModeEmulated:
	default:
		add("storage.upsert_mode", fmt.Sprintf("upsert mode must be 'auto', 'native' or 'emulated', got %q", c.Storage.UpsertMode))
	}
	if _, err := blob.ParseCompression(c.Storage.Compression); err != nil {
		add("storage.compression", err.Error())
	}
	if c.Storage.BusyTimeout < 0 {
		add("storage.busy_timeout", "busy timeout must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "disabled", "off", "none":
	default:
		add("logging.level", fmt.Sprintf("unknown log level %q", c.Logging.Level))
	}

	switch c.Profiler.MemorySource {
	case "", "process", "runtime":
	default:
		add("profiler.memory_source", fmt.Sprintf("memory source must be 'process' or 'runtime', got %q", c.Profiler.MemorySource))
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		add("metrics.namespace", "namespace is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return &MultiValidationError{Errors: errs}
	}
	return nil
}
