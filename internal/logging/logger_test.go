package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Output: &buf})

	logger.Info().Msg("info message")
	logger.Warn().Msg("warn message")

	assert.NotContains(t, buf.String(), "info message")
	assert.Contains(t, buf.String(), "warn message")
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "debug", Output: &buf}, "store")

	logger.Debug().Msg("opened")

	assert.Contains(t, buf.String(), `"component":"store"`)
	assert.Contains(t, buf.String(), `"message":"opened"`)
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(Config{Level: "info", Output: &buf})

	Component(parent, "profiler").Info().Msg("saved")
	assert.Contains(t, buf.String(), `"component":"profiler"`)

	nop := Component(zerolog.Nop(), "profiler")
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())
}
