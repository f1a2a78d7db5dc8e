// Package testutil provides fixtures shared by spanprof package tests.
package testutil

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

// NewTestLogger returns a debug-level logger. Under `go test -v` its lines
// go to t.Log so they show up next to the failing test; otherwise they are
// discarded.
func NewTestLogger(t testing.TB) zerolog.Logger {
	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = zerolog.ConsoleWriter{Out: testLogWriter{t: t}, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}}
	}
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Str("test", t.Name()).Logger()
}

type testLogWriter struct {
	t testing.TB
}

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
