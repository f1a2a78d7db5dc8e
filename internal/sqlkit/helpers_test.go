package sqlkit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInterpolateQuery(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name     string
		query    string
		args     []any
		expected string
	}{
		{
			name:     "string with quote",
			query:    "SELECT * FROM t WHERE name = ?",
			args:     []any{"O'Brien"},
			expected: "SELECT * FROM t WHERE name = 'O''Brien'",
		},
		{
			name:     "numbers and bool",
			query:    "UPDATE t SET a = ?, b = ?, c = ? WHERE d = ?",
			args:     []any{int64(3), 1.5, true, uint8(7)},
			expected: "UPDATE t SET a = 3, b = 1.5, c = true WHERE d = 7",
		},
		{
			name:     "nil and bytes",
			query:    "INSERT INTO t VALUES (?, ?)",
			args:     []any{nil, []byte("x")},
			expected: "INSERT INTO t VALUES (NULL, 'x')",
		},
		{
			name:     "time",
			query:    "SELECT ?",
			args:     []any{ts},
			expected: "SELECT '2024-01-02T03:04:05Z'",
		},
		{
			name:     "whitespace collapsed",
			query:    "SELECT *\n\tFROM t\n\tWHERE a = ?",
			args:     []any{1},
			expected: "SELECT * FROM t WHERE a = 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, InterpolateQuery(tt.query, tt.args))
		})
	}
}
