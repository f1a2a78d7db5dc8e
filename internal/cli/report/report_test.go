package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/spanprof/internal/cli/helpers"
	"github.com/coral-mesh/spanprof/pkg/profiler"
	"github.com/coral-mesh/spanprof/pkg/store"
)

func metricRows() []store.MetricRow {
	return []store.MetricRow{
		{
			Identifier: "checkout", Type: profiler.MetricTypeProfile, Count: 2,
			AvgDuration: 2, MinDuration: 1, MaxDuration: 3, LastDuration: 3,
			AvgMemoryPeak: 2048, MaxMemoryPeak: 4096, MaxDurationProfileID: 7,
		},
		{
			Identifier: "search", Type: profiler.MetricTypeProfile, Group: "api", Count: 1,
			AvgDuration: 0.25, MinDuration: 0.25, MaxDuration: 0.25, LastDuration: 0.25,
			AvgMemoryPeak: 512, MaxMemoryPeak: 512, MaxDurationProfileID: 3,
		},
	}
}

func TestWriteMetrics_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, helpers.FormatTable, metricRows()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "IDENTIFIER")
	assert.Contains(t, lines[0], "SLOWEST")
	assert.Contains(t, lines[1], "checkout")
	assert.Contains(t, lines[1], "2.00s")
	assert.Contains(t, lines[1], "4.0KiB")
	assert.Contains(t, lines[2], "250.0ms")
	assert.Contains(t, lines[2], "api")
}

func TestWriteMetrics_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, helpers.FormatCSV, metricRows()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "identifier,type,group,count,avg_duration,min_duration,max_duration,last_duration,avg_memory_peak,max_memory_peak,max_duration_profile_id", lines[0])
	assert.Equal(t, "checkout,profile,,2,2.000000,1.000000,3.000000,3.000000,2048.000000,4096,7", lines[1])
}

func TestWriteMetrics_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, helpers.FormatJSON, metricRows()))

	var got []store.MetricRow
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, metricRows(), got)

	buf.Reset()
	require.NoError(t, writeMetrics(&buf, helpers.FormatJSON, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteMetrics_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMetrics(&buf, helpers.FormatTable, nil))
	assert.Equal(t, "No metrics recorded.\n", buf.String())
}

func TestWriteProfiles(t *testing.T) {
	rows := []store.ProfileRecord{{
		ID:         4,
		ErrorCount: 1,
		Snapshot: profiler.Snapshot{
			ExecutionContext: profiler.ExecutionContext{Method: "POST", URL: "/checkout", Status: 201},
			Identifier:       "checkout",
			Start:            1700000000.5,
			Duration:         0.125,
			MemoryPeak:       1 << 20,
			EntriesCount:     3,
		},
	}}

	var buf bytes.Buffer
	require.NoError(t, writeProfiles(&buf, helpers.FormatTable, rows))
	out := buf.String()
	assert.Contains(t, out, "POST /checkout")
	assert.Contains(t, out, "201")
	assert.Contains(t, out, "125.0ms")
	assert.Contains(t, out, "1.0MiB")

	buf.Reset()
	require.NoError(t, writeProfiles(&buf, helpers.FormatCSV, rows))
	assert.Contains(t, buf.String(), "4,1700000000.500000,checkout,,POST,/checkout,201,0.125000,1048576,3,1")

	buf.Reset()
	require.NoError(t, writeProfiles(&buf, helpers.FormatTable, nil))
	assert.Equal(t, "No profiles found.\n", buf.String())
}

func TestWriteProfile(t *testing.T) {
	rec := &store.ProfileRecord{
		ID: 9,
		Snapshot: profiler.Snapshot{
			ExecutionContext: profiler.ExecutionContext{
				Method:  "GET",
				URL:     "/search?q=go",
				IP:      "203.0.113.7",
				Headers: map[string]string{"Accept": "text/html"},
				Query:   map[string]any{"q": "go"},
			},
			Identifier:   "search",
			Group:        "api",
			Duration:     1,
			EntriesCount: 2,
			Entries: []profiler.Entry{
				{Identifier: "search", ParentIndex: profiler.RootIndex, Duration: 1},
				{Identifier: "db.query", Group: "sql", ParentIndex: 0, Duration: 0.75},
			},
			Errors: []profiler.ErrorRecord{
				{ParentIndex: 1, Severity: profiler.SeverityWarning, Message: "slow query", File: "db.go", Line: 12},
			},
			Extras: []profiler.ExtraRecord{{ParentIndex: profiler.RootIndex, Value: "cache miss"}},
		},
	}
	slow := func(n *helpers.SpanNode) bool { return n.Entry.Identifier == "db.query" }

	var buf bytes.Buffer
	require.NoError(t, writeProfile(&buf, rec, slow))
	out := buf.String()

	assert.Contains(t, out, "Profile #9: search [api]")
	assert.Contains(t, out, "Request:    GET /search?q=go")
	assert.Contains(t, out, "Client IP:  203.0.113.7")
	assert.Contains(t, out, "Accept: text/html")
	assert.Contains(t, out, "q: go")
	assert.Contains(t, out, "db.query [sql] (750.0ms")
	assert.Contains(t, out, "← SLOW")
	assert.Contains(t, out, "WARNING slow query (db.go:12) in #1")
	assert.Contains(t, out, "  cache miss\n")
	assert.NotContains(t, out, "Status:")
}

func TestParseProfileID(t *testing.T) {
	id, err := parseProfileID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseProfileID(bad)
		assert.Error(t, err, bad)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
