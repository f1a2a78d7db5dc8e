package profiler

// RootIndex is the parent index of spans and records attached to no span.
const RootIndex = -1

// Entry is one timed span. Spans form a tree through ParentIndex, which
// always points at an earlier entry or is RootIndex.
type Entry struct {
	Identifier  string  `json:"identifier"`
	Group       string  `json:"group,omitempty"`
	ParentIndex int     `json:"parent_index"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	MemoryPeak  int64   `json:"memory_peak"`
}

// Error severities. The numeric values follow the classic error-level
// bitmask so stored rows stay comparable across producers.
const (
	SeverityError   = 1
	SeverityWarning = 2
	SeverityNotice  = 8
	SeverityPanic   = 16
)

// ErrorRecord is an error raised while a span was open.
type ErrorRecord struct {
	ParentIndex int    `json:"parent_index"`
	Severity    int    `json:"severity"`
	Message     string `json:"message"`
	File        string `json:"file"`
	Line        int    `json:"line"`
}

// ExtraRecord is an arbitrary value attached to a span. Values must be JSON
// encodable; others are dropped at save time.
type ExtraRecord struct {
	ParentIndex int `json:"parent_index"`
	Value       any `json:"value"`
}

// UploadedFile describes a file received by the profiled request.
type UploadedFile struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Size  int64  `json:"size"`
	Error int    `json:"error"`
}

// Snapshot is the finished profile handed to the save hook and to Storage.
type Snapshot struct {
	ExecutionContext

	Identifier   string        `json:"identifier"`
	Group        string        `json:"group,omitempty"`
	Start        float64       `json:"start"`
	Duration     float64       `json:"duration"`
	MemoryPeak   int64         `json:"memory_peak"`
	Entries      []Entry       `json:"entries"`
	EntriesCount int           `json:"entries_count"`
	Errors       []ErrorRecord `json:"errors,omitempty"`
	Extras       []ExtraRecord `json:"extras,omitempty"`
}

// MetricType distinguishes whole-run aggregates from per-span aggregates.
type MetricType string

const (
	MetricTypeProfile MetricType = "profile"
	MetricTypeEntry   MetricType = "entry"
)

// MetricUpdate feeds Count samples into the aggregate row keyed by
// (Identifier, Type, Group). Duration and MemoryPeak are the mean of those
// samples; the Min/Max/Last fields carry the individual extreme and final
// samples so extrema stay exact when Count > 1.
type MetricUpdate struct {
	Identifier string     `json:"identifier"`
	Type       MetricType `json:"type"`
	Group      string     `json:"group"`
	ProfileID  int64      `json:"profile_id"`
	Count      int64      `json:"count"`

	Duration   float64 `json:"duration"`
	MemoryPeak float64 `json:"memory_peak"`

	LastDuration   float64 `json:"last_duration"`
	LastMemoryPeak int64   `json:"last_memory_peak"`
	MinDuration    float64 `json:"min_duration"`
	MinMemoryPeak  int64   `json:"min_memory_peak"`
	MaxDuration    float64 `json:"max_duration"`
	MaxMemoryPeak  int64   `json:"max_memory_peak"`
}

// Sample builds a single-sample update.
func Sample(identifier string, typ MetricType, group string, profileID int64, duration float64, memoryPeak int64) MetricUpdate {
	return MetricUpdate{
		Identifier:     identifier,
		Type:           typ,
		Group:          group,
		ProfileID:      profileID,
		Count:          1,
		Duration:       duration,
		MemoryPeak:     float64(memoryPeak),
		LastDuration:   duration,
		LastMemoryPeak: memoryPeak,
		MinDuration:    duration,
		MinMemoryPeak:  memoryPeak,
		MaxDuration:    duration,
		MaxMemoryPeak:  memoryPeak,
	}
}

// SaveStatus is the outcome of a Save call that returned no error.
type SaveStatus int

const (
	// StatusSaved means the profile was committed.
	StatusSaved SaveStatus = iota
	// StatusSkipped means there were no spans to persist.
	StatusSkipped
	// StatusCancelled means the save hook declined the snapshot.
	StatusCancelled
)

func (s SaveStatus) String() string {
	switch s {
	case StatusSaved:
		return "saved"
	case StatusSkipped:
		return "skipped"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SaveResult reports what Save did.
type SaveResult struct {
	Status    SaveStatus
	ProfileID int64
	Entries   int
	Errors    int
}
