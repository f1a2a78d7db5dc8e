package helpers

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TimeRange is a start and end time. A zero Start means unbounded.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TimeFlags holds the flag values for time range parsing.
type TimeFlags struct {
	Since string
	From  string
	To    string
}

// AddFlags adds time range flags to a FlagSet.
func (f *TimeFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.Since, "since", "", "Only profiles started within this duration (e.g. 5m, 1h)")
	flags.StringVar(&f.From, "from", "", "Start time (RFC3339 or 'now')")
	flags.StringVar(&f.To, "to", "", "End time (RFC3339 or 'now')")
}

// Parse returns a TimeRange based on the flag values. --from/--to take
// precedence over --since; with neither the range is unbounded.
func (f *TimeFlags) Parse() (*TimeRange, error) {
	return f.parse(time.Now())
}

func (f *TimeFlags) parse(now time.Time) (*TimeRange, error) {
	if f.From != "" {
		start, err := parseTime(f.From, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --from time: %w", err)
		}

		end := now
		if f.To != "" {
			end, err = parseTime(f.To, now)
			if err != nil {
				return nil, fmt.Errorf("invalid --to time: %w", err)
			}
		}
		if end.Before(start) {
			return nil, fmt.Errorf("end time cannot be before start time")
		}
		return &TimeRange{Start: start, End: end}, nil
	}

	if f.Since != "" {
		d, err := time.ParseDuration(f.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since duration: %w", err)
		}
		return &TimeRange{Start: now.Add(-d), End: now}, nil
	}
	return &TimeRange{End: now}, nil
}

// UnixSeconds converts the range to the float seconds stored with
// profiles. Zero bounds stay zero.
func (r *TimeRange) UnixSeconds() (from, to float64) {
	if !r.Start.IsZero() {
		from = float64(r.Start.UnixNano()) / 1e9
	}
	if !r.End.IsZero() {
		to = float64(r.End.UnixNano()) / 1e9
	}
	return from, to
}

func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format (use RFC3339)")
}
