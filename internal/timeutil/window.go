// Package timeutil implements the bucket arithmetic shared by the rollup
// pipeline. All buckets are UTC and half-open [start, end); weeks start on
// Monday and months on the 1st.
package timeutil

import (
	"fmt"
	"time"
)

// Granularity identifies a rollup bucket size.
type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// Granularities lists every supported granularity, finest first.
var Granularities = []Granularity{
	GranularityHourly,
	GranularityDaily,
	GranularityWeekly,
	GranularityMonthly,
}

// ParseGranularity maps a user-supplied string onto the closed granularity
// set.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityHourly, GranularityDaily, GranularityWeekly, GranularityMonthly:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

func (g Granularity) String() string { return string(g) }

// Valid reports whether g is a member of the closed set.
func (g Granularity) Valid() bool {
	_, err := ParseGranularity(string(g))
	return err == nil
}

// Finer returns the next finer granularity used as the summarization source
// for coarse rollups. Weekly and monthly both summarize daily rows; hourly
// has no finer source and returns false.
func (g Granularity) Finer() (Granularity, bool) {
	switch g {
	case GranularityDaily:
		return GranularityHourly, true
	case GranularityWeekly, GranularityMonthly:
		return GranularityDaily, true
	}
	return "", false
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the half-open interval.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsClosed reports whether the window lies entirely in the past. Only closed
// windows may be aggregated; a window containing "now" races with in-flight
// raw writes.
func (w Window) IsClosed(now time.Time) bool {
	return !w.End.After(now)
}

// Validate rejects malformed windows before any SQL runs.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("window bounds must be set")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s",
			w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// TruncateToBucket returns the start of the bucket containing t.
func TruncateToBucket(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHourly:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case GranularityDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		// Monday = 0 offset
		back := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -back)
	case GranularityMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// NextBucket returns the bucket start immediately following start.
func NextBucket(start time.Time, g Granularity) time.Time {
	switch g {
	case GranularityHourly:
		return start.Add(time.Hour)
	case GranularityDaily:
		return start.AddDate(0, 0, 1)
	case GranularityWeekly:
		return start.AddDate(0, 0, 7)
	case GranularityMonthly:
		return start.AddDate(0, 1, 0)
	}
	return start
}

// BucketWindow returns the [start, end) bucket containing t.
func BucketWindow(t time.Time, g Granularity) Window {
	start := TruncateToBucket(t, g)
	return Window{Start: start, End: NextBucket(start, g)}
}

// LastClosedWindow returns the most recently completed bucket relative to
// now: the bucket preceding the one containing now.
func LastClosedWindow(now time.Time, g Granularity) Window {
	current := TruncateToBucket(now, g)
	switch g {
	case GranularityHourly:
		return Window{Start: current.Add(-time.Hour), End: current}
	case GranularityDaily:
		return Window{Start: current.AddDate(0, 0, -1), End: current}
	case GranularityWeekly:
		return Window{Start: current.AddDate(0, 0, -7), End: current}
	case GranularityMonthly:
		return Window{Start: current.AddDate(0, -1, 0), End: current}
	}
	return Window{}
}

// StepWindows enumerates the bucket windows covering [start, end). The first
// window is the bucket containing start; enumeration stops once a bucket
// begins at or after end.
func StepWindows(start, end time.Time, g Granularity) []Window {
	var windows []Window
	for cursor := TruncateToBucket(start, g); cursor.Before(end); cursor = NextBucket(cursor, g) {
		windows = append(windows, Window{Start: cursor, End: NextBucket(cursor, g)})
	}
	return windows
}
