package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func TestParseGranularity(t *testing.T) {
	tests := []struct {
		input   string
		want    Granularity
		wantErr bool
	}{
		{"hourly", GranularityHourly, false},
		{"daily", GranularityDaily, false},
		{"weekly", GranularityWeekly, false},
		{"monthly", GranularityMonthly, false},
		{"HOURLY", "", true},
		{"minute", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseGranularity(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}

func TestGranularity_Finer(t *testing.T) {
	finer, ok := GranularityDaily.Finer()
	assert.True(t, ok)
	assert.Equal(t, GranularityHourly, finer)

	finer, ok = GranularityWeekly.Finer()
	assert.True(t, ok)
	assert.Equal(t, GranularityDaily, finer)

	finer, ok = GranularityMonthly.Finer()
	assert.True(t, ok)
	assert.Equal(t, GranularityDaily, finer)

	_, ok = GranularityHourly.Finer()
	assert.False(t, ok)
}

func TestTruncateToBucket(t *testing.T) {
	at := ts("2026-08-19T14:37:22Z") // a Wednesday

	tests := []struct {
		name string
		g    Granularity
		want time.Time
	}{
		{"hourly", GranularityHourly, ts("2026-08-19T14:00:00Z")},
		{"daily", GranularityDaily, ts("2026-08-19T00:00:00Z")},
		{"weekly starts Monday", GranularityWeekly, ts("2026-08-17T00:00:00Z")},
		{"monthly starts on the 1st", GranularityMonthly, ts("2026-08-01T00:00:00Z")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateToBucket(at, tt.g))
		})
	}
}

func TestTruncateToBucket_WeeklyOnMondayAndSunday(t *testing.T) {
	monday := ts("2026-08-17T00:00:00Z")
	assert.Equal(t, monday, TruncateToBucket(monday, GranularityWeekly))

	sunday := ts("2026-08-23T23:59:59Z")
	assert.Equal(t, monday, TruncateToBucket(sunday, GranularityWeekly))
}

func TestTruncateToBucket_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	local := time.Date(2026, 8, 19, 1, 30, 0, 0, loc) // 2026-08-18T22:30Z

	assert.Equal(t, ts("2026-08-18T22:00:00Z"), TruncateToBucket(local, GranularityHourly))
	assert.Equal(t, ts("2026-08-18T00:00:00Z"), TruncateToBucket(local, GranularityDaily))
}

func TestNextBucket(t *testing.T) {
	assert.Equal(t, ts("2026-08-19T15:00:00Z"), NextBucket(ts("2026-08-19T14:00:00Z"), GranularityHourly))
	assert.Equal(t, ts("2026-08-20T00:00:00Z"), NextBucket(ts("2026-08-19T00:00:00Z"), GranularityDaily))
	assert.Equal(t, ts("2026-08-24T00:00:00Z"), NextBucket(ts("2026-08-17T00:00:00Z"), GranularityWeekly))
	assert.Equal(t, ts("2026-09-01T00:00:00Z"), NextBucket(ts("2026-08-01T00:00:00Z"), GranularityMonthly))
	// Month lengths vary
	assert.Equal(t, ts("2026-03-01T00:00:00Z"), NextBucket(ts("2026-02-01T00:00:00Z"), GranularityMonthly))
	assert.Equal(t, ts("2027-01-01T00:00:00Z"), NextBucket(ts("2026-12-01T00:00:00Z"), GranularityMonthly))
}

func TestBucketWindow(t *testing.T) {
	w := BucketWindow(ts("2026-08-19T14:37:22Z"), GranularityHourly)

	assert.Equal(t, ts("2026-08-19T14:00:00Z"), w.Start)
	assert.Equal(t, ts("2026-08-19T15:00:00Z"), w.End)
	assert.Equal(t, time.Hour, w.Duration())
}

func TestLastClosedWindow_NeverContainsNow(t *testing.T) {
	now := ts("2026-08-19T14:37:22Z")

	for _, g := range Granularities {
		t.Run(string(g), func(t *testing.T) {
			w := LastClosedWindow(now, g)
			assert.True(t, w.IsClosed(now), "window %s must be closed at %s", w, now)
			assert.False(t, w.Contains(now))
			assert.Equal(t, w.End, TruncateToBucket(now, g))
		})
	}
}

func TestLastClosedWindow_Hourly(t *testing.T) {
	w := LastClosedWindow(ts("2026-08-19T14:37:22Z"), GranularityHourly)

	assert.Equal(t, ts("2026-08-19T13:00:00Z"), w.Start)
	assert.Equal(t, ts("2026-08-19T14:00:00Z"), w.End)
}

func TestLastClosedWindow_MonthlyAcrossYearBoundary(t *testing.T) {
	w := LastClosedWindow(ts("2026-01-15T08:00:00Z"), GranularityMonthly)

	assert.Equal(t, ts("2025-12-01T00:00:00Z"), w.Start)
	assert.Equal(t, ts("2026-01-01T00:00:00Z"), w.End)
}

func TestWindow_Contains_HalfOpen(t *testing.T) {
	w := Window{Start: ts("2026-08-19T14:00:00Z"), End: ts("2026-08-19T15:00:00Z")}

	assert.True(t, w.Contains(w.Start), "start is inclusive")
	assert.False(t, w.Contains(w.End), "end is exclusive")
	assert.True(t, w.Contains(ts("2026-08-19T14:59:59Z")))
	assert.False(t, w.Contains(ts("2026-08-19T13:59:59Z")))
}

func TestWindow_Validate(t *testing.T) {
	valid := Window{Start: ts("2026-08-19T14:00:00Z"), End: ts("2026-08-19T15:00:00Z")}
	assert.NoError(t, valid.Validate())

	assert.Error(t, Window{}.Validate())
	assert.Error(t, Window{Start: valid.End, End: valid.Start}.Validate())
	assert.Error(t, Window{Start: valid.Start, End: valid.Start}.Validate(), "empty window is invalid")
}

func TestWindow_IsClosed(t *testing.T) {
	w := Window{Start: ts("2026-08-19T14:00:00Z"), End: ts("2026-08-19T15:00:00Z")}

	assert.False(t, w.IsClosed(ts("2026-08-19T14:30:00Z")))
	assert.True(t, w.IsClosed(ts("2026-08-19T15:00:00Z")), "closed exactly at end")
	assert.True(t, w.IsClosed(ts("2026-08-19T16:00:00Z")))
}

func TestStepWindows_Daily(t *testing.T) {
	windows := StepWindows(ts("2026-08-01T00:00:00Z"), ts("2026-08-04T00:00:00Z"), GranularityDaily)

	assert.Len(t, windows, 3)
	assert.Equal(t, ts("2026-08-01T00:00:00Z"), windows[0].Start)
	assert.Equal(t, ts("2026-08-02T00:00:00Z"), windows[0].End)
	assert.Equal(t, ts("2026-08-03T00:00:00Z"), windows[2].Start)
}

func TestStepWindows_AlignsFirstWindow(t *testing.T) {
	windows := StepWindows(ts("2026-08-01T10:30:00Z"), ts("2026-08-02T00:00:00Z"), GranularityHourly)

	assert.Equal(t, ts("2026-08-01T10:00:00Z"), windows[0].Start)
	assert.Len(t, windows, 14)
}

func TestStepWindows_EmptyRange(t *testing.T) {
	at := ts("2026-08-01T00:00:00Z")
	assert.Empty(t, StepWindows(at, at, GranularityDaily))
	assert.Empty(t, StepWindows(at, at.Add(-time.Hour), GranularityDaily))
}

func TestStepWindows_Monthly(t *testing.T) {
	windows := StepWindows(ts("2026-01-15T00:00:00Z"), ts("2026-04-01T00:00:00Z"), GranularityMonthly)

	assert.Len(t, windows, 3)
	assert.Equal(t, ts("2026-01-01T00:00:00Z"), windows[0].Start)
	assert.Equal(t, ts("2026-03-01T00:00:00Z"), windows[2].Start)
	assert.Equal(t, ts("2026-04-01T00:00:00Z"), windows[2].End)
}
