package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestEvery_Next(t *testing.T) {
	tests := []struct {
		name     string
		schedule Every
		after    time.Time
		want     time.Time
	}{
		{
			name:     "hourly with offset fires at five past",
			schedule: Every{Interval: time.Hour, Offset: 5 * time.Minute},
			after:    utc(2026, 8, 19, 10, 30),
			want:     utc(2026, 8, 19, 11, 5),
		},
		{
			name:     "hourly with offset before the offset fires same hour",
			schedule: Every{Interval: time.Hour, Offset: 5 * time.Minute},
			after:    time.Date(2026, 8, 19, 10, 4, 59, 0, time.UTC),
			want:     utc(2026, 8, 19, 10, 5),
		},
		{
			name:     "exactly on the boundary moves to the next fire",
			schedule: Every{Interval: time.Hour, Offset: 5 * time.Minute},
			after:    utc(2026, 8, 19, 10, 5),
			want:     utc(2026, 8, 19, 11, 5),
		},
		{
			name:     "five minute interval without offset",
			schedule: Every{Interval: 5 * time.Minute},
			after:    time.Date(2026, 8, 19, 10, 32, 10, 0, time.UTC),
			want:     utc(2026, 8, 19, 10, 35),
		},
		{
			name:     "zero interval defaults to a minute",
			schedule: Every{},
			after:    time.Date(2026, 8, 19, 10, 30, 20, 0, time.UTC),
			want:     utc(2026, 8, 19, 10, 31),
		},
		{
			name:     "day boundary",
			schedule: Every{Interval: time.Hour, Offset: 5 * time.Minute},
			after:    utc(2026, 8, 19, 23, 40),
			want:     utc(2026, 8, 20, 0, 5),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(tt.after))
		})
	}
}

func TestDailyAt_Next(t *testing.T) {
	schedule := DailyAt{Hour: 0, Minute: 10}

	tests := []struct {
		name  string
		after time.Time
		want  time.Time
	}{
		{
			name:  "before todays fire",
			after: utc(2026, 8, 19, 0, 5),
			want:  utc(2026, 8, 19, 0, 10),
		},
		{
			name:  "after todays fire",
			after: utc(2026, 8, 19, 15, 0),
			want:  utc(2026, 8, 20, 0, 10),
		},
		{
			name:  "exactly at the fire time",
			after: utc(2026, 8, 19, 0, 10),
			want:  utc(2026, 8, 20, 0, 10),
		},
		{
			name:  "year boundary",
			after: utc(2026, 12, 31, 23, 0),
			want:  utc(2027, 1, 1, 0, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, schedule.Next(tt.after))
		})
	}
}

func TestWeeklyAt_Next(t *testing.T) {
	// Monday 00:30, the weekly rollup cadence
	monday := WeeklyAt{Weekday: time.Monday, Hour: 0, Minute: 30}

	tests := []struct {
		name     string
		schedule WeeklyAt
		after    time.Time
		want     time.Time
	}{
		{
			name:     "midweek jumps to next monday",
			schedule: monday,
			after:    utc(2026, 8, 19, 10, 0), // Wednesday
			want:     utc(2026, 8, 24, 0, 30),
		},
		{
			name:     "monday before the fire time stays on that monday",
			schedule: monday,
			after:    utc(2026, 8, 17, 0, 0),
			want:     utc(2026, 8, 17, 0, 30),
		},
		{
			name:     "monday at the fire time moves a week out",
			schedule: monday,
			after:    utc(2026, 8, 17, 0, 30),
			want:     utc(2026, 8, 24, 0, 30),
		},
		{
			name:     "sunday cadence",
			schedule: WeeklyAt{Weekday: time.Sunday, Hour: 3, Minute: 0},
			after:    utc(2026, 8, 19, 10, 0),
			want:     utc(2026, 8, 23, 3, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(tt.after))
		})
	}
}

func TestMonthlyAt_Next(t *testing.T) {
	schedule := MonthlyAt{Day: 1, Hour: 1, Minute: 0}

	tests := []struct {
		name     string
		schedule MonthlyAt
		after    time.Time
		want     time.Time
	}{
		{
			name:     "mid month jumps to the first of next month",
			schedule: schedule,
			after:    utc(2026, 8, 19, 10, 0),
			want:     utc(2026, 9, 1, 1, 0),
		},
		{
			name:     "on the first before the fire time",
			schedule: schedule,
			after:    utc(2026, 8, 1, 0, 30),
			want:     utc(2026, 8, 1, 1, 0),
		},
		{
			name:     "exactly at the fire time",
			schedule: schedule,
			after:    utc(2026, 8, 1, 1, 0),
			want:     utc(2026, 9, 1, 1, 0),
		},
		{
			name:     "year boundary",
			schedule: schedule,
			after:    utc(2026, 12, 5, 0, 0),
			want:     utc(2027, 1, 1, 1, 0),
		},
		{
			name:     "day 31 clamps to short months",
			schedule: MonthlyAt{Day: 31, Hour: 1, Minute: 0},
			after:    utc(2026, 2, 10, 0, 0),
			want:     utc(2026, 2, 28, 1, 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.schedule.Next(tt.after))
		})
	}
}

func TestSchedules_NextIsStrictlyAfter(t *testing.T) {
	schedules := []Schedule{
		Every{Interval: time.Hour, Offset: 5 * time.Minute},
		Every{Interval: 2 * time.Minute},
		DailyAt{Hour: 2, Minute: 0},
		WeeklyAt{Weekday: time.Sunday, Hour: 4, Minute: 0},
		MonthlyAt{Day: 1, Hour: 1, Minute: 0},
	}

	instants := []time.Time{
		utc(2026, 1, 1, 0, 0),
		utc(2026, 2, 28, 23, 59),
		utc(2026, 8, 19, 10, 30),
		utc(2026, 12, 31, 23, 59),
	}

	for _, s := range schedules {
		for _, after := range instants {
			next := s.Next(after)
			assert.True(t, next.After(after),
				"Next(%s) = %s is not after its input", after, next)

			// Advancing from the computed fire must keep moving forward
			assert.True(t, s.Next(next).After(next))
		}
	}
}
