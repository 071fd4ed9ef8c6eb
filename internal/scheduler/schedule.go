package scheduler

import "time"

// Schedule computes fire times for a recurring task. All math is UTC.
type Schedule interface {
	// Next returns the first fire time strictly after the given instant.
	Next(after time.Time) time.Time
}

// Every fires on fixed interval boundaries plus an offset. An hourly task
// with a five minute offset fires at hh:05, leaving time for the previous
// hour's raw rows to land.
type Every struct {
	Interval time.Duration
	Offset   time.Duration
}

func (e Every) Next(after time.Time) time.Time {
	interval := e.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	next := after.UTC().Truncate(interval).Add(e.Offset)
	for !next.After(after) {
		next = next.Add(interval)
	}
	return next
}

// DailyAt fires once a day at the given UTC wall time.
type DailyAt struct {
	Hour   int
	Minute int
}

func (d DailyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := time.Date(after.Year(), after.Month(), after.Day(), d.Hour, d.Minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// WeeklyAt fires once a week on the given weekday at the given UTC wall
// time.
type WeeklyAt struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

func (w WeeklyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	days := (int(w.Weekday) - int(after.Weekday()) + 7) % 7
	next := time.Date(after.Year(), after.Month(), after.Day()+days, w.Hour, w.Minute, 0, 0, time.UTC)
	if !next.After(after) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

// MonthlyAt fires once a month on the given day at the given UTC wall time.
// Days past a month's end clamp to its last day.
type MonthlyAt struct {
	Day    int
	Hour   int
	Minute int
}

func (m MonthlyAt) Next(after time.Time) time.Time {
	after = after.UTC()
	next := m.inMonth(after.Year(), after.Month())
	if !next.After(after) {
		next = m.inMonth(after.Year(), after.Month()+1)
	}
	return next
}

func (m MonthlyAt) inMonth(year int, month time.Month) time.Time {
	// Day zero of the following month is this month's last day
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := m.Day
	if day < 1 {
		day = 1
	}
	if day > last {
		day = last
	}
	return time.Date(year, month, day, m.Hour, m.Minute, 0, 0, time.UTC)
}
