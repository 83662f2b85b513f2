package market

import (
	"fmt"
	"time"
)

const (
	DayLayout      = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
	MilliLayout    = "2006-01-02 15:04:05.000"
	MicroLayout    = "2006-01-02 15:04:05.000000"
)

// Stored timestamps are exchange wall-clock values without a zone; they are
// parsed and formatted in UTC so that no DST or local offset ever shifts them.
var timeLayouts = []string{
	DayLayout,
	DateTimeLayout,
	MilliLayout,
	MicroLayout,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	"20060102",
	"2006/01/02",
}

var clockLayouts = []string{"15:04:05", "15:04:05.000", "15:04:05.000000", "15:04"}

// ParseTime parses a stored date or datetime string.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// ParseClock parses an intraday time-of-day into an offset from midnight.
func ParseClock(s string) (time.Duration, bool) {
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Sub(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC)), true
		}
	}
	return 0, false
}

// FormatTime renders a timestamp as a date when it has no clock part,
// otherwise as a datetime. Sub-second parts are written in milliseconds, or in
// microseconds when finer; anything below a microsecond is dropped.
func FormatTime(t time.Time) string {
	t = t.UTC()
	if t.Equal(Day(t)) {
		return t.Format(DayLayout)
	}
	return t.Format(DateTimeLayout + fraction(t))
}

// FormatClock renders the time-of-day part of t, with the same sub-second
// precision as FormatTime.
func FormatClock(t time.Time) string {
	return t.UTC().Format("15:04:05" + fraction(t))
}

func fraction(t time.Time) string {
	switch ns := t.Nanosecond(); {
	case ns == 0:
		return ""
	case ns%int(time.Millisecond) == 0:
		return ".000"
	default:
		return ".000000"
	}
}

// FormatDay renders the calendar date of t.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Day truncates t to midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// YearQuarter returns the year and 1-based quarter of t.
func YearQuarter(t time.Time) (int, int) {
	return t.Year(), (int(t.Month())-1)/3 + 1
}
