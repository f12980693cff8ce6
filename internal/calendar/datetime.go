package calendar

import (
	"errors"
	"fmt"
	"time"
)

// Wire date formats. The widget exchanges unzoned ISO-style strings:
// "2023-05-01T10:00" (seconds optional) for timed values and "2023-05-01"
// for all-day values. No timezone designator is ever sent or accepted;
// values are wall-clock times in the calendar's own zone.
const (
	dateTimeSecondsLayout = "2006-01-02T15:04:05"
	dateTimeMinutesLayout = "2006-01-02T15:04"
	dateOnlyLayout        = "2006-01-02"
)

// ErrDateFormat reports a start/end value that is neither a date-time nor a
// date. Use errors.Is to detect it behind wrapped errors.
var ErrDateFormat = errors.New("not a date-time or date value")

// ParseDateTime parses a wire date string. The full date-time form is tried
// first; a plain date falls back to that date's start of day. Any other
// input fails with ErrDateFormat.
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range []string{dateTimeSecondsLayout, dateTimeMinutesLayout} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	// Date-only fallback; midnight comes for free from the layout.
	if t, err := time.ParseInLocation(dateOnlyLayout, s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%q: %w", s, ErrDateFormat)
}

// FormatDateTime renders t in the wire date-time form, dropping ":00"
// seconds the way the widget sends them.
func FormatDateTime(t time.Time) string {
	if t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(dateTimeMinutesLayout)
	}
	return t.Format(dateTimeSecondsLayout)
}

// FormatDate renders only the date portion of t.
func FormatDate(t time.Time) string {
	return t.Format(dateOnlyLayout)
}
