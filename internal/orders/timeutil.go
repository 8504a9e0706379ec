package orders

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the query date format (ISO calendar date).
const DateLayout = "2006-01-02"

// ErrInvalidDate is returned when a query date is not a YYYY-MM-DD calendar date.
var ErrInvalidDate = errors.New("invalid date")

// localLayouts are accepted for timestamps that carry no UTC offset.
// Parsing also accepts a fractional second after the seconds field.
var localLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses RFC 3339 timestamps, and offset-less timestamps as wall time in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}

	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}

	for _, layout := range localLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// DayBounds returns the half-open interval [start, end) covering the local calendar day
// named by date in loc. start is 00:00:00 and end is the following local midnight, so every
// instant up to and including 23:59:59.999999999 is inside and 00:00:00 of the next day is not.
func DayBounds(date string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	return start, start.AddDate(0, 0, 1), nil
}

// LocalDate formats ts as the calendar date it falls on in loc.
func LocalDate(ts time.Time, loc *time.Location) string {
	return ts.In(loc).Format(DateLayout)
}
