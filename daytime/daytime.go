// Package daytime holds the wall-clock values shared by schedule records and
// local preferences: a time of day without a date, and calendar-date keys.
package daytime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the layout of calendar-date keys. Keys in this layout sort
// lexicographically in chronological order.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidTimeOfDay is returned when a value is not a valid HH:MM time.
	ErrInvalidTimeOfDay = errors.New("invalid time of day")
	// ErrInvalidDate is returned when a date key does not match DateLayout.
	ErrInvalidDate = errors.New("invalid date")
)

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Of returns the time of day h:m. It does not validate.
func Of(h, m int) TimeOfDay {
	return TimeOfDay{Hour: h, Minute: m}
}

// Valid reports whether t is within 00:00–23:59.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

// String renders t as zero-padded HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Minutes returns the number of minutes since midnight.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// On returns the instant at which t occurs on the calendar day of day, in
// day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// Parse reads an HH:MM value.
func Parse(s string) (TimeOfDay, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(h) == 0 || len(h) > 2 || len(m) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	t := TimeOfDay{Hour: hour, Minute: minute}
	if !t.Valid() {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return t, nil
}

// MustParse is Parse for package-level defaults; it panics on bad input.
func MustParse(s string) TimeOfDay {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// DateOf returns the date key of now in loc. A nil loc means time.Local.
func DateOf(now time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Format(DateLayout)
}

// ParseDate validates a date key and returns it as midnight UTC.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t, nil
}

// DateScore converts a date key to the integer yyyymmdd used to range-scan
// date-indexed records.
func DateScore(date string) (int64, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	y, m, d := t.Date()
	return int64(y)*10000 + int64(m)*100 + int64(d), nil
}
