// Package clock provides the reference clock used by date-sensitive logic.
package clock

import "time"

// Clock reports the reference "now". Core logic never reads the system clock directly.
type Clock interface {
	Now() time.Time
}

// System is the production clock. Times are reported in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Used in tests and replays.
type Fixed time.Time

// Now returns the fixed instant in UTC.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}

// Func adapts a function to the Clock interface.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time {
	return f()
}

// Midnight truncates t to 00:00 of its (UTC) calendar day.
func Midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
