package reminder

import "time"

// Clock supplies the current time. Every component that needs "now" takes
// one, so tests can advance time deterministically instead of sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to a Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
func SystemClock() Clock { return ClockFunc(time.Now) }
