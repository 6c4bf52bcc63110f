package lease

import "time"

// Clock abstracts the time source for expiry checks so tests can advance
// time without sleeping.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// System returns a Clock backed by time.Now in UTC.
func System() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}
