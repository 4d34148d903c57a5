// Package system provides wall-clock adapters for crawler.Clock.
package system

import "time"

// Clock reads the host wall clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a clock frozen at one instant.
type Fixed time.Time

// Now returns the frozen instant in UTC.
func (f Fixed) Now() time.Time {
	return time.Time(f).UTC()
}
