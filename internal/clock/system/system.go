// Package system provides the wall clock used for artifact timestamps.
package system

import "time"

// Clock implements crawler.Clock on top of time.Now. Timestamps are UTC and
// truncated to the millisecond, the resolution artifact keys carry.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time at millisecond resolution.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
