// Package system provides the wall-clock implementation of clock.Clock.
package system

import "time"

// Clock reads the system wall clock in UTC.
type Clock struct{}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
