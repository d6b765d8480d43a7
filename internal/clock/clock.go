// Package clock defines the time source used by components that persist timestamps.
package clock

import "time"

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
