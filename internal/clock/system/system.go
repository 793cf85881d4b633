// Package system provides the wall clock used to stamp archived records.
package system

import "time"

// DefaultPrecision matches the microsecond resolution of Postgres
// TIMESTAMPTZ, so stamped times survive a ledger round trip unchanged.
const DefaultPrecision = time.Microsecond

// Clock implements archive.Clock using time.Now.
type Clock struct {
	precision time.Duration
}

// New creates a Clock truncating to DefaultPrecision.
func New() *Clock {
	return newWithPrecision(DefaultPrecision)
}

// newWithPrecision creates a Clock truncating to p; p <= 0 keeps full
// resolution.
func newWithPrecision(p time.Duration) *Clock {
	return &Clock{precision: p}
}

// Now returns the current UTC time without its monotonic reading.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		return now.Truncate(c.precision)
	}
	return now.Round(0)
}
