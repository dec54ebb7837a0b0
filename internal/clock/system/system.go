// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reads the host clock in UTC at microsecond precision, the finest
// Postgres keeps, so timestamps compare equal after a store round trip.
type Clock struct{}

// New returns a wall Clock.
func New() *Clock { return &Clock{} }

// Now implements links.Clock.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
