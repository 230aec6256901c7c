package types

import "time"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns T. Used to freeze the reference date.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }
