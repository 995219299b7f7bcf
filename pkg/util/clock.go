package util

import "time"

// Clock abstracts the time source so sessions can be tested with a fixed
// clock. Order and trade timestamps all flow through it.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
