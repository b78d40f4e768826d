package server

import (
	"time"

	"github.com/jonboulle/clockwork"
)

type zonedClock struct {
	clockwork.Clock
	loc *time.Location
}

func (c zonedClock) Now() time.Time {
	return c.Clock.Now().In(c.loc)
}

// NewClock returns the system clock reporting times in loc.
func NewClock(loc *time.Location) clockwork.Clock {
	if loc == nil {
		loc = time.Local
	}
	return zonedClock{Clock: clockwork.NewRealClock(), loc: loc}
}
