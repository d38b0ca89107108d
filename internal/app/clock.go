package app

import "time"

// Clock abstracts the wall clock so urgency and scheduling math can be
// tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
