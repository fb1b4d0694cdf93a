package util

import "time"

// Clock abstracts wall-clock reads and timer waits so the matching loop and
// the relayer's batch timer and retry backoff can run against a fake clock
// in tests.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }
