package service

import "time"

// Clock returns the current time. Components take one so tests can move time.
type Clock func() time.Time

func (c Clock) orSystem() Clock {
	if c == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return c
}
