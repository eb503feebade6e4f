// Package ratelimit provides a deterministic token bucket used to cap
// per-session signaling message rates.
package ratelimit

import "time"

// Clock abstracts time so buckets can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
