package ratelimit

import (
	"sync"
	"time"
)

const nanoPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// Bucket is a token bucket that refills at an integer rate (tokens/sec)
// using the provided Clock.
//
// It counts fixed-point "nano-tokens" to avoid float rounding: one token is
// 1e9 nano-tokens, so a rate of X tokens/sec adds X nano-tokens per elapsed
// nanosecond.
type Bucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	nanoAvailable int64
	lastRefill    time.Time
}

// NewBucket returns a full bucket. A nil clock means the system clock.
func NewBucket(clock Clock, capacity, rate int64) *Bucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}

	return &Bucket{
		clock:         clock,
		capacity:      capacity,
		rate:          rate,
		nanoAvailable: tokensToNano(capacity),
		lastRefill:    clock.Now(),
	}
}

// Allow consumes one token if available.
func (b *Bucket) Allow() bool {
	return b.AllowN(1)
}

// AllowN consumes n tokens if available. n <= 0 always succeeds.
func (b *Bucket) AllowN(n int64) bool {
	if n <= 0 {
		return true
	}

	cost := tokensToNano(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.nanoAvailable < cost {
		return false
	}

	b.nanoAvailable -= cost
	return true
}

func (b *Bucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.lastRefill) {
		// Time went backwards. Skip the refill and move the reference point.
		b.lastRefill = now
		return
	}

	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now

	if b.rate <= 0 || b.capacity <= 0 {
		return
	}

	capacityNano := tokensToNano(b.capacity)
	if b.nanoAvailable >= capacityNano {
		b.nanoAvailable = capacityNano
		return
	}

	need := capacityNano - b.nanoAvailable
	elapsedNanos := elapsed.Nanoseconds()

	// rate is tokens/sec, which equals nano-tokens/ns in the fixed-point
	// representation. Clamp to capacity before the multiply can overflow.
	maxElapsedToFill := need / b.rate
	if maxElapsedToFill <= 0 || elapsedNanos >= maxElapsedToFill {
		b.nanoAvailable = capacityNano
		return
	}

	b.nanoAvailable += elapsedNanos * b.rate
	if b.nanoAvailable > capacityNano {
		b.nanoAvailable = capacityNano
	}
}

func tokensToNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanoPerToken {
		return maxInt64
	}
	return tokens * nanoPerToken
}
