package observer

import (
	"sync"
	"time"
)

// BreakerState is a point-in-time view of a Breaker.
type BreakerState struct {
	IsOpen        bool
	RetryCount    int
	LastSuccessAt time.Time
}

// Breaker counts consecutive fetch failures and opens after maxRetries. It
// does not schedule its own reset; the owning session does.
type Breaker struct {
	mu            sync.Mutex
	maxRetries    int
	retryCount    int
	open          bool
	lastSuccessAt time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(maxRetries int) *Breaker {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Breaker{maxRetries: maxRetries}
}

// Failure records a failed fetch. It returns the new retry count and whether
// this failure opened the breaker.
func (b *Breaker) Failure() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryCount++
	if !b.open && b.retryCount >= b.maxRetries {
		b.open = true
		return b.retryCount, true
	}
	return b.retryCount, false
}

// Success closes the breaker and clears the retry count.
func (b *Breaker) Success(at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryCount = 0
	b.open = false
	b.lastSuccessAt = at
}

// Reset closes the breaker after its cool-down.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryCount = 0
	b.open = false
}

// IsOpen reports whether polling is suspended.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// State returns a copy of the breaker's counters.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{IsOpen: b.open, RetryCount: b.retryCount, LastSuccessAt: b.lastSuccessAt}
}

// Backoff returns min(base * 2^attempt, max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
