package bus

import "time"

// Backoff is the reconnect policy: delay = base * 2^attempt for at most maxAttempts attempts.
// It holds no timers; the owner sleeps for the returned delay. Not safe for concurrent use.
type Backoff struct {
	base        time.Duration
	maxAttempts int
	attempt     int
}

// NewBackoff creates a policy. Non-positive arguments fall back to 1s and 5 attempts.
func NewBackoff(base time.Duration, maxAttempts int) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Backoff{base: base, maxAttempts: maxAttempts}
}

// Next consumes one attempt and returns the delay to wait before it.
// ok is false once every attempt has been used.
func (b *Backoff) Next() (delay time.Duration, ok bool) {
	if b.attempt >= b.maxAttempts {
		return 0, false
	}
	delay = b.base << uint(b.attempt)
	b.attempt++
	return delay, true
}

// Attempt returns how many attempts have been consumed.
func (b *Backoff) Attempt() int { return b.attempt }

// MaxAttempts returns the attempt cap.
func (b *Backoff) MaxAttempts() int { return b.maxAttempts }

// Exhausted reports whether Next would refuse.
func (b *Backoff) Exhausted() bool { return b.attempt >= b.maxAttempts }

// Reset starts the policy over.
func (b *Backoff) Reset() { b.attempt = 0 }
