package openai

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a simple rate limiter that uses the token bucket algorithm.
// Clients given the same RateLimiter through WithRateLimiter draw from one
// bucket.
type RateLimiter struct {
	mu       sync.Mutex // protect access to lastTime and tokens
	lastTime time.Time
	tokens   int

	window time.Duration
	rate   int
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter for the given number of tokens
// over the provided time window. E.g. NewRateLimiter(10, time.Minute) will
// allow 10 units of work to happen over a minute. A rate <= 0 disables
// limiting.
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:   window,
		rate:     rate,
		lastTime: time.Now(),
		tokens:   rate,
		now:      time.Now,
	}
}

// Acquire returns nil if work can proceed. If the provided context is Done
// Acquire will return context.Err(). If the bucket is empty, Acquire will sleep
// until at least one token is available.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	if rl == nil || rl.rate <= 0 {
		return nil
	}
	for {
		if ok := rl.tryAcquire(); ok {
			return nil
		}

		timer := time.NewTimer(rl.window / time.Duration(rl.rate))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// The bucket was empty. Assuming an even distribution of tokens
			// across the window, 1/Nth of the window refills one token.
		}
	}
}

func (rl *RateLimiter) tryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Put tokens into the bucket, the number proportional to the duration since
	// the last refill. Only advance lastTime by the time that was converted
	// into whole tokens so partial progress isn't lost between calls.
	now := rl.now()
	perToken := rl.window / time.Duration(rl.rate)
	if added := int(now.Sub(rl.lastTime) / perToken); added > 0 {
		rl.tokens = min(rl.tokens+added, rl.rate)
		rl.lastTime = rl.lastTime.Add(time.Duration(added) * perToken)
		if rl.tokens == rl.rate {
			rl.lastTime = now
		}
	}

	// If the bucket is exhausted then the caller cannot proceed immediately.
	if rl.tokens <= 0 {
		return false
	}

	rl.tokens--
	return true
}
