package shared

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Clock abstracts wall-clock reads and waits so the bucket can be driven by tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is the Clock backed by the time package.
var SystemClock Clock = systemClock{}

// TokenBucket gates calls to the vehicle registry. Tokens are restored in whole
// refill periods: every elapsed period adds capacity tokens, capped at capacity,
// and the refill marker moves forward by exactly the elapsed periods.
type TokenBucket struct {
	capacity     int
	refillPeriod time.Duration
	clock        Clock

	mutex      sync.Mutex // guards tokens, lastRefill and granted
	tokens     int
	lastRefill time.Time
	granted    int64
}

type TokenBucketOption func(*TokenBucket)

// WithClock replaces the system clock.
func WithClock(clock Clock) TokenBucketOption {
	return func(b *TokenBucket) {
		b.clock = clock
	}
}

// NewTokenBucket creates a full bucket. Non-positive settings fall back to one
// token per second.
func NewTokenBucket(capacity int, refillPeriod time.Duration, opts ...TokenBucketOption) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillPeriod <= 0 {
		refillPeriod = time.Second
	}

	bucket := &TokenBucket{
		capacity:     capacity,
		refillPeriod: refillPeriod,
		clock:        SystemClock,
	}
	for _, opt := range opts {
		opt(bucket)
	}

	bucket.tokens = capacity
	bucket.lastRefill = bucket.clock.Now()
	return bucket
}

// Acquire blocks until a token is available and consumes it. The only error is
// the context's, returned when the caller gives up while waiting.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	start := b.clock.Now()

	for {
		wait, ok := b.take()
		if ok {
			RateLimiterWaitSeconds.Observe(b.clock.Now().Sub(start).Seconds())
			return nil
		}

		logrus.WithFields(logrus.Fields{
			"component":     "TokenBucket",
			"capacity":      b.capacity,
			"refill_period": b.refillPeriod,
			"wait":          wait,
		}).Debug("Token bucket empty, waiting for next refill boundary")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.clock.After(wait):
		}
	}
}

// TryAcquire consumes a token if one is available without waiting.
func (b *TokenBucket) TryAcquire() bool {
	_, ok := b.take()
	return ok
}

// take reconciles and either consumes a token or reports how long until the next boundary.
func (b *TokenBucket) take() (time.Duration, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	now := b.clock.Now()
	b.reconcile(now)

	if b.tokens > 0 {
		b.tokens--
		b.granted++
		return 0, true
	}

	wait := b.lastRefill.Add(b.refillPeriod).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, false
}

// reconcile must be called with the mutex held.
func (b *TokenBucket) reconcile(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed < b.refillPeriod {
		return
	}

	intervals := int64(elapsed / b.refillPeriod)
	refill := int64(b.capacity) * intervals
	if refill > int64(b.capacity-b.tokens) {
		b.tokens = b.capacity
	} else {
		b.tokens += int(refill)
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.refillPeriod)
}

// Available returns the number of tokens left after reconciling with the clock.
func (b *TokenBucket) Available() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.reconcile(b.clock.Now())
	return b.tokens
}

// GrantedCount returns the total number of tokens handed out.
func (b *TokenBucket) GrantedCount() int64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.granted
}

func (b *TokenBucket) Capacity() int {
	return b.capacity
}

func (b *TokenBucket) RefillPeriod() time.Duration {
	return b.refillPeriod
}
