package handlers

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// ClientThrottle keeps one token bucket per client IP for the public API.
type ClientThrottle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type throttleEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewClientThrottle(rps float64, burst int) *ClientThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &ClientThrottle{
		entries: make(map[string]*throttleEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
	}
}

func (t *ClientThrottle) limiter(key string) *rate.Limiter {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if ent, ok := t.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}

	lim := rate.NewLimiter(t.rps, t.burst)
	t.entries[key] = &throttleEntry{lim: lim, lastSeen: now}
	return lim
}

// Middleware rejects requests over the client's budget with 429 and Retry-After.
func (t *ClientThrottle) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if t.rps <= 0 {
			return c.Next()
		}

		reservation := t.limiter(c.IP()).Reserve()
		if delay := reservation.Delay(); delay > 0 {
			reservation.Cancel()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many requests, please try again later",
				"code":    "RATE_LIMITED",
			})
		}
		return c.Next()
	}
}

func (t *ClientThrottle) cleanup() {
	cutoff := time.Now().Add(-t.idleTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	for k, ent := range t.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(t.entries, k)
		}
	}
}

// StartJanitor drops idle clients every interval until ctx is done.
func (t *ClientThrottle) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.cleanup()
			}
		}
	}()
}
