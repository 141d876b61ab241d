package politeness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/gov-crawler/internal/metrics"
)

// Cooldown enforces the minimum spacing between requests to the same origin.
// Each origin owns a token bucket with burst 1 refilled once per delay, so two
// workers hitting the same origin are serialized instead of racing on a timestamp.
type Cooldown struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	last     map[string]time.Time
	now      func() time.Time
}

// NewCooldown creates an empty Cooldown.
func NewCooldown() *Cooldown {
	return &Cooldown{
		limiters: make(map[string]*rate.Limiter),
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Wait blocks until a request to origin may be issued under delay, then records
// the request time. The first request to an origin never waits.
func (c *Cooldown) Wait(ctx context.Context, origin string, delay time.Duration) error {
	limiter := c.limiter(origin, delay)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("cooldown wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveCooldownWait(origin, waited)
	}

	c.mu.Lock()
	c.last[origin] = c.now()
	c.mu.Unlock()
	return nil
}

// LastRequest returns when the most recent request to origin was released.
func (c *Cooldown) LastRequest(origin string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[origin]
	return t, ok
}

func (c *Cooldown) limiter(origin string, delay time.Duration) *rate.Limiter {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[origin]
	if !ok {
		l = rate.NewLimiter(limit, 1)
		c.limiters[origin] = l
		return l
	}
	if l.Limit() != limit {
		l.SetLimit(limit)
	}
	return l
}
