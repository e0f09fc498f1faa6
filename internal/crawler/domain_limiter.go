package crawler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dircrawler/internal/config"
)

// DomainLimiter paces requests per host with a minimum gap and an optional
// token bucket. It is shared by every fetch of a run, retries included.
type DomainLimiter struct {
	delay    time.Duration
	requests int
	window   time.Duration

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewDomainLimiter creates a limiter from the crawl configuration.
// A zero delay and a disabled rate limit make Wait a no-op.
func NewDomainLimiter(cfg config.CrawlConfig) *DomainLimiter {
	d := &DomainLimiter{
		delay:    cfg.PerDomainDelay.Duration,
		last:     make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
	}
	if cfg.RateLimitPerDomain.Enabled() {
		d.requests = cfg.RateLimitPerDomain.Requests
		d.window = cfg.RateLimitPerDomain.Window.Duration
	}
	return d
}

// Wait blocks until the host may be contacted again.
func (d *DomainLimiter) Wait(ctx context.Context, host string) error {
	if d == nil || host == "" {
		return nil
	}
	if d.delay <= 0 && d.requests == 0 {
		return nil
	}
	host = strings.ToLower(host)

	var limiter *rate.Limiter
	if d.requests > 0 {
		limiter = d.limiterFor(host)
	}

	if d.delay > 0 {
		// Reserve the next slot under the lock so concurrent callers queue up
		// behind each other instead of all firing after the same gap.
		d.mu.Lock()
		now := time.Now()
		slot := now
		if last, ok := d.last[host]; ok && last.Add(d.delay).After(now) {
			slot = last.Add(d.delay)
		}
		d.last[host] = slot
		d.mu.Unlock()

		if wait := time.Until(slot); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *DomainLimiter) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	limiter, ok := d.limiters[host]
	if ok {
		return limiter
	}
	interval := d.window / time.Duration(d.requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter = rate.NewLimiter(rate.Every(interval), d.requests)
	d.limiters[host] = limiter
	return limiter
}
