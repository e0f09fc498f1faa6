package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/url"
	"time"

	"dircrawler/internal/config"
	"dircrawler/internal/document"
	"dircrawler/internal/logging"
)

// ErrDisallowed is the last error of a failure caused by robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// FetchFailure is the definitive outcome of a URL that could not be fetched
// within the attempt budget. It is an expected result, not a crash.
type FetchFailure struct {
	URL      string
	Attempts int
	Last     error
}

func (f *FetchFailure) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", f.URL, f.Attempts, f.Last)
}

func (f *FetchFailure) Unwrap() error { return f.Last }

// LastError describes the last observed error.
func (f *FetchFailure) LastError() string {
	if f.Last == nil {
		return ""
	}
	return f.Last.Error()
}

// Pacer delays requests to a host; crawler.DomainLimiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context, host string) error
}

// Gate decides whether a URL may be requested at all; robots.Agent satisfies it.
type Gate interface {
	Allowed(ctx context.Context, target *url.URL) bool
}

// Policy is the retry budget. MaxRetries counts every attempt, the first included.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// PolicyFrom reads the retry policy from configuration.
func PolicyFrom(cfg config.FetchConfig) Policy {
	return Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.BaseDelay.Duration}
}

// maxBackoff leaves room for the jitter second without overflowing.
const maxBackoff = time.Duration(math.MaxInt64) - time.Second

// Backoff computes the wait before retry n (n >= 1):
// BaseDelay * 2^n plus a jitter of up to one second. The exponential part
// saturates at maxBackoff instead of wrapping.
func (p Policy) Backoff(n int, jitter float64) time.Duration {
	if n < 1 {
		n = 1
	}
	if jitter < 0 || jitter >= 1 {
		jitter = 0
	}
	base := p.BaseDelay
	if base < 0 {
		base = 0
	}
	delay := maxBackoff
	if n < 63 && base <= maxBackoff>>uint(n) {
		delay = base << uint(n)
	}
	return delay + time.Duration(jitter*float64(time.Second))
}

// Retrying wraps a Getter with the retry policy and returns parsed documents.
type Retrying struct {
	getter Getter
	policy Policy
	pacer  Pacer
	gate   Gate
	logger *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// RetryOption customises a Retrying fetcher.
type RetryOption func(*Retrying)

// WithPacer waits on p before every attempt.
func WithPacer(p Pacer) RetryOption {
	return func(r *Retrying) { r.pacer = p }
}

// WithGate refuses URLs that g disallows.
func WithGate(g Gate) RetryOption {
	return func(r *Retrying) { r.gate = g }
}

// WithLogger sets the logger used for attempt diagnostics.
func WithLogger(l *slog.Logger) RetryOption {
	return func(r *Retrying) { r.logger = l }
}

// WithSleep replaces the backoff sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrying) { r.sleep = fn }
}

// WithJitter replaces the jitter source; fn must return values in [0,1).
func WithJitter(fn func() float64) RetryOption {
	return func(r *Retrying) { r.jitter = fn }
}

// NewRetrying builds a resilient fetcher on top of getter.
func NewRetrying(getter Getter, policy Policy, opts ...RetryOption) *Retrying {
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}
	r := &Retrying{
		getter: getter,
		policy: policy,
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrDefault(r.logger)
	return r
}

// Fetch retrieves and parses rawURL. On failure the error is always a
// *FetchFailure and the document is nil.
func (r *Retrying) Fetch(ctx context.Context, rawURL string) (*document.Document, error) {
	logger := r.logger.With("url", rawURL)

	target, err := url.Parse(rawURL)
	if err != nil {
		logger.Error("fetch failed", "attempts", 0, "error", err)
		return nil, &FetchFailure{URL: rawURL, Attempts: 0, Last: err}
	}
	if r.gate != nil && !r.gate.Allowed(ctx, target) {
		logger.Warn("fetch skipped", "error", ErrDisallowed)
		return nil, &FetchFailure{URL: rawURL, Attempts: 0, Last: ErrDisallowed}
	}

	var lastErr error
	attempts := 0
	for attempts < r.policy.MaxRetries {
		if attempts > 0 {
			delay := r.policy.Backoff(attempts, r.jitter())
			logger.Info("retrying", "attempt", attempts+1, "delay", delay.Round(10*time.Millisecond))
			if err := r.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
		if r.pacer != nil {
			if err := r.pacer.Wait(ctx, target.Hostname()); err != nil {
				lastErr = err
				break
			}
		}

		attempts++
		page, err := r.getter.Get(ctx, rawURL)
		if err == nil {
			finalURL := rawURL
			if page.FinalURL != nil {
				finalURL = page.FinalURL.String()
			}
			logger.Debug("fetched",
				"attempt", attempts,
				"status", page.StatusCode,
				"final_url", finalURL,
				"latency", page.ResponseLatency.Round(time.Millisecond),
				"bytes", len(page.Body),
			)
			return document.ParseBytes(page.Body), nil
		}
		lastErr = err
		logger.Warn("fetch attempt failed", "attempt", attempts, "error", err)
		if ctx.Err() != nil {
			break
		}
	}

	logger.Error("fetch failed", "attempts", attempts, "error", lastErr)
	return nil, &FetchFailure{URL: rawURL, Attempts: attempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
