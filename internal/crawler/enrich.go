package crawler

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"dircrawler/internal/extract"
	"dircrawler/internal/logging"
	"dircrawler/pkg/types"
)

// ContactSink receives enrichment rows in input order.
type ContactSink interface {
	WriteContact(ctx context.Context, row types.ContactRow) error
}

// EnrichOptions tunes an Enricher.
type EnrichOptions struct {
	Profile extract.Profile
	// Concurrency bounds the number of detail pages fetched at once.
	Concurrency int
	Logger      *slog.Logger
	OnRow       func(done, total int)
}

// Enricher visits the detail page of every entity and produces one row per
// entity, in input order. Unreachable pages yield a failure row.
type Enricher struct {
	fetcher     DocumentFetcher
	sink        ContactSink
	profile     extract.Profile
	concurrency int
	logger      *slog.Logger
	onRow       func(done, total int)
}

// NewEnricher builds an enrichment pass. sink may be nil.
func NewEnricher(fetcher DocumentFetcher, sink ContactSink, opts EnrichOptions) *Enricher {
	if opts.Profile == (extract.Profile{}) {
		opts.Profile = extract.DefaultProfile()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Enricher{
		fetcher:     fetcher,
		sink:        sink,
		profile:     opts.Profile,
		concurrency: opts.Concurrency,
		logger:      logging.OrDefault(opts.Logger),
		onRow:       opts.OnRow,
	}
}

// NormalizeEntityURL trims raw and prefixes https:// when it has no scheme.
func NormalizeEntityURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// Run enriches every entity URL. The returned rows cover the prefix of the
// input that completed; on cancellation the context error is returned with it.
// Sink failures are joined into the returned error without stopping the pass.
func (e *Enricher) Run(ctx context.Context, entityURLs []string) ([]types.ContactRow, error) {
	total := len(entityURLs)
	rows := make([]types.ContactRow, total)
	if total == 0 {
		return rows, nil
	}

	pool, err := NewWorkerPool(ctx, e.concurrency, e.concurrency)
	if err != nil {
		return nil, err
	}

	done := make(chan int, total)
	go func() {
		defer close(done)
		for i, raw := range entityURLs {
			err := pool.Submit(ctx, func(jobCtx context.Context) {
				row, ok := e.enrichOne(jobCtx, raw)
				if !ok {
					return
				}
				rows[i] = row
				done <- i
			})
			if err != nil {
				break
			}
		}
		pool.Wait()
	}()

	var sinkErr error
	ready := make([]bool, total)
	next := 0
	for i := range done {
		ready[i] = true
		for next < total && ready[next] {
			if e.sink != nil {
				if err := e.sink.WriteContact(ctx, rows[next]); err != nil {
					e.logger.Error("writing contact row failed", "url", rows[next].URL, "error", err)
					sinkErr = errors.Join(sinkErr, err)
				}
			}
			next++
			if e.onRow != nil {
				e.onRow(next, total)
			}
		}
	}

	rows = rows[:next]
	if next < total {
		if err := ctx.Err(); err != nil {
			return rows, errors.Join(err, sinkErr)
		}
	}
	return rows, sinkErr
}

// enrichOne fetches and extracts a single entity. ok is false when the context
// was cancelled before the row could be decided.
func (e *Enricher) enrichOne(ctx context.Context, raw string) (types.ContactRow, bool) {
	target := NormalizeEntityURL(raw)
	e.logger.Info("processing url", "url", target)

	doc, err := e.fetcher.Fetch(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return types.ContactRow{}, false
		}
		e.logger.Warn("detail page unreachable", "url", target, "error", err)
		return types.FailedContactRow(target), true
	}
	return types.ContactRow{URL: target, Record: e.profile.ContactRecord(doc)}, true
}
