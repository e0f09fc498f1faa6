package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"dircrawler/internal/document"
	"dircrawler/internal/extract"
	"dircrawler/internal/logging"
	"dircrawler/pkg/types"
)

// DocumentFetcher retrieves a parsed page; fetcher.Retrying satisfies it.
// Failures are reported through the error and are never fatal to a crawl.
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*document.Document, error)
}

// ListingSink receives the full accumulated listing after every productive page.
type ListingSink interface {
	SaveListing(ctx context.Context, entries []types.ListingEntry) error
}

// State is the crawl loop state.
type State int

const (
	Continuing State = iota
	Stopped
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "continuing"
}

// StopReason records why the loop reached Stopped.
type StopReason string

const (
	StopEmptyPage   StopReason = "empty_page"
	StopFetchFailed StopReason = "fetch_failed"
	StopCancelled   StopReason = "cancelled"
)

// Result is the outcome of a listing crawl.
type Result struct {
	Entries []types.ListingEntry
	// Pages is the number of pages that contributed entries.
	Pages int
	Stop  StopReason
	// LastPage is the page number at which the loop stopped.
	LastPage int
}

// PageProgress is reported after every page that produced entries.
type PageProgress struct {
	Page  int
	Found int
	Total int
}

// Options tunes a Crawler.
type Options struct {
	Profile extract.Profile
	// EmptyPageRetries re-fetches an empty page this many times before
	// treating it as the end of the results.
	EmptyPageRetries int
	Logger           *slog.Logger
	OnPage           func(PageProgress)
}

// Crawler walks the pages of a search-results listing until a page comes back
// empty or cannot be fetched. There is no page cap: an empty page is the only
// end-of-results signal, so a transient page with no parseable entries ends the
// crawl early unless EmptyPageRetries is set.
type Crawler struct {
	fetcher          DocumentFetcher
	sink             ListingSink
	profile          extract.Profile
	emptyPageRetries int
	logger           *slog.Logger
	onPage           func(PageProgress)
}

// New builds a listing crawler. sink may be nil.
func New(fetcher DocumentFetcher, sink ListingSink, opts Options) *Crawler {
	if opts.Profile == (extract.Profile{}) {
		opts.Profile = extract.DefaultProfile()
	}
	if opts.EmptyPageRetries < 0 {
		opts.EmptyPageRetries = 0
	}
	return &Crawler{
		fetcher:          fetcher,
		sink:             sink,
		profile:          opts.Profile,
		emptyPageRetries: opts.EmptyPageRetries,
		logger:           logging.OrDefault(opts.Logger),
		onPage:           opts.OnPage,
	}
}

// Run crawls from seed. Only an unusable seed or a cancelled context is
// returned as an error; fetch failures and empty pages end the crawl normally.
func (c *Crawler) Run(ctx context.Context, seed string) (Result, error) {
	base, err := parseSeed(seed)
	if err != nil {
		return Result{}, err
	}

	res := Result{Entries: []types.ListingEntry{}}
	state := Continuing
	page := 1
	for state == Continuing {
		if err := ctx.Err(); err != nil {
			res.Stop, res.LastPage = StopCancelled, page
			return res, err
		}

		pageURL := PageURL(base, page)
		c.logger.Info("fetching listing page", "page", page, "url", pageURL)

		entries, err := c.fetchPage(ctx, pageURL, page)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				res.Stop, res.LastPage = StopCancelled, page
				return res, ctx.Err()
			}
			c.logger.Warn("listing page could not be fetched, stopping", "page", page, "error", err)
			state, res.Stop = Stopped, StopFetchFailed
		case len(entries) == 0:
			c.logger.Info("no more companies found, stopping", "page", page)
			state, res.Stop = Stopped, StopEmptyPage
		default:
			res.Entries = append(res.Entries, entries...)
			res.Pages++
			c.persist(ctx, res.Entries)
			if c.onPage != nil {
				c.onPage(PageProgress{Page: page, Found: len(entries), Total: len(res.Entries)})
			}
			page++
		}
	}
	res.LastPage = page
	c.logger.Info("listing crawl finished", "entries", len(res.Entries), "pages", res.Pages, "stop", string(res.Stop))
	return res, nil
}

// fetchPage returns the entries of one page, re-fetching an empty page up to
// emptyPageRetries times.
func (c *Crawler) fetchPage(ctx context.Context, pageURL string, page int) ([]types.ListingEntry, error) {
	for confirm := 0; ; confirm++ {
		doc, err := c.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		entries := c.profile.ListingEntries(doc, page)
		if len(entries) > 0 || confirm >= c.emptyPageRetries {
			return resolveEntries(pageURL, entries), nil
		}
		c.logger.Info("empty listing page, confirming", "page", page, "confirmation", confirm+1)
	}
}

func (c *Crawler) persist(ctx context.Context, entries []types.ListingEntry) {
	if c.sink == nil {
		return
	}
	if err := c.sink.SaveListing(ctx, entries); err != nil {
		c.logger.Error("saving listing failed", "entries", len(entries), "error", err)
	}
}

// PageURL returns base with its page query parameter set to page, or removed
// for the first page. Other parameters keep their order and encoding.
func PageURL(base *url.URL, page int) string {
	u := *base
	var parts []string
	replaced := false
	for _, part := range strings.Split(base.RawQuery, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if name, err := url.QueryUnescape(key); err == nil && name == "page" {
			if page > 1 && !replaced {
				parts = append(parts, "page="+strconv.Itoa(page))
				replaced = true
			}
			continue
		}
		parts = append(parts, part)
	}
	if page > 1 && !replaced {
		parts = append(parts, "page="+strconv.Itoa(page))
	}
	u.RawQuery = strings.Join(parts, "&")
	u.ForceQuery = false
	return u.String()
}

func parseSeed(seed string) (*url.URL, error) {
	seed = strings.TrimSpace(seed)
	if seed == "" {
		return nil, errors.New("seed url is empty")
	}
	u, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	if u.Scheme == "" {
		u, err = url.Parse("https://" + seed)
		if err != nil {
			return nil, fmt.Errorf("parse seed %q: %w", seed, err)
		}
	}
	if u.Host == "" {
		return nil, fmt.Errorf("seed %q missing host", seed)
	}
	return u, nil
}

// resolveEntries makes relative detail links absolute against the page they
// were found on. Absolute links are kept verbatim.
func resolveEntries(pageURL string, entries []types.ListingEntry) []types.ListingEntry {
	base, err := url.Parse(pageURL)
	if err != nil {
		return entries
	}
	for i, e := range entries {
		if e.DetailURL == "" {
			continue
		}
		ref, err := url.Parse(e.DetailURL)
		if err != nil || ref.IsAbs() {
			continue
		}
		entries[i].DetailURL = base.ResolveReference(ref).String()
	}
	return entries
}
