package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dircrawler/internal/config"
	"dircrawler/internal/crawler"
	"dircrawler/internal/extract"
	"dircrawler/internal/fetcher"
	"dircrawler/internal/robots"
	"dircrawler/internal/storage"
	"dircrawler/pkg/types"
)

// app carries the process-wide state every command runs with.
type app struct {
	ctx      context.Context
	cfg      *config.Config
	logger   *slog.Logger
	progress bool
}

type crawlCmd struct {
	Seed string `help:"Search-results URL to start from; overrides crawl.seed_url." short:"s"`
	Out  string `help:"Listing CSV path; overrides output.listing_csv." short:"o" type:"path"`
}

func (c *crawlCmd) Run(a *app) error {
	_, err := a.crawl(c.Seed, c.Out)
	return err
}

type enrichCmd struct {
	In  string `help:"Listing CSV to read entity URLs from; overrides output.input_csv." short:"i" type:"path"`
	Out string `help:"Contacts CSV path; overrides output.contacts_csv." short:"o" type:"path"`
}

func (c *enrichCmd) Run(a *app) error {
	in := firstNonEmpty(c.In, a.cfg.Output.InputCSV)
	urls, err := storage.ReadEntityURLs(in, a.cfg.Enrich.URLColumn)
	if err != nil {
		return err
	}
	a.logger.Info("loaded entity urls", "path", in, "count", len(urls))
	return a.enrich(urls, c.Out)
}

type runCmd struct {
	Seed        string `help:"Search-results URL to start from; overrides crawl.seed_url." short:"s"`
	ListingOut  string `help:"Listing CSV path; overrides output.listing_csv." type:"path"`
	ContactsOut string `help:"Contacts CSV path; overrides output.contacts_csv." type:"path"`
}

func (c *runCmd) Run(a *app) error {
	res, err := a.crawl(c.Seed, c.ListingOut)
	if err != nil {
		return err
	}
	return a.enrich(detailURLs(res.Entries), c.ContactsOut)
}

func (a *app) crawl(seedFlag, outFlag string) (crawler.Result, error) {
	seed := firstNonEmpty(seedFlag, a.cfg.Crawl.SeedURL)
	if seed == "" {
		return crawler.Result{}, fmt.Errorf("no seed url: pass --seed or set crawl.seed_url or %s", config.EnvSeedURL)
	}

	docs, err := a.documentFetcher()
	if err != nil {
		return crawler.Result{}, err
	}
	listing, err := storage.NewListingCSV(firstNonEmpty(outFlag, a.cfg.Output.ListingCSV))
	if err != nil {
		return crawler.Result{}, err
	}
	sink := storage.NewPipeline().AddListing(listing)
	defer a.closeSinks(sink)
	if db, err := a.sqlWriter(); err != nil {
		return crawler.Result{}, err
	} else if db != nil {
		sink.AddListing(db)
	}

	spin := newProgress(a.progress, "crawling listing pages")
	res, err := crawler.New(docs, sink, crawler.Options{
		Profile:          extract.NewProfile(a.cfg.Extract),
		EmptyPageRetries: a.cfg.Crawl.EmptyPageRetries,
		Logger:           a.logger,
		OnPage: func(p crawler.PageProgress) {
			spin.update("page %d: %d companies (%d total)", p.Page, p.Found, p.Total)
		},
	}).Run(a.ctx, seed)
	spin.stop(fmt.Sprintf("listing: %d companies from %d pages", len(res.Entries), res.Pages))
	if err != nil {
		return res, err
	}
	a.logger.Info("listing saved", "path", listing.Path(), "entries", len(res.Entries), "stop", string(res.Stop))
	return res, nil
}

func (a *app) enrich(urls []string, outFlag string) error {
	docs, err := a.documentFetcher()
	if err != nil {
		return err
	}
	out := firstNonEmpty(outFlag, a.cfg.Output.ContactsCSV)
	contacts, err := storage.CreateContactCSV(out)
	if err != nil {
		return err
	}
	sink := storage.NewPipeline().AddContacts(contacts)
	defer a.closeSinks(sink)
	if db, err := a.sqlWriter(); err != nil {
		return err
	} else if db != nil {
		sink.AddContacts(db)
	}

	spin := newProgress(a.progress, "enriching companies")
	failed := 0
	rows, err := crawler.NewEnricher(docs, sink, crawler.EnrichOptions{
		Profile:     extract.NewProfile(a.cfg.Extract),
		Concurrency: a.cfg.Enrich.Concurrency,
		Logger:      a.logger,
		OnRow: func(done, total int) {
			spin.update("%d/%d companies", done, total)
		},
	}).Run(a.ctx, urls)
	for _, r := range rows {
		if r.Failed {
			failed++
		}
	}
	spin.stop(fmt.Sprintf("contacts: %d rows, %d unreachable", len(rows), failed))
	a.logger.Info("contacts saved", "path", out, "rows", len(rows), "failed", failed)
	return err
}

// documentFetcher assembles the fetch stack: HTTP transport, robots gate,
// per-host pacing and the retry policy.
func (a *app) documentFetcher() (*fetcher.Retrying, error) {
	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.OptionsFrom(a.cfg.Fetch))
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return fetcher.NewRetrying(httpFetcher, fetcher.PolicyFrom(a.cfg.Fetch),
		fetcher.WithGate(robots.NewAgent(a.cfg.Robots, httpFetcher.Client(), a.logger)),
		fetcher.WithPacer(crawler.NewDomainLimiter(a.cfg.Crawl)),
		fetcher.WithLogger(a.logger),
	), nil
}

// sqlWriter opens the relational sink for one phase. It returns nil when no
// database is configured; the phase's pipeline owns and closes it.
func (a *app) sqlWriter() (*storage.SQLWriter, error) {
	if !a.cfg.DB.Enabled() {
		return nil, nil
	}
	db, err := storage.NewSQLWriter(a.ctx, a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init sql store: %w", err)
	}
	return db, nil
}

func (a *app) closeSinks(p *storage.Pipeline) {
	if err := p.Close(); err != nil {
		a.logger.Error("closing output stores failed", "error", err)
	}
}

func detailURLs(entries []types.ListingEntry) []string {
	urls := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.DetailURL != "" {
			urls = append(urls, e.DetailURL)
		}
	}
	return urls
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
