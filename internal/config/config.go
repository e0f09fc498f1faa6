package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override values read from the config file.
const (
	EnvSeedURL  = "DIRCRAWLER_SEED_URL"
	EnvDBDSN    = "DIRCRAWLER_DB_DSN"
	EnvProxyURL = "DIRCRAWLER_PROXY_URL"
	EnvLogLevel = "DIRCRAWLER_LOG_LEVEL"
)

// MaxAttempts bounds fetch.max_retries; at the default base delay the last
// backoff is already measured in days.
const MaxAttempts = 16

// Config captures everything needed to run the listing crawl and the enrichment pass.
type Config struct {
	Fetch   FetchConfig   `yaml:"fetch"`
	Crawl   CrawlConfig   `yaml:"crawl"`
	Enrich  EnrichConfig  `yaml:"enrich"`
	Extract ExtractConfig `yaml:"extract"`
	Robots  RobotsConfig  `yaml:"robots"`
	Output  OutputConfig  `yaml:"output"`
	DB      SQLConfig     `yaml:"db"`
	Logging LoggingConfig `yaml:"logging"`
}

// FetchConfig controls the HTTP transport and the retry policy.
type FetchConfig struct {
	UserAgent      string            `yaml:"user_agent"`
	Headers        map[string]string `yaml:"headers"`
	ProxyURL       string            `yaml:"proxy_url"`
	RequestTimeout Duration          `yaml:"request_timeout"`
	MaxBodyBytes   int64             `yaml:"max_body_bytes"`
	// MaxRetries is the total number of attempts made for one URL.
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
}

// CrawlConfig controls the paginated listing crawl.
type CrawlConfig struct {
	SeedURL            string          `yaml:"seed_url"`
	EmptyPageRetries   int             `yaml:"empty_page_retries"`
	PerDomainDelay     Duration        `yaml:"per_domain_delay"`
	RateLimitPerDomain RateLimitConfig `yaml:"rate_limit_per_domain"`
}

// RateLimitConfig applies a token bucket per domain.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// EnrichConfig controls the detail-page pass.
type EnrichConfig struct {
	Concurrency int    `yaml:"concurrency"`
	URLColumn   string `yaml:"url_column"`
}

// ExtractConfig holds the CSS selectors used against listing and detail pages.
type ExtractConfig struct {
	ListingTitle   string `yaml:"listing_title"`
	Address        string `yaml:"address"`
	WebURL         string `yaml:"web_url"`
	SocialNetworks string `yaml:"social_networks"`
	PhoneLabel     string `yaml:"phone_label"`
	PhoneValue     string `yaml:"phone_value"`
	PhoneNumber    string `yaml:"phone_number"`
	MobileLabel    string `yaml:"mobile_label"`
	LandlineLabel  string `yaml:"landline_label"`
	Email          string `yaml:"email"`
	BusinessInfo   string `yaml:"business_info"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// OutputConfig names the tabular files read and written by the CLI.
type OutputConfig struct {
	ListingCSV  string `yaml:"listing_csv"`
	ContactsCSV string `yaml:"contacts_csv"`
	InputCSV    string `yaml:"input_csv"`
}

// SQLConfig describes an optional relational sink.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// Enabled reports whether a relational sink is configured.
func (s SQLConfig) Enabled() bool {
	return s.Driver != "" && s.DSN != ""
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is one of json, text or console.
	Format string `yaml:"format"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Fetch: FetchConfig{
			UserAgent:      "Mozilla/5.0 (compatible; dircrawler/1.0)",
			Headers:        map[string]string{},
			RequestTimeout: DurationFrom(30 * time.Second),
			MaxBodyBytes:   8 * 1024 * 1024,
			MaxRetries:     3,
			BaseDelay:      DurationFrom(5 * time.Second),
		},
		Crawl: CrawlConfig{
			EmptyPageRetries: 0,
		},
		Enrich: EnrichConfig{
			Concurrency: 1,
			URLColumn:   "href",
		},
		Extract: ExtractConfig{
			ListingTitle:   "a.companyTitle.statCompanyDetail",
			Address:        "div.detailAddress",
			WebURL:         "a.detailWebUrl",
			SocialNetworks: "div.detailSocialNetworks",
			PhoneLabel:     "h2.label",
			PhoneValue:     "div.value",
			PhoneNumber:    `span[data-dot="origin-phone-number"]`,
			MobileLabel:    "Mobil",
			LandlineLabel:  "Telefon",
			Email:          `a[data-dot="e-mail"]`,
			BusinessInfo:   "div.detailBusinessInfo",
		},
		Robots: RobotsConfig{
			Respect:   false,
			Overrides: []string{},
			UserAgent: "dircrawler",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Output: OutputConfig{
			ListingCSV:  "company_info.csv",
			ContactsCSV: "company_info_detailed.csv",
			InputCSV:    "company_info.csv",
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
// An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides selected values from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvSeedURL); ok && strings.TrimSpace(v) != "" {
		c.Crawl.SeedURL = v
	}
	if v, ok := lookup(EnvDBDSN); ok && strings.TrimSpace(v) != "" {
		c.DB.DSN = v
		if c.DB.Driver == "" {
			c.DB.Driver = "postgres"
		}
	}
	if v, ok := lookup(EnvProxyURL); ok && strings.TrimSpace(v) != "" {
		c.Fetch.ProxyURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Logging.Level = v
	}
}

// Validate enforces required invariants. The seed URL is optional here because
// the enrich command does not need one.
func (c Config) Validate() error {
	if c.Fetch.MaxRetries < 1 || c.Fetch.MaxRetries > MaxAttempts {
		return fmt.Errorf("fetch.max_retries must be between 1 and %d (got %d)", MaxAttempts, c.Fetch.MaxRetries)
	}
	if c.Fetch.BaseDelay.Duration < 0 {
		return fmt.Errorf("fetch.base_delay must be >= 0 (got %s)", c.Fetch.BaseDelay)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("fetch.max_body_bytes must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}
	if strings.TrimSpace(c.Fetch.UserAgent) == "" {
		return errors.New("fetch.user_agent must be set")
	}
	if c.Fetch.ProxyURL != "" {
		if _, err := url.Parse(c.Fetch.ProxyURL); err != nil {
			return fmt.Errorf("fetch.proxy_url: %w", err)
		}
	}
	if c.Crawl.SeedURL != "" {
		if err := validateSeed(c.Crawl.SeedURL); err != nil {
			return err
		}
	}
	if c.Crawl.EmptyPageRetries < 0 {
		return fmt.Errorf("crawl.empty_page_retries must be >= 0 (got %d)", c.Crawl.EmptyPageRetries)
	}
	if rl := c.Crawl.RateLimitPerDomain; rl.Requests < 0 {
		return fmt.Errorf("crawl.rate_limit_per_domain.requests must be >= 0 (got %d)", rl.Requests)
	}
	if c.Enrich.Concurrency <= 0 {
		return fmt.Errorf("enrich.concurrency must be > 0 (got %d)", c.Enrich.Concurrency)
	}
	if c.Enrich.Concurrency > 1 && c.Crawl.PerDomainDelay.Duration <= 0 && !c.Crawl.RateLimitPerDomain.Enabled() {
		return errors.New("enrich.concurrency > 1 requires crawl.per_domain_delay or crawl.rate_limit_per_domain")
	}
	if c.Robots.Respect && strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set when robots.respect is true")
	}
	if (c.DB.Driver == "") != (c.DB.DSN == "") {
		return errors.New("db.driver and db.dsn must be set together")
	}
	switch c.Logging.Format {
	case "json", "text", "console":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}
	return nil
}

func validateSeed(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("crawl.seed_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("crawl.seed_url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("crawl.seed_url %q missing host", raw)
	}
	return nil
}

func (c *Config) normalise() {
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	c.Fetch.ProxyURL = strings.TrimSpace(c.Fetch.ProxyURL)
	if c.Fetch.Headers == nil {
		c.Fetch.Headers = make(map[string]string)
	}
	c.Crawl.SeedURL = strings.TrimSpace(c.Crawl.SeedURL)
	c.Enrich.URLColumn = strings.TrimSpace(c.Enrich.URLColumn)
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	c.DB.DSN = strings.TrimSpace(c.DB.DSN)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}

// Enabled reports whether per-domain rate limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}
