package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"dircrawler/internal/config"
	"dircrawler/pkg/types"
)

// ListingStore persists the accumulated listing.
type ListingStore interface {
	SaveListing(ctx context.Context, entries []types.ListingEntry) error
}

// ContactStore persists enrichment rows.
type ContactStore interface {
	WriteContact(ctx context.Context, row types.ContactRow) error
}

// Pipeline fans crawl output out to every configured store. A failing store
// does not prevent the others from receiving the data.
type Pipeline struct {
	listings []ListingStore
	contacts []ContactStore
	closers  []interface{ Close() error }
}

// NewPipeline returns an empty pipeline; stores are attached with Add*.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// AddListing attaches a listing store.
func (p *Pipeline) AddListing(s ListingStore) *Pipeline {
	if s != nil {
		p.listings = append(p.listings, s)
		p.track(s)
	}
	return p
}

// AddContacts attaches a contact store.
func (p *Pipeline) AddContacts(s ContactStore) *Pipeline {
	if s != nil {
		p.contacts = append(p.contacts, s)
		p.track(s)
	}
	return p
}

func (p *Pipeline) track(s any) {
	c, ok := s.(interface{ Close() error })
	if !ok {
		return
	}
	for _, existing := range p.closers {
		if existing == c {
			return
		}
	}
	p.closers = append(p.closers, c)
}

// SaveListing forwards entries to every listing store.
func (p *Pipeline) SaveListing(ctx context.Context, entries []types.ListingEntry) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.listings {
		if err := s.SaveListing(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteContact forwards row to every contact store.
func (p *Pipeline) WriteContact(ctx context.Context, row types.ContactRow) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, s := range p.contacts {
		if err := s.WriteContact(ctx, row); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every attached store that holds resources, once each.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

// SQLWriter stores listings and contact rows in PostgreSQL.
type SQLWriter struct {
	db          *sql.DB
	autoMigrate bool
}

// NewSQLWriter initialises a SQLWriter from configuration.
func NewSQLWriter(ctx context.Context, cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		if !cfg.CreateIfMissing || !shouldAttemptCreateDatabase(cfg.Driver, err) {
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
		if err := createDatabase(pingCtx, cfg); err != nil {
			return nil, err
		}
		db, err = sql.Open(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql connection: %w", err)
		}
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping sql connection: %w", err)
		}
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}
	writer := &SQLWriter{
		db:          db,
		autoMigrate: cfg.AutoMigrate,
	}
	if cfg.AutoMigrate {
		if err := writer.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return writer, nil
}

// SaveListing upserts every entry keyed by detail URL.
func (s *SQLWriter) SaveListing(ctx context.Context, entries []types.ListingEntry) error {
	if s == nil || s.db == nil || len(entries) == 0 {
		return nil
	}
	return s.withSchemaRetry(ctx, "insert listing", func() error {
		return s.upsertListing(ctx, entries)
	})
}

func (s *SQLWriter) upsertListing(ctx context.Context, entries []types.ListingEntry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO listing_entries (detail_url, name, page, crawled_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (detail_url) DO UPDATE SET
            name = EXCLUDED.name,
            page = EXCLUDED.page,
            crawled_at = EXCLUDED.crawled_at
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entries {
		if e.DetailURL == "" {
			continue
		}
		if _, err = stmt.ExecContext(ctx, e.DetailURL, e.Name, e.Page, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// WriteContact upserts one enrichment row keyed by entity URL.
func (s *SQLWriter) WriteContact(ctx context.Context, row types.ContactRow) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.withSchemaRetry(ctx, "insert contact", func() error {
		return s.upsertContact(ctx, row)
	})
}

func (s *SQLWriter) upsertContact(ctx context.Context, row types.ContactRow) error {
	rec := row.Record
	if row.Failed {
		rec = types.NewContactRecord()
	}
	query := `
        INSERT INTO contact_records (url, address, web, social, mobile, phone, email, ico, failed, fetched_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (url) DO UPDATE SET
            address = EXCLUDED.address,
            web = EXCLUDED.web,
            social = EXCLUDED.social,
            mobile = EXCLUDED.mobile,
            phone = EXCLUDED.phone,
            email = EXCLUDED.email,
            ico = EXCLUDED.ico,
            failed = EXCLUDED.failed,
            fetched_at = EXCLUDED.fetched_at
    `
	_, err := s.db.ExecContext(ctx, query,
		row.URL,
		nullString(rec.Address),
		pq.Array(nonNil(rec.WebURLs)),
		pq.Array(nonNil(rec.SocialURLs)),
		pq.Array(nonNil(rec.MobileNumbers)),
		pq.Array(nonNil(rec.PhoneNumbers)),
		pq.Array(nonNil(rec.Emails)),
		nullString(rec.RegistrationID),
		row.Failed,
		time.Now().UTC(),
	)
	return err
}

func (s *SQLWriter) withSchemaRetry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	if s.autoMigrate && isUndefinedTableErr(err) {
		if schemaErr := s.ensureSchema(ctx); schemaErr != nil {
			return fmt.Errorf("ensure schema: %w", schemaErr)
		}
		if retryErr := fn(); retryErr != nil {
			return fmt.Errorf("%s: %w", op, retryErr)
		}
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Close closes the underlying DB connection.
func (s *SQLWriter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.SQLConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		return errors.New("creating the database requires a postgres:// dsn")
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDB, err := sql.Open(cfg.Driver, parsed.String())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS listing_entries (
	    detail_url TEXT PRIMARY KEY,
	    name TEXT NOT NULL,
	    page INT NOT NULL,
	    crawled_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contact_records (
	    url TEXT PRIMARY KEY,
	    address TEXT,
	    web TEXT[] NOT NULL DEFAULT '{}',
	    social TEXT[] NOT NULL DEFAULT '{}',
	    mobile TEXT[] NOT NULL DEFAULT '{}',
	    phone TEXT[] NOT NULL DEFAULT '{}',
	    email TEXT[] NOT NULL DEFAULT '{}',
	    ico TEXT,
	    failed BOOLEAN NOT NULL DEFAULT FALSE,
	    fetched_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contact_records_ico ON contact_records (ico)`,
}

func (s *SQLWriter) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil || !s.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
