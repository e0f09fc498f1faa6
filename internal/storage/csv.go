package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"dircrawler/pkg/types"
)

// Excel and LibreOffice only detect UTF-8 with a BOM; Czech addresses need it.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ListingCSV rewrites the whole listing table on every save so the file always
// reflects the latest accumulation, even if the crawl is interrupted.
type ListingCSV struct {
	path string
	mu   sync.Mutex
}

// NewListingCSV returns a listing sink writing to path.
func NewListingCSV(path string) (*ListingCSV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("listing csv path is empty")
	}
	return &ListingCSV{path: path}, nil
}

// Path returns the output file path.
func (l *ListingCSV) Path() string { return l.path }

// SaveListing replaces the file contents with entries.
func (l *ListingCSV) SaveListing(ctx context.Context, entries []types.ListingEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, types.ListingColumns)
	for _, e := range entries {
		rows = append(rows, []string{e.Name, e.DetailURL, strconv.Itoa(e.Page)})
	}
	return writeFileAtomic(l.path, rows)
}

func writeFileAtomic(path string, rows [][]string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(utf8BOM); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	w := csv.NewWriter(tmp)
	if err = w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ContactCSV appends enrichment rows to a table, flushing after every row.
type ContactCSV struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// CreateContactCSV truncates path and writes the header.
func CreateContactCSV(path string) (*ContactCSV, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("contacts csv path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(utf8BOM); err != nil {
		f.Close()
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	c := &ContactCSV{f: f, w: csv.NewWriter(f)}
	if err := c.writeRow(types.ContactColumns); err != nil {
		f.Close()
		return nil, err
	}
	return c, nil
}

// WriteContact appends one row.
func (c *ContactCSV) WriteContact(ctx context.Context, row types.ContactRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return errors.New("contacts csv is closed")
	}
	return c.writeRow(row.Columns())
}

func (c *ContactCSV) writeRow(record []string) error {
	if err := c.w.Write(record); err != nil {
		return fmt.Errorf("write %s: %w", c.f.Name(), err)
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", c.f.Name(), err)
	}
	return nil
}

// Close flushes and closes the file. It is safe to call more than once.
func (c *ContactCSV) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	c.w.Flush()
	err := errors.Join(c.w.Error(), c.f.Sync(), c.f.Close())
	c.f = nil
	return err
}

// ReadEntityURLs reads the entity column from a CSV file.
func ReadEntityURLs(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	urls, err := ReadEntityURLsFrom(f, column)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return urls, nil
}

// ReadEntityURLsFrom locates column in the header row (case-insensitive) and
// returns its non-empty cells. The first row is always the header; without a
// matching name the second column is used. Cells reading "href" are skipped.
func ReadEntityURLsFrom(r io.Reader, column string) ([]string, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}

	urls := []string{}
	if len(records) == 0 {
		return urls, nil
	}

	idx := headerIndex(records[0], column)
	if idx < 0 {
		idx = 1
	}
	for _, rec := range records[1:] {
		if len(rec) <= idx {
			continue
		}
		cell := strings.TrimSpace(rec[idx])
		if cell == "" || strings.EqualFold(cell, "href") {
			continue
		}
		urls = append(urls, cell)
	}
	return urls, nil
}

func headerIndex(header []string, column string) int {
	column = strings.TrimSpace(column)
	if column == "" {
		return -1
	}
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), column) {
			return i
		}
	}
	return -1
}
