package storage

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dircrawler/pkg/types"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(raw), string(utf8BOM)), "file starts with a BOM")
	records, err := csv.NewReader(strings.NewReader(string(raw[len(utf8BOM):]))).ReadAll()
	require.NoError(t, err)
	return records
}

func TestListingCSVRewritesWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "company_info.csv")
	sink, err := NewListingCSV(path)
	require.NoError(t, err)
	ctx := context.Background()

	first := []types.ListingEntry{{Name: "Solar s.r.o.", DetailURL: "https://www.firmy.cz/detail/1", Page: 1}}
	require.NoError(t, sink.SaveListing(ctx, first))
	assert.Equal(t, [][]string{
		{"name", "href", "page"},
		{"Solar s.r.o.", "https://www.firmy.cz/detail/1", "1"},
	}, readCSV(t, path))

	second := append(first, types.ListingEntry{Name: "Fotovoltaika, a.s.", DetailURL: "https://www.firmy.cz/detail/2", Page: 2})
	require.NoError(t, sink.SaveListing(ctx, second))
	assert.Equal(t, [][]string{
		{"name", "href", "page"},
		{"Solar s.r.o.", "https://www.firmy.cz/detail/1", "1"},
		{"Fotovoltaika, a.s.", "https://www.firmy.cz/detail/2", "2"},
	}, readCSV(t, path))

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestListingCSVEmptyPath(t *testing.T) {
	_, err := NewListingCSV(" ")
	assert.Error(t, err)
}

func TestContactCSVWritesRowsIncrementally(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_info_detailed.csv")
	sink, err := CreateContactCSV(path)
	require.NoError(t, err)

	addr := "Dlouhá 1, Praha"
	ico := "12345678"
	rec := types.NewContactRecord()
	rec.Address = &addr
	rec.RegistrationID = &ico
	rec.Emails = []string{"a@firma.cz", "b@firma.cz"}
	rec.PhoneNumbers = []string{"+420 123 456 789"}

	ctx := context.Background()
	require.NoError(t, sink.WriteContact(ctx, types.ContactRow{URL: "https://www.firmy.cz/detail/1", Record: rec}))

	// Visible before Close.
	records := readCSV(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, types.ContactColumns, records[0])
	assert.Equal(t, []string{"https://www.firmy.cz/detail/1", addr, "", "", "", "+420 123 456 789", "a@firma.cz; b@firma.cz", ico}, records[1])

	require.NoError(t, sink.WriteContact(ctx, types.FailedContactRow("https://www.firmy.cz/detail/2")))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.Error(t, sink.WriteContact(ctx, types.FailedContactRow("x")))

	records = readCSV(t, path)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"https://www.firmy.cz/detail/2", types.FailedFetchMarker, "", "", "", "", "", ""}, records[2])
	assert.Equal(t, []string{"a@firma.cz", "b@firma.cz"}, types.SplitMulti(records[1][6]))
}

func TestCreateContactCSVTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("old,data\n"), 0o644))

	sink, err := CreateContactCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	assert.Equal(t, [][]string{types.ContactColumns}, readCSV(t, path))
}

func TestReadEntityURLsByHeader(t *testing.T) {
	in := "\xEF\xBB\xBFname,href,page\n" +
		"Solar,https://www.firmy.cz/detail/1,1\n" +
		",,\n" +
		"Empty,,1\n" +
		"Bare,www.firmy.cz/detail/2,2\n"
	urls, err := ReadEntityURLsFrom(strings.NewReader(in), "href")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.firmy.cz/detail/1", "www.firmy.cz/detail/2"}, urls)
}

func TestReadEntityURLsCustomColumn(t *testing.T) {
	in := "URL,Address\nhttps://a.cz,x\nhttps://b.cz,y\n"
	urls, err := ReadEntityURLsFrom(strings.NewReader(in), "url")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.cz", "https://b.cz"}, urls)
}

func TestReadEntityURLsFallsBackToSecondColumn(t *testing.T) {
	in := "n,HREF\nA,https://a.cz\nshort\nB,https://b.cz,extra\nC,href\n"
	urls, err := ReadEntityURLsFrom(strings.NewReader(in), "link")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.cz", "https://b.cz"}, urls)
}

func TestReadEntityURLsUnmatchedHeaderIsNotAnEntity(t *testing.T) {
	in := "name,url,page\nSolar,https://www.firmy.cz/detail/1,1\n"
	urls, err := ReadEntityURLsFrom(strings.NewReader(in), "href")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.firmy.cz/detail/1"}, urls)

	urls, err = ReadEntityURLsFrom(strings.NewReader("name,url,page\n"), "href")
	require.NoError(t, err)
	assert.Empty(t, urls)
}

func TestReadEntityURLsEmpty(t *testing.T) {
	urls, err := ReadEntityURLsFrom(strings.NewReader(""), "href")
	require.NoError(t, err)
	assert.NotNil(t, urls)
	assert.Empty(t, urls)
}

func TestListingRoundTripsIntoEntityReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "company_info.csv")
	sink, err := NewListingCSV(path)
	require.NoError(t, err)
	require.NoError(t, sink.SaveListing(context.Background(), []types.ListingEntry{
		{Name: "A", DetailURL: "https://www.firmy.cz/detail/1", Page: 1},
		{Name: "B", DetailURL: "https://www.firmy.cz/detail/2", Page: 1},
	}))

	urls, err := ReadEntityURLs(path, "href")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.firmy.cz/detail/1", "https://www.firmy.cz/detail/2"}, urls)

	_, err = ReadEntityURLs(filepath.Join(t.TempDir(), "missing.csv"), "href")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
