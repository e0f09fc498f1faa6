package types

import (
	"net/url"
	"strings"
	"time"
)

// FailedFetchMarker is written into the Address column of a sentinel row.
const FailedFetchMarker = "Failed to fetch"

// MultiValueSeparator joins multi-valued contact fields in tabular output.
const MultiValueSeparator = "; "

// Page is one successful response, body decoded to UTF-8.
type Page struct {
	URL             *url.URL
	FinalURL        *url.URL
	Body            []byte
	StatusCode      int
	ResponseLatency time.Duration
}

// ListingEntry is one company discovered on a search-results page.
type ListingEntry struct {
	Name      string
	DetailURL string
	Page      int
}

// ContactRecord holds the contact fields extracted from a detail page.
// List fields are never nil; scalar fields are nil when the page lacks them.
type ContactRecord struct {
	Address        *string
	WebURLs        []string
	SocialURLs     []string
	MobileNumbers  []string
	PhoneNumbers   []string
	Emails         []string
	RegistrationID *string
}

// NewContactRecord returns a record with every list field initialised.
func NewContactRecord() ContactRecord {
	return ContactRecord{
		WebURLs:       []string{},
		SocialURLs:    []string{},
		MobileNumbers: []string{},
		PhoneNumbers:  []string{},
		Emails:        []string{},
	}
}

// ContactRow is a single row of the enrichment output.
type ContactRow struct {
	URL    string
	Record ContactRecord
	Failed bool
}

// FailedContactRow builds the placeholder row used when a detail page is unreachable.
func FailedContactRow(rawURL string) ContactRow {
	return ContactRow{URL: rawURL, Record: NewContactRecord(), Failed: true}
}

// ContactColumns is the header of the enrichment output table.
var ContactColumns = []string{"URL", "Address", "Web", "Social Sites", "Mobile", "Phone", "Email", "ICO"}

// ListingColumns is the header of the listing output table.
var ListingColumns = []string{"name", "href", "page"}

// Columns flattens the row into ContactColumns order.
func (r ContactRow) Columns() []string {
	if r.Failed {
		return []string{r.URL, FailedFetchMarker, "", "", "", "", "", ""}
	}
	rec := r.Record
	return []string{
		r.URL,
		deref(rec.Address),
		JoinMulti(rec.WebURLs),
		JoinMulti(rec.SocialURLs),
		JoinMulti(rec.MobileNumbers),
		JoinMulti(rec.PhoneNumbers),
		JoinMulti(rec.Emails),
		deref(rec.RegistrationID),
	}
}

// JoinMulti serialises a multi-valued field.
func JoinMulti(values []string) string {
	return strings.Join(values, MultiValueSeparator)
}

// SplitMulti reverses JoinMulti. An empty column decodes to an empty slice.
func SplitMulti(column string) []string {
	if column == "" {
		return []string{}
	}
	return strings.Split(column, MultiValueSeparator)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
