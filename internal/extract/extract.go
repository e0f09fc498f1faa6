// Package extract maps directory pages onto ListingEntry and ContactRecord values.
//
// Every rule is independent: a missing fragment leaves its field empty and
// never affects the others.
package extract

import (
	"strings"

	"dircrawler/internal/config"
	"dircrawler/internal/document"
	"dircrawler/pkg/types"
)

// Profile is the set of selectors used against the directory markup.
type Profile struct {
	ListingTitle   string
	Address        string
	WebURL         string
	SocialNetworks string
	PhoneLabel     string
	PhoneValue     string
	PhoneNumber    string
	MobileLabel    string
	LandlineLabel  string
	Email          string
	BusinessInfo   string
}

// NewProfile builds a profile from configuration, keeping defaults for blank entries.
func NewProfile(cfg config.ExtractConfig) Profile {
	def := config.Default().Extract
	pick := func(v, fallback string) string {
		if strings.TrimSpace(v) == "" {
			return fallback
		}
		return v
	}
	return Profile{
		ListingTitle:   pick(cfg.ListingTitle, def.ListingTitle),
		Address:        pick(cfg.Address, def.Address),
		WebURL:         pick(cfg.WebURL, def.WebURL),
		SocialNetworks: pick(cfg.SocialNetworks, def.SocialNetworks),
		PhoneLabel:     pick(cfg.PhoneLabel, def.PhoneLabel),
		PhoneValue:     pick(cfg.PhoneValue, def.PhoneValue),
		PhoneNumber:    pick(cfg.PhoneNumber, def.PhoneNumber),
		MobileLabel:    pick(cfg.MobileLabel, def.MobileLabel),
		LandlineLabel:  pick(cfg.LandlineLabel, def.LandlineLabel),
		Email:          pick(cfg.Email, def.Email),
		BusinessInfo:   pick(cfg.BusinessInfo, def.BusinessInfo),
	}
}

// DefaultProfile matches the directory's current markup.
func DefaultProfile() Profile {
	return NewProfile(config.ExtractConfig{})
}

// ListingEntries returns every company link on a search-results page, tagged
// with page. An empty result means the page listed nothing.
func (p Profile) ListingEntries(doc *document.Document, page int) []types.ListingEntry {
	entries := []types.ListingEntry{}
	if doc == nil {
		return entries
	}
	for _, link := range doc.All(p.ListingTitle) {
		href, ok := link.Attr("href")
		if !ok {
			continue
		}
		entries = append(entries, types.ListingEntry{
			Name:      link.Text(),
			DetailURL: href,
			Page:      page,
		})
	}
	return entries
}

// ContactRecord extracts the contact fields of a detail page.
func (p Profile) ContactRecord(doc *document.Document) types.ContactRecord {
	rec := types.NewContactRecord()
	if doc == nil {
		return rec
	}

	rec.Address = optionalText(doc.First(p.Address).Text())
	rec.WebURLs = hrefs(doc.All(p.WebURL))
	rec.SocialURLs = hrefs(doc.First(p.SocialNetworks).All("a[href]"))
	rec.MobileNumbers, rec.PhoneNumbers = p.phones(doc)

	for _, link := range doc.All(p.Email) {
		if href, ok := link.Attr("href"); ok {
			rec.Emails = append(rec.Emails, strings.TrimPrefix(href, "mailto:"))
		}
	}

	if fields := strings.Fields(doc.First(p.BusinessInfo).Text()); len(fields) > 0 {
		rec.RegistrationID = &fields[0]
	}
	return rec
}

// phones pairs each label heading with the value block that follows it.
// The pairing relies on the value being a later sibling of its label; labels
// other than the mobile and landline ones are ignored.
func (p Profile) phones(doc *document.Document) (mobile, landline []string) {
	mobile, landline = []string{}, []string{}
	for _, label := range doc.All(p.PhoneLabel) {
		number := label.NextSibling(p.PhoneValue).First(p.PhoneNumber)
		if !number.Exists() {
			continue
		}
		switch label.Text() {
		case p.MobileLabel:
			mobile = append(mobile, number.Text())
		case p.LandlineLabel:
			landline = append(landline, number.Text())
		}
	}
	return mobile, landline
}

func hrefs(nodes []document.Node) []string {
	out := []string{}
	for _, n := range nodes {
		if href, ok := n.Attr("href"); ok {
			out = append(out, href)
		}
	}
	return out
}

func optionalText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
