package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dircrawler/internal/config"
	"dircrawler/internal/document"
	"dircrawler/pkg/types"
)

const listingPage = `<html><body>
<div class="premiseList">
  <h3><a class="companyTitle statCompanyDetail" href="https://www.firmy.cz/detail/100-solar-praha.html">
     Solar Praha s.r.o.</a></h3>
  <h3><a class="companyTitle" href="https://www.firmy.cz/detail/ignored.html">Partial class</a></h3>
  <h3><a class="statCompanyDetail companyTitle" href="https://www.firmy.cz/detail/200-fve-brno.html">FVE Brno</a></h3>
  <h3><a class="companyTitle statCompanyDetail">No link</a></h3>
</div>
</body></html>`

const detailPage = `<html><body>
<div class="detailAddress"> Vinohradská 12, 120 00 Praha 2 </div>
<div class="detailWebUrls">
  <a class="detailWebUrl" href="https://www.solar-praha.cz">www.solar-praha.cz</a>
  <a class="detailWebUrl" href="https://eshop.solar-praha.cz">eshop</a>
</div>
<div class="detailSocialNetworks">
  <a href="https://facebook.com/solarpraha">fb</a>
  <a>broken</a>
  <a href="https://instagram.com/solarpraha">ig</a>
</div>
<div class="detailContacts">
  <h2 class="label">Mobil</h2>
  <div class="value"><span data-dot="origin-phone-number">+420 777 111 222</span></div>
  <h2 class="label">Telefon</h2>
  <div class="value"><span data-dot="origin-phone-number">+420 222 333 444</span></div>
  <h2 class="label">Fax</h2>
  <div class="value"><span data-dot="origin-phone-number">+420 222 333 445</span></div>
  <h2 class="label">Mobil</h2>
  <div class="value"><span>no marker</span></div>
</div>
<a data-dot="e-mail" href="mailto:info@solar-praha.cz">info@solar-praha.cz</a>
<a data-dot="e-mail" href="mailto:obchod@solar-praha.cz">obchod</a>
<div class="detailBusinessInfo">  12345678 Společnost zapsaná v OR </div>
</body></html>`

var defaults = DefaultProfile()

func TestListingEntries(t *testing.T) {
	entries := defaults.ListingEntries(document.Parse(listingPage), 2)
	assert.Equal(t, []types.ListingEntry{
		{Name: "Solar Praha s.r.o.", DetailURL: "https://www.firmy.cz/detail/100-solar-praha.html", Page: 2},
		{Name: "FVE Brno", DetailURL: "https://www.firmy.cz/detail/200-fve-brno.html", Page: 2},
	}, entries)
}

func TestListingEntriesEmptyPage(t *testing.T) {
	entries := defaults.ListingEntries(document.Parse(`<html><body><p>Nic nenalezeno</p></body></html>`), 7)
	require.NotNil(t, entries)
	assert.Empty(t, entries)
	assert.Empty(t, defaults.ListingEntries(nil, 1))
}

func TestContactRecordFullPage(t *testing.T) {
	rec := defaults.ContactRecord(document.Parse(detailPage))

	require.NotNil(t, rec.Address)
	assert.Equal(t, "Vinohradská 12, 120 00 Praha 2", *rec.Address)
	assert.Equal(t, []string{"https://www.solar-praha.cz", "https://eshop.solar-praha.cz"}, rec.WebURLs)
	assert.Equal(t, []string{"https://facebook.com/solarpraha", "https://instagram.com/solarpraha"}, rec.SocialURLs)
	assert.Equal(t, []string{"+420 777 111 222"}, rec.MobileNumbers)
	assert.Equal(t, []string{"+420 222 333 444"}, rec.PhoneNumbers)
	assert.Equal(t, []string{"info@solar-praha.cz", "obchod@solar-praha.cz"}, rec.Emails)
	require.NotNil(t, rec.RegistrationID)
	assert.Equal(t, "12345678", *rec.RegistrationID)
}

func TestContactRecordTelefonOnly(t *testing.T) {
	doc := document.Parse(`<div>
<h2 class="label">Telefon</h2>
<div class="value"><span data-dot="origin-phone-number">+420 123 456 789</span></div>
</div>`)
	rec := defaults.ContactRecord(doc)
	assert.Equal(t, []string{"+420 123 456 789"}, rec.PhoneNumbers)
	assert.Equal(t, []string{}, rec.MobileNumbers)
}

func TestContactRecordMissingAddress(t *testing.T) {
	doc := document.Parse(`<body>
<a class="detailWebUrl" href="https://firma.cz">web</a>
<a data-dot="e-mail" href="mailto:a@firma.cz">a</a>
<div class="detailBusinessInfo">87654321</div>
</body>`)
	rec := defaults.ContactRecord(doc)

	assert.Nil(t, rec.Address)
	assert.Equal(t, []string{"https://firma.cz"}, rec.WebURLs)
	assert.Equal(t, []string{"a@firma.cz"}, rec.Emails)
	require.NotNil(t, rec.RegistrationID)
	assert.Equal(t, "87654321", *rec.RegistrationID)
}

func TestContactRecordEmptyDocument(t *testing.T) {
	for _, doc := range []*document.Document{nil, document.Parse(""), document.Parse("<<<not html")} {
		rec := defaults.ContactRecord(doc)
		assert.Equal(t, types.NewContactRecord(), rec)
	}
}

func TestContactRecordEmptyBusinessInfo(t *testing.T) {
	rec := defaults.ContactRecord(document.Parse(`<div class="detailBusinessInfo">   </div><div class="detailAddress"></div>`))
	assert.Nil(t, rec.RegistrationID)
	assert.Nil(t, rec.Address)
}

func TestLabelWithoutValueSibling(t *testing.T) {
	doc := document.Parse(`<section><h2 class="label">Mobil</h2></section>
<div class="value"><span data-dot="origin-phone-number">+420 000</span></div>`)
	rec := defaults.ContactRecord(doc)
	assert.Empty(t, rec.MobileNumbers)
}

func TestContactRecordIsDeterministic(t *testing.T) {
	doc := document.Parse(detailPage)
	assert.Equal(t, defaults.ContactRecord(doc), defaults.ContactRecord(doc))
	assert.Equal(t, defaults.ContactRecord(doc), defaults.ContactRecord(document.Parse(detailPage)))
}

func TestCustomProfile(t *testing.T) {
	p := NewProfile(config.ExtractConfig{ListingTitle: "a.firm", LandlineLabel: "Phone"})
	assert.Equal(t, "div.detailAddress", p.Address)

	entries := p.ListingEntries(document.Parse(`<a class="firm" href="/x">X</a>`), 1)
	assert.Equal(t, []types.ListingEntry{{Name: "X", DetailURL: "/x", Page: 1}}, entries)

	rec := p.ContactRecord(document.Parse(`<h2 class="label">Phone</h2>
<div class="value"><span data-dot="origin-phone-number">555</span></div>`))
	assert.Equal(t, []string{"555"}, rec.PhoneNumbers)
}

func TestRegistrationIDIsFirstWhitespaceToken(t *testing.T) {
	rec := defaults.ContactRecord(document.Parse(`<div class="detailBusinessInfo">
  12345678
  <span>Společnost zapsaná v OR</span>
</div>`))
	require.NotNil(t, rec.RegistrationID)
	assert.Equal(t, "12345678", *rec.RegistrationID)

	rec = defaults.ContactRecord(document.Parse(`<div class="detailBusinessInfo">IČO<b>12345678</b></div>`))
	require.NotNil(t, rec.RegistrationID)
	assert.Equal(t, "IČO12345678", *rec.RegistrationID)
}
