package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailsSurviveJoinAndSplit(t *testing.T) {
	rec := NewContactRecord()
	rec.Emails = []string{"info@firma.cz", "obchod@firma.cz", "jan.novak@firma.cz"}

	cols := ContactRow{URL: "https://www.firmy.cz/detail/1", Record: rec}.Columns()
	require.Len(t, cols, len(ContactColumns))
	assert.Equal(t, "info@firma.cz; obchod@firma.cz; jan.novak@firma.cz", cols[6])
	assert.Equal(t, rec.Emails, SplitMulti(cols[6]))
}

func TestSplitMultiEmpty(t *testing.T) {
	assert.Equal(t, []string{}, SplitMulti(""))
	assert.Equal(t, []string{"a"}, SplitMulti("a"))
}

func TestFailedRowColumns(t *testing.T) {
	cols := FailedContactRow("https://example.cz/page").Columns()
	assert.Equal(t, []string{"https://example.cz/page", "Failed to fetch", "", "", "", "", "", ""}, cols)
}

func TestColumnsAbsentScalars(t *testing.T) {
	cols := ContactRow{URL: "u", Record: NewContactRecord()}.Columns()
	assert.Equal(t, []string{"u", "", "", "", "", "", "", ""}, cols)
}
