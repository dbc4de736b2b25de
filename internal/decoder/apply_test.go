package decoder

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/idf-drafter/internal/idf"
)

func TestApplyReplacesRecordList(t *testing.T) {
	rec := idf.New()
	rec.PriorArt = []idf.PriorArt{{Title: "old"}}

	raw := `[{'title':'Hydrogel seals','authors':'Cohen','published':'journal','PublicationDate':'2021'}]`
	require.NoError(t, Apply(&rec, "prior_art", raw))
	require.Len(t, rec.PriorArt, 1)
	assert.Equal(t, idf.PriorArt{Title: "Hydrogel seals", Authors: "Cohen", Published: "journal", PublicationDate: "2021"}, rec.PriorArt[0])
}

func TestApplyLeavesRecordUntouchedOnDecodeFailure(t *testing.T) {
	rec := idf.New()
	rec.Disclosure = []idf.Disclosure{{Title: "keep"}}

	err := Apply(&rec, "disclosure", `[{"title":"x"`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Equal(t, "keep", rec.Disclosure[0].Title)
}

func TestApplyScalarField(t *testing.T) {
	rec := idf.New()
	require.NoError(t, Apply(&rec, "title", "  Self-sealing catheter \n"))
	assert.Equal(t, "Self-sealing catheter", rec.Title)
}

func TestTypedHelpersAcceptKeyAliases(t *testing.T) {
	recs, err := DecodeRecords(`[{"Title":"Talk","Authors":"Levi","Published":"conference","date":"2025-03"}]`)
	require.NoError(t, err)

	assert.Equal(t, "2025-03", DisclosuresFrom(recs)[0].Date)
	assert.Equal(t, "2025-03", PriorArtFrom(recs)[0].PublicationDate)
	assert.Equal(t, "conference", PlansFrom(recs)[0].Disclosed)
}
