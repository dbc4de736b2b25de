package idf

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPath(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{in: "title", want: FieldTitle},
		{in: "keywords", want: FieldKeywords},
		{in: "invention.results", want: FieldResults},
		{in: "/prior_art/", want: FieldPriorArt},
		{in: "Invention.AdditionalData", want: FieldAdditionalData},
	} {
		got, err := CanonicalPath(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	_, err := CanonicalPath("invention.figures")
	assert.True(t, errors.Is(err, ErrUnknownField))
}

func TestShapeOf(t *testing.T) {
	for path, want := range map[string]Shape{
		"title":      ShapeScalar,
		"keywords":   ShapeScalar,
		"prior_art":  ShapeRecords,
		"disclosure": ShapeRecords,
		"plans":      ShapeRecords,
	} {
		got, err := ShapeOf(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
}

func TestSetTextReplacesWholeField(t *testing.T) {
	r := New()
	r.Invention.Keywords = List("old")
	require.NoError(t, r.SetText("keywords", "seal, catheter"))
	assert.Equal(t, []string{"seal", "catheter"}, r.Invention.Keywords.List())

	require.NoError(t, r.SetText("abstract", "new abstract"))
	assert.Equal(t, "new abstract", r.Abstract)

	assert.Error(t, r.SetText("prior_art", "nope"))
}

func TestSetRowsMatchesKeysCaseInsensitively(t *testing.T) {
	r := New()
	require.NoError(t, r.SetRows("prior_art", []map[string]string{
		{"Title": "Valve", "AUTHORS": "Smith", "published": "web", "PublicationDate": "2019"},
	}))
	require.Len(t, r.PriorArt, 1)
	assert.Equal(t, PriorArt{Title: "Valve", Authors: "Smith", Published: "web", PublicationDate: "2019"}, r.PriorArt[0])

	require.NoError(t, r.SetRows("plans", nil))
	assert.NotNil(t, r.Plans)
}

func TestSetJSONAcceptsBothListShapes(t *testing.T) {
	r := New()
	require.NoError(t, r.SetJSON("results", json.RawMessage(`["a","b"]`)))
	assert.Equal(t, []string{"a", "b"}, r.Invention.Results.Lines())

	require.NoError(t, r.SetJSON("results", json.RawMessage(`"line 1\nline 2"`)))
	assert.Equal(t, []string{"line 1", "line 2"}, r.Invention.Results.Lines())

	require.NoError(t, r.SetJSON("disclosure", json.RawMessage(`null`)))
	assert.NotNil(t, r.Disclosure)

	assert.Error(t, r.SetJSON("title", json.RawMessage(`[1,2]`)))
}

func TestFieldValue(t *testing.T) {
	r := New()
	r.Invention.Keywords = List("seal", "catheter")
	r.Disclosure = []Disclosure{{Title: "Talk"}}

	v, err := r.FieldValue("keywords")
	require.NoError(t, err)
	assert.Equal(t, "seal, catheter", v)

	v, err = r.FieldValue("disclosure")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"title":"Talk","authors":"","published":"","Date":""}]`, v)
}
