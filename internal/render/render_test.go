package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExportFilename(t *testing.T) {
	for _, tc := range []struct {
		title string
		want  string
	}{
		{title: "", want: "IDF.pdf"},
		{title: "   ", want: "IDF.pdf"},
		{title: "Self-sealing catheter", want: "Self-sealing-catheter.pdf"},
		{title: "צנתר", want: "IDF.pdf"},
		{title: "A/B: test?", want: "A-B--test.pdf"},
	} {
		assert.Equal(t, tc.want, ExportFilename(tc.title), tc.title)
	}
}

func TestPageCountRejectsGarbage(t *testing.T) {
	_, err := PageCount([]byte("not a pdf"))
	assert.Error(t, err)
	_, err = Finalize([]byte("not a pdf"), 1, Meta{Title: "x"})
	assert.Error(t, err)
}
