// Package inspect reads exported PDFs back for the CLI and for render checks.
package inspect

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

type Report struct {
	Pages []Page `json:"pages"`
}

func (r Report) PageCount() int { return len(r.Pages) }

// Text joins the text of every page, one page per paragraph.
func (r Report) Text() string {
	parts := make([]string, 0, len(r.Pages))
	for _, p := range r.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Read extracts the plain text of every page in data.
func Read(data []byte) (rep Report, err error) {
	// the reader panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Report{}, fmt.Errorf("read pdf: %w", err)
	}
	n := reader.NumPage()
	rep.Pages = make([]Page, 0, n)
	for i := 1; i <= n; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			rep.Pages = append(rep.Pages, Page{Number: i})
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return Report{}, fmt.Errorf("page %d text: %w", i, err)
		}
		rep.Pages = append(rep.Pages, Page{Number: i, Text: strings.TrimSpace(text)})
	}
	return rep, nil
}
