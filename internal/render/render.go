// Package render holds what the PDF and preview renderers share: export naming and the
// pdfcpu post-processing step.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrPageCount = errors.New("rendered page count does not match layout")

// Meta is stamped into the PDF info dictionary.
type Meta struct {
	Title   string
	Subject string
	Author  string
}

// ExportFilename derives the download name from the record title.
func ExportFilename(title string) string {
	return sanitizeFilename(title) + ".pdf"
}

func sanitizeFilename(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "IDF"
	}
	v = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
	v = strings.Trim(v, "-")
	if v == "" {
		return "IDF"
	}
	if len(v) > 80 {
		v = v[:80]
	}
	return v
}

func pdfConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// PageCount reads the page count of a PDF.
func PageCount(pdf []byte) (int, error) {
	ctx, err := api.ReadContext(bytes.NewReader(pdf), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("page count: %w", err)
	}
	return ctx.PageCount, nil
}

// Finalize checks that the printed PDF has as many pages as the layout produced and stamps
// the document properties.
func Finalize(pdf []byte, wantPages int, meta Meta) ([]byte, error) {
	n, err := PageCount(pdf)
	if err != nil {
		return nil, err
	}
	if n != wantPages {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrPageCount, n, wantPages)
	}
	props := map[string]string{}
	if meta.Title != "" {
		props["Title"] = meta.Title
	}
	if meta.Subject != "" {
		props["Subject"] = meta.Subject
	}
	if meta.Author != "" {
		props["Author"] = meta.Author
	}
	if len(props) == 0 {
		return pdf, nil
	}
	var out bytes.Buffer
	if err := api.AddProperties(bytes.NewReader(pdf), &out, props, pdfConfig()); err != nil {
		return nil, fmt.Errorf("stamp properties: %w", err)
	}
	return out.Bytes(), nil
}
