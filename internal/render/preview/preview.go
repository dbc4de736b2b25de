// Package preview renders a draft as Markdown and HTML for the editing UI. It follows the
// same section order and placeholders as the paginated layout, without pagination.
package preview

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/layout"
)

// Field values are escaped before conversion; the only raw HTML is the <br> used for
// multi-line table cells.
var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithUnsafe()),
)

// Markdown renders rec as a single Markdown document with GFM tables.
func Markdown(rec idf.Record, brand layout.Branding) string {
	rec.Normalize()
	inv := rec.Invention
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", escape(brand.FormTitle))
	if brand.Institution != "" {
		fmt.Fprintf(&b, "_%s_\n\n", escape(brand.Institution))
	}
	fmt.Fprintf(&b, "**1. DATE:** %s\n\n", escape(rec.Date))
	fmt.Fprintf(&b, "**2. TITLE:** %s\n\n", escape(rec.Title))

	inventors := make([][]string, 0, len(rec.Inventors))
	for _, in := range rec.Inventors {
		if !in.IsEmpty() {
			inventors = append(inventors, layout.InventorCells(in))
		}
	}
	writeTable(&b, "3. INVENTOR DETAILS:", layout.InventorHeader, inventors)

	writeBlock(&b, "4. ABSTRACT OF THE INVENTION:", rec.Abstract)
	writeBlock(&b, "5. DESCRIPTION:", inv.Description)
	writeBlock(&b, "KEYWORDS:", inv.Keywords.DisplayString())
	writeBlock(&b, "BACKGROUND:", inv.Background)
	writeBlock(&b, "PROBLEM:", inv.Problem)
	writeList(&b, "COMPONENTS:", inv.Components.Lines())
	writeBlock(&b, "ADVANTAGES:", inv.Advantages)
	writeBlock(&b, "ADDITIONAL DATA:", inv.AdditionalData)
	if len(inv.Figures) > 0 {
		b.WriteString("**FIGURES:**\n\n")
		for _, f := range inv.Figures {
			fmt.Fprintf(&b, "- %s\n", escape(f))
		}
		b.WriteString("\n")
	}
	writeList(&b, "RESULTS:", inv.Results.Lines())

	writeTable(&b, "6. PRIOR ART:", layout.PriorArtHeader, layout.RowsOrPlaceholder(rec.PriorArt, layout.PriorArtPlaceholder))
	writeTable(&b, "7. DISCLOSURE:", layout.DisclosureHeader, layout.RowsOrPlaceholder(rec.Disclosure, layout.DisclosurePlaceholder))
	writeTable(&b, "8. PUBLICATION PLANS:", layout.PlansHeader, layout.RowsOrPlaceholder(rec.Plans, layout.PlansPlaceholder))

	if brand.ContactLine != "" {
		fmt.Fprintf(&b, "---\n\n%s\n", escape(brand.ContactLine))
	}
	return b.String()
}

// HTML converts the Markdown rendering to an HTML fragment.
func HTML(rec idf.Record, brand layout.Branding) (string, error) {
	var out bytes.Buffer
	if err := md.Convert([]byte(Markdown(rec, brand)), &out); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return out.String(), nil
}

func writeBlock(b *strings.Builder, label, text string) {
	fmt.Fprintf(b, "**%s**\n\n", label)
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, para := range strings.Split(text, "\n") {
		if para = strings.TrimSpace(para); para != "" {
			b.WriteString(escape(para))
			b.WriteString("\n\n")
		}
	}
}

func writeList(b *strings.Builder, label string, items []string) {
	fmt.Fprintf(b, "**%s**\n\n", label)
	if len(items) == 0 {
		return
	}
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", escape(it))
	}
	b.WriteString("\n")
}

func writeTable(b *strings.Builder, title string, header []string, rows [][]string) {
	fmt.Fprintf(b, "**%s**\n\n", title)
	b.WriteString("|")
	for _, h := range header {
		fmt.Fprintf(b, " %s |", cell(h))
	}
	b.WriteString("\n|")
	for range header {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString("|")
		for i := range header {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			fmt.Fprintf(b, " %s |", cell(v))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func cell(v string) string {
	lines := strings.Split(strings.TrimSpace(v), "\n")
	for i, l := range lines {
		lines[i] = strings.ReplaceAll(escape(strings.TrimSpace(l)), "|", `\|`)
	}
	return strings.Join(lines, "<br>")
}

var escaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`,
	"<", "&lt;", ">", "&gt;", "#", `\#`,
)

func escape(s string) string { return escaper.Replace(s) }
