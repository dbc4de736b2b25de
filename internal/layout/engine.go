// Package layout turns an IDF record into paginated A4 draw instructions. It owns every
// pagination decision; renderers only replay the ops.
package layout

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/joelkehle/idf-drafter/internal/idf"
	"github.com/joelkehle/idf-drafter/internal/logging"
)

const epsilon = 1e-9

var (
	InventorHeader   = []string{"Personal Info (Name, ID, Nationality)", "Employer", "% Inventorship", "Contact Info (Home, Phone, Email)", "Signature"}
	PriorArtHeader   = []string{"Title", "Authors", "Published", "Publication Date"}
	DisclosureHeader = []string{"Title", "Authors", "Published", "Date"}
	PlansHeader      = []string{"Title", "Authors", "Disclosed", "Date"}
)

const (
	PriorArtPlaceholder   = "None known"
	DisclosurePlaceholder = "Not Disclosed"
	PlansPlaceholder      = "No"
)

type Engine struct {
	geom     Geometry
	measure  Measurer
	tables   TableDrawer
	images   ImageSource
	branding Branding
	log      *logging.Logger
}

type Option func(*Engine)

func WithGeometry(g Geometry) Option       { return func(e *Engine) { e.geom = g } }
func WithTableDrawer(t TableDrawer) Option { return func(e *Engine) { e.tables = t } }
func WithImages(s ImageSource) Option      { return func(e *Engine) { e.images = s } }
func WithBranding(b Branding) Option       { return func(e *Engine) { e.branding = b } }
func WithLogger(l *logging.Logger) Option  { return func(e *Engine) { e.log = l } }

func New(m Measurer, opts ...Option) *Engine {
	e := &Engine{
		geom:     A4(),
		measure:  m,
		tables:   GridTable{},
		images:   DirImages{},
		branding: DefaultBranding(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Geometry() Geometry { return e.geom }

// Layout produces the document for rec. Overflow is always resolved by a page break; the
// errors are ctx cancellation and ErrFontUnavailable when right-to-left text has no glyphs
// in the measuring font.
func (e *Engine) Layout(ctx context.Context, rec idf.Record) (Document, error) {
	rec.Normalize()
	if err := e.checkCoverage(rec); err != nil {
		return Document{}, err
	}
	r := &run{e: e, ctx: ctx}
	r.NewPage()

	r.banner()
	r.y = e.geom.ContentTop

	r.emitLabeledLine("1. DATE:", rec.Date)
	r.emitLabeledLine("2. TITLE:", rec.Title)
	r.y += 2

	inventors := make([][]string, 0, len(rec.Inventors))
	for _, inv := range rec.Inventors {
		if inv.IsEmpty() {
			continue
		}
		inventors = append(inventors, InventorCells(inv))
	}
	r.emitTable("3. INVENTOR DETAILS:", InventorHeader, inventors)

	inv := rec.Invention
	r.emitMultilineBlock("4. ABSTRACT OF THE INVENTION:", rec.Abstract)
	r.emitMultilineBlock("5. DESCRIPTION:", inv.Description)
	r.emitMultilineBlock("KEYWORDS:", inv.Keywords.DisplayString())
	r.emitMultilineBlock("BACKGROUND:", inv.Background)
	r.emitMultilineBlock("PROBLEM:", inv.Problem)
	r.emitMultilineBlock("COMPONENTS:", strings.Join(inv.Components.Lines(), "\n"))
	r.emitMultilineBlock("ADVANTAGES:", inv.Advantages)
	r.emitMultilineBlock("ADDITIONAL DATA:", inv.AdditionalData)
	if err := r.emitImageGrid(inv.Figures); err != nil {
		return Document{}, err
	}
	r.emitMultilineBlock("RESULTS:", strings.Join(inv.Results.Lines(), "\n"))

	r.emitTable("6. PRIOR ART:", PriorArtHeader, RowsOrPlaceholder(rec.PriorArt, PriorArtPlaceholder))
	r.emitTable("7. DISCLOSURE:", DisclosureHeader, RowsOrPlaceholder(rec.Disclosure, DisclosurePlaceholder))
	r.emitTable("8. PUBLICATION PLANS:", PlansHeader, RowsOrPlaceholder(rec.Plans, PlansPlaceholder))

	r.footer()
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	return Document{Geometry: e.geom, Pages: r.pages}, nil
}

// checkCoverage fails when the measurer can tell that its font cannot draw some
// right-to-left text; wrapping would otherwise use placeholder glyph widths.
func (e *Engine) checkCoverage(rec idf.Record) error {
	cov, ok := e.measure.(GlyphCoverage)
	if !ok {
		return nil
	}
	for _, s := range recordTexts(rec) {
		if rtl := rtlRunes(s); rtl != "" && !cov.Covers(rtl) {
			return fmt.Errorf("%w: no glyphs for right-to-left text %q", ErrFontUnavailable, s)
		}
	}
	return nil
}

func recordTexts(rec idf.Record) []string {
	inv := rec.Invention
	out := []string{
		rec.Date, rec.Title, rec.Abstract,
		inv.Description, inv.Keywords.DisplayString(), inv.Background, inv.Problem,
		strings.Join(inv.Components.Lines(), "\n"), inv.Advantages, inv.AdditionalData,
		strings.Join(inv.Results.Lines(), "\n"),
	}
	for _, i := range rec.Inventors {
		out = append(out, InventorCells(i)...)
	}
	out = appendCells(out, rec.PriorArt)
	out = appendCells(out, rec.Disclosure)
	return appendCells(out, rec.Plans)
}

func appendCells[T row](out []string, items []T) []string {
	for _, it := range items {
		c := it.Cells()
		out = append(out, c[:]...)
	}
	return out
}

// InventorCells flattens an inventor into the five printed columns.
func InventorCells(inv idf.Inventor) []string {
	pct := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(inv.Inventorship), "%"))
	if pct != "" {
		pct += "%"
	}
	return []string{
		joinNonEmpty(inv.Name, inv.ID, inv.Nationality),
		inv.Employer,
		pct,
		joinNonEmpty(inv.Address, inv.Phone, inv.Email),
		"",
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

type row interface {
	Cells() [4]string
	IsEmpty() bool
}

// RowsOrPlaceholder drops empty rows and substitutes a single placeholder row when nothing is left.
func RowsOrPlaceholder[T row](items []T, placeholder string) [][]string {
	out := make([][]string, 0, len(items))
	for _, it := range items {
		if it.IsEmpty() {
			continue
		}
		c := it.Cells()
		out = append(out, c[:])
	}
	if len(out) == 0 {
		out = append(out, []string{placeholder, "", "", ""})
	}
	return out
}

// run is the mutable state of one Layout call.
type run struct {
	e     *Engine
	ctx   context.Context
	pages []Page
	y     float64
}

func (r *run) Geometry() Geometry { return r.e.geom }
func (r *run) Measurer() Measurer { return r.e.measure }
func (r *run) PageIndex() int     { return len(r.pages) - 1 }

func (r *run) Add(op Op) {
	p := &r.pages[len(r.pages)-1]
	p.Ops = append(p.Ops, op)
}

func (r *run) NewPage() {
	r.pages = append(r.pages, Page{Number: len(r.pages) + 1, Ops: []Op{}})
	r.y = r.e.geom.Margin
}

func (r *run) fits(h float64) bool {
	return r.y+h <= r.e.geom.Limit()+epsilon
}

func (r *run) ensure(h float64) {
	if !r.fits(h) {
		r.NewPage()
	}
}

func (r *run) banner() {
	g := r.e.geom
	r.Add(Op{Kind: OpRect, X: 0, Y: 0, W: g.PageWidth, H: g.BannerTop, Fill: &LightBlue})
	r.Add(Op{Kind: OpRect, X: 0, Y: g.BannerTop, W: g.PageWidth, H: g.BannerBottom - g.BannerTop, Fill: &Cornflower})
	r.Add(Op{Kind: OpText, X: g.PageWidth / 2, Y: 0, H: g.BannerTop, Text: r.e.branding.Institution,
		Size: g.TableFontSize, Bold: true, Align: AlignCenter, Color: &Black})
	r.Add(Op{Kind: OpText, X: g.PageWidth / 2, Y: g.BannerTop, H: g.BannerBottom - g.BannerTop, Text: r.e.branding.FormTitle,
		Size: 14, Bold: true, Align: AlignCenter, Color: &White})
}

func (r *run) footer() {
	g := r.e.geom
	r.Add(Op{Kind: OpText, X: g.Margin, Y: g.PageHeight - 19, H: 5, Text: r.e.branding.ContactLine,
		Size: g.FooterFontSize, Align: AlignLeft, Color: &Grey})
	r.Add(Op{Kind: OpText, X: g.Margin, Y: g.PageHeight - 12, H: 5, Text: r.e.branding.ContactEmail,
		Size: g.FooterFontSize, Align: AlignLeft, Color: &Grey})
}

// line writes one text line at the cursor without advancing it.
func (r *run) line(text string, bold bool) {
	g := r.e.geom
	op := Op{Kind: OpText, X: g.Margin, Y: r.y, H: g.LineHeight, Text: text, Size: g.FontSize, Bold: bold, Align: AlignLeft, Color: &Black}
	if IsRTL(text) {
		op.X = g.PageWidth - g.Margin
		op.Align = AlignRight
		op.RTL = true
	}
	r.Add(op)
}

// emitLabeledLine writes the bold label and the value on one line when they fit together,
// otherwise the value is wrapped onto the following lines.
func (r *run) emitLabeledLine(label, value string) {
	g := r.e.geom
	m := r.e.measure
	value = strings.TrimSpace(value)
	r.ensure(g.LineHeight)
	r.line(label, true)

	labelW := m.TextWidth(label+" ", g.FontSize, true)
	if value != "" && !strings.Contains(value, "\n") && !IsRTL(value) &&
		labelW+m.TextWidth(value, g.FontSize, false) <= g.UsableWidth() {
		r.Add(Op{Kind: OpText, X: g.Margin + labelW, Y: r.y, H: g.LineHeight, Text: value,
			Size: g.FontSize, Align: AlignLeft, Color: &Black})
		r.y += g.LineHeight
		return
	}
	r.y += g.LineHeight
	for _, l := range Wrap(m, value, g.UsableWidth(), g.FontSize, false) {
		r.ensure(g.LineHeight)
		r.line(l, false)
		r.y += g.LineHeight
	}
}

// emitMultilineBlock writes a label and wrapped text. A block that does not fit fills the
// current page, then continues on as many pages as needed; the label is not repeated and is
// never left alone at the foot of a page.
func (r *run) emitMultilineBlock(label, text string) {
	g := r.e.geom
	lines := Wrap(r.e.measure, text, g.UsableWidth(), g.FontSize, false)
	if len(lines) > 0 {
		r.ensure(2 * g.LineHeight)
	} else {
		r.ensure(g.LineHeight)
	}
	r.line(label, true)
	r.y += g.LineHeight

	if !r.fits(float64(len(lines)) * g.LineHeight) {
		fit := int(math.Floor((g.Limit() - r.y + epsilon) / g.LineHeight))
		if fit < 0 {
			fit = 0
		}
		if fit > len(lines) {
			fit = len(lines)
		}
		for _, l := range lines[:fit] {
			r.line(l, false)
			r.y += g.LineHeight
		}
		lines = lines[fit:]
		r.NewPage()
	}
	for _, l := range lines {
		r.ensure(g.LineHeight)
		r.line(l, false)
		r.y += g.LineHeight
	}
	r.y += g.BlockPadding
}

// emitTable writes the title and hands the body to the TableDrawer. The title is kept on
// the same page as the header row.
func (r *run) emitTable(title string, header []string, rows [][]string) {
	g := r.e.geom
	r.ensure(g.LineHeight + g.TableGap + g.TableLineHeight() + 2*g.CellPadding)
	r.line(title, true)
	r.y += g.LineHeight + g.TableGap
	r.y = r.e.tables.Draw(r, r.y, Table{Header: header, Rows: rows}) + g.TablePadding
}

type placed struct {
	ref  string
	w, h float64
}

// emitImageGrid places figures two per row. Each figure is decoded before it is placed, in
// input order; failures are logged and skipped.
func (r *run) emitImageGrid(refs []string) error {
	g := r.e.geom
	colW := (g.UsableWidth() - g.ImageGap) / 2
	maxH := g.Limit() - g.Margin

	var pending []placed
	flush := func() {
		if len(pending) == 0 {
			return
		}
		rowH := 0.0
		for _, p := range pending {
			rowH = math.Max(rowH, p.h)
		}
		r.ensure(rowH)
		x := g.Margin
		for _, p := range pending {
			r.Add(Op{Kind: OpImage, X: x, Y: r.y, W: p.w, H: p.h, Src: p.ref})
			x += colW + g.ImageGap
		}
		r.y += rowH + g.ImageGap
		pending = pending[:0]
	}

	for _, ref := range refs {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		cfg, err := r.e.images.DecodeConfig(r.ctx, ref)
		if err != nil {
			if ctxErr := r.ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			r.e.log.Warn("figure skipped", "figure", ref, "error", err)
			continue
		}
		if cfg.Width <= 0 || cfg.Height <= 0 {
			r.e.log.Warn("figure skipped", "figure", ref, "error", "empty image")
			continue
		}
		w := colW
		h := colW * float64(cfg.Height) / float64(cfg.Width)
		if h > maxH {
			w = w * maxH / h
			h = maxH
		}
		pending = append(pending, placed{ref: ref, w: w, h: h})
		if len(pending) == 2 {
			flush()
		}
	}
	flush()
	return nil
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

func splitWords(s string) []string {
	return strings.Fields(s)
}
