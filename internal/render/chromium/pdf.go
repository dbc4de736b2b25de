// Package chromium prints laid-out IDF documents to PDF through headless Chromium.
package chromium

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/joelkehle/idf-drafter/internal/layout"
	"github.com/joelkehle/idf-drafter/internal/logging"
	"github.com/joelkehle/idf-drafter/internal/render"
)

const fontFamily = "IDFText"

// FontFaces supplies the TTF bytes the layout was measured with.
type FontFaces interface {
	TTF(bold bool) []byte
}

// ImagePaths resolves figure references to files.
type ImagePaths interface {
	Path(ref string) string
}

type PDFRenderer struct {
	fonts      FontFaces
	images     ImagePaths
	chromePath string
	timeout    time.Duration
	log        *logging.Logger
}

type Option func(*PDFRenderer)

func WithChromePath(p string) Option      { return func(r *PDFRenderer) { r.chromePath = p } }
func WithTimeout(d time.Duration) Option  { return func(r *PDFRenderer) { r.timeout = d } }
func WithLogger(l *logging.Logger) Option { return func(r *PDFRenderer) { r.log = l } }

func New(fonts FontFaces, images ImagePaths, opts ...Option) *PDFRenderer {
	r := &PDFRenderer{
		fonts:      fonts,
		images:     images,
		chromePath: detectChromePath(),
		timeout:    30 * time.Second,
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render prints doc and verifies the page count of the result.
func (r *PDFRenderer) Render(ctx context.Context, doc layout.Document, meta render.Meta) ([]byte, error) {
	htmlDoc := BuildHTML(doc, r.fonts, r.loadImage)

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	g := doc.Geometry
	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(false).
				WithPreferCSSPageSize(true).
				WithPaperWidth(g.PageWidth / 25.4).
				WithPaperHeight(g.PageHeight / 25.4).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return render.Finalize(pdf, len(doc.Pages), meta)
}

// loadImage returns a data URL for ref, or "" when the file cannot be read.
func (r *PDFRenderer) loadImage(ref string) string {
	path := r.images.Path(ref)
	if path == "" {
		r.log.Warn("figure rejected at render time", "figure", ref)
		return ""
	}
	b, err := os.ReadFile(path)
	if err != nil {
		r.log.Warn("figure unreadable at render time", "figure", ref, "error", err)
		return ""
	}
	return "data:" + http.DetectContentType(b) + ";base64," + base64.StdEncoding.EncodeToString(b)
}

// BuildHTML renders every page as a fixed-size box of absolutely positioned elements.
func BuildHTML(doc layout.Document, fonts FontFaces, image func(ref string) string) string {
	g := doc.Geometry
	var b strings.Builder
	b.WriteString("<!doctype html><html><head><meta charset='utf-8'><title>Invention Disclosure Form</title><style>")
	if fonts != nil {
		writeFontFace(&b, fonts.TTF(false), 400)
		writeFontFace(&b, fonts.TTF(true), 700)
	}
	fmt.Fprintf(&b, "@page{size:%smm %smm;margin:0;}", mm(g.PageWidth), mm(g.PageHeight))
	b.WriteString("html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}")
	fmt.Fprintf(&b, "body{margin:0;font-family:'%s',sans-serif;}", fontFamily)
	fmt.Fprintf(&b, ".page{position:relative;overflow:hidden;width:%smm;height:%smm;break-after:page;page-break-after:always;}", mm(g.PageWidth), mm(g.PageHeight))
	b.WriteString(".page:last-child{break-after:auto;page-break-after:auto;}")
	b.WriteString(".t{position:absolute;white-space:pre;margin:0;}")
	b.WriteString(".r{position:absolute;box-sizing:border-box;}")
	b.WriteString(".i{position:absolute;object-fit:contain;}")
	b.WriteString("</style></head><body>")
	for _, p := range doc.Pages {
		fmt.Fprintf(&b, "<div class='page' data-page='%d'>", p.Number)
		for _, op := range p.Ops {
			writeOp(&b, g, op, image)
		}
		b.WriteString("</div>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func writeFontFace(b *strings.Builder, ttf []byte, weight int) {
	if len(ttf) == 0 {
		return
	}
	fmt.Fprintf(b, "@font-face{font-family:'%s';font-weight:%d;src:url(data:font/ttf;base64,%s) format('truetype');}",
		fontFamily, weight, base64.StdEncoding.EncodeToString(ttf))
}

func writeOp(b *strings.Builder, g layout.Geometry, op layout.Op, image func(string) string) {
	switch op.Kind {
	case layout.OpRect:
		style := fmt.Sprintf("left:%smm;top:%smm;width:%smm;height:%smm;", mm(op.X), mm(op.Y), mm(op.W), mm(op.H))
		if op.Fill != nil {
			style += "background:" + rgb(*op.Fill) + ";"
		}
		if op.Stroke != nil {
			style += "border:0.1mm solid " + rgb(*op.Stroke) + ";"
		}
		fmt.Fprintf(b, "<div class='r' style='%s'></div>", style)
	case layout.OpText:
		style := fmt.Sprintf("top:%smm;height:%smm;line-height:%smm;font-size:%spt;", mm(op.Y), mm(op.H), mm(op.H), mm(op.Size))
		switch op.Align {
		case layout.AlignRight:
			style += fmt.Sprintf("right:%smm;text-align:right;", mm(g.PageWidth-op.X))
		case layout.AlignCenter:
			style += fmt.Sprintf("left:%smm;transform:translateX(-50%%);text-align:center;", mm(op.X))
		default:
			style += fmt.Sprintf("left:%smm;", mm(op.X))
		}
		if op.Bold {
			style += "font-weight:700;"
		}
		if op.Color != nil {
			style += "color:" + rgb(*op.Color) + ";"
		}
		dir := "ltr"
		if op.RTL {
			dir = "rtl"
		}
		fmt.Fprintf(b, "<p class='t' dir='%s' style='%s'>%s</p>", dir, style, html.EscapeString(op.Text))
	case layout.OpImage:
		src := ""
		if image != nil {
			src = image(op.Src)
		}
		if src == "" {
			return
		}
		fmt.Fprintf(b, "<img class='i' alt='' src='%s' style='left:%smm;top:%smm;width:%smm;height:%smm;'>",
			src, mm(op.X), mm(op.Y), mm(op.W), mm(op.H))
	}
}

func mm(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func rgb(c layout.Color) string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
