// Package raster draws single laid-out pages to PNG for in-browser previews.
package raster

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	_ "golang.org/x/image/webp"
	"golang.org/x/text/unicode/bidi"

	"github.com/joelkehle/idf-drafter/internal/layout"
	"github.com/joelkehle/idf-drafter/internal/logging"
)

var ErrPageRange = fmt.Errorf("page out of range")

// Fonts supplies the parsed faces the layout was measured with.
type Fonts interface {
	Font(bold bool) *truetype.Font
}

type ImagePaths interface {
	Path(ref string) string
}

type PNGRenderer struct {
	fonts  Fonts
	images ImagePaths
	dpi    float64
	log    *logging.Logger

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

type faceKey struct {
	size float64
	bold bool
}

func New(fonts Fonts, images ImagePaths, dpi float64, log *logging.Logger) *PNGRenderer {
	if dpi <= 0 {
		dpi = 96
	}
	if log == nil {
		log = logging.Nop()
	}
	return &PNGRenderer{fonts: fonts, images: images, dpi: dpi, log: log, faces: make(map[faceKey]font.Face)}
}

// RenderPage writes page n (1-based) of doc as PNG.
func (r *PNGRenderer) RenderPage(ctx context.Context, doc layout.Document, n int, w io.Writer) error {
	if n < 1 || n > len(doc.Pages) {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, n, len(doc.Pages))
	}
	img, err := r.Draw(ctx, doc.Geometry, doc.Pages[n-1])
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}

// Draw rasterizes one page.
func (r *PNGRenderer) Draw(ctx context.Context, g layout.Geometry, p layout.Page) (image.Image, error) {
	scale := r.dpi / 25.4
	dc := gg.NewContext(int(g.PageWidth*scale+0.5), int(g.PageHeight*scale+0.5))
	dc.SetRGB255(255, 255, 255)
	dc.Clear()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, op := range p.Ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch op.Kind {
		case layout.OpRect:
			dc.DrawRectangle(op.X*scale, op.Y*scale, op.W*scale, op.H*scale)
			if op.Fill != nil {
				dc.SetRGB255(int(op.Fill.R), int(op.Fill.G), int(op.Fill.B))
				if op.Stroke != nil {
					dc.FillPreserve()
				} else {
					dc.Fill()
				}
			}
			if op.Stroke != nil {
				dc.SetRGB255(int(op.Stroke.R), int(op.Stroke.G), int(op.Stroke.B))
				dc.SetLineWidth(1)
				dc.Stroke()
			}
			dc.ClearPath()
		case layout.OpText:
			dc.SetFontFace(r.faceLocked(op.Size*r.dpi/72, op.Bold))
			c := layout.Black
			if op.Color != nil {
				c = *op.Color
			}
			dc.SetRGB255(int(c.R), int(c.G), int(c.B))
			ax := 0.0
			switch op.Align {
			case layout.AlignCenter:
				ax = 0.5
			case layout.AlignRight:
				ax = 1
			}
			text := op.Text
			if op.RTL {
				text = visualOrder(text)
			}
			dc.DrawStringAnchored(text, op.X*scale, (op.Y+op.H/2)*scale, ax, 0.35)
		case layout.OpImage:
			src, err := r.loadImage(op.Src)
			if err != nil {
				r.log.Warn("figure unreadable at preview time", "figure", op.Src, "error", err)
				continue
			}
			dst := image.NewRGBA(image.Rect(0, 0, int(op.W*scale+0.5), int(op.H*scale+0.5)))
			draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
			dc.DrawImage(dst, int(op.X*scale+0.5), int(op.Y*scale+0.5))
		}
	}
	return dc.Image(), nil
}

func (r *PNGRenderer) loadImage(ref string) (image.Image, error) {
	path := r.images.Path(ref)
	if path == "" {
		return nil, fmt.Errorf("%w: %q", layout.ErrFigureRef, ref)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func (r *PNGRenderer) faceLocked(size float64, bold bool) font.Face {
	k := faceKey{size: size, bold: bold}
	if f, ok := r.faces[k]; ok {
		return f
	}
	f := truetype.NewFace(r.fonts.Font(bold), &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingFull})
	r.faces[k] = f
	return f
}

// visualOrder reorders a logical-order string for a renderer that only draws left to right.
func visualOrder(s string) string {
	var p bidi.Paragraph
	if _, err := p.SetString(s, bidi.DefaultDirection(bidi.RightToLeft)); err != nil {
		return reverseRunes(s)
	}
	o, err := p.Order()
	if err != nil {
		return reverseRunes(s)
	}
	var out []rune
	for i := 0; i < o.NumRuns(); i++ {
		run := o.Run(i)
		if run.Direction() == bidi.RightToLeft {
			out = append(out, []rune(reverseRunes(run.String()))...)
		} else {
			out = append(out, []rune(run.String())...)
		}
	}
	return string(out)
}

func reverseRunes(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}
