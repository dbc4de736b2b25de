package layout

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unicode"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// PointsToMM converts typographic points to millimetres.
const PointsToMM = 25.4 / 72

var ErrFontUnavailable = errors.New("font unavailable")

// Measurer reports the rendered width in millimetres of s at size points.
type Measurer interface {
	TextWidth(s string, size float64, bold bool) float64
}

type faceKey struct {
	size float64
	bold bool
}

// FontMetrics measures with TrueType faces. The same font bytes are handed to the renderers
// so that measured and printed widths agree.
type FontMetrics struct {
	regular, bold       *truetype.Font
	regularTTF, boldTTF []byte

	mu    sync.Mutex
	faces map[faceKey]font.Face
}

// NewFontMetrics parses the given TTF data. bold may be nil, in which case the regular face is
// used for both weights.
func NewFontMetrics(regular, bold []byte) (*FontMetrics, error) {
	rf, err := truetype.Parse(regular)
	if err != nil {
		return nil, fmt.Errorf("%w: parse regular: %v", ErrFontUnavailable, err)
	}
	bf := rf
	if len(bold) > 0 {
		bf, err = truetype.Parse(bold)
		if err != nil {
			return nil, fmt.Errorf("%w: parse bold: %v", ErrFontUnavailable, err)
		}
	} else {
		bold = regular
	}
	return &FontMetrics{
		regular:    rf,
		bold:       bf,
		regularTTF: regular,
		boldTTF:    bold,
		faces:      make(map[faceKey]font.Face),
	}, nil
}

// GlyphCoverage is implemented by measurers that know which runes their font can draw.
type GlyphCoverage interface {
	Covers(s string) bool
}

// DefaultFontMetrics uses the Go fonts, which cover Latin scripts only. Hebrew needs a
// configured font.
func DefaultFontMetrics() *FontMetrics {
	m, err := NewFontMetrics(goregular.TTF, gobold.TTF)
	if err != nil {
		panic(err)
	}
	return m
}

// LoadFontMetrics reads TTF files from disk. An empty regularPath selects the Go fonts.
func LoadFontMetrics(regularPath, boldPath string) (*FontMetrics, error) {
	if regularPath == "" {
		return DefaultFontMetrics(), nil
	}
	regular, err := os.ReadFile(regularPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFontUnavailable, err)
	}
	var bold []byte
	if boldPath != "" {
		bold, err = os.ReadFile(boldPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFontUnavailable, err)
		}
	}
	return NewFontMetrics(regular, bold)
}

func (m *FontMetrics) TextWidth(s string, size float64, bold bool) float64 {
	if s == "" {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	adv := font.MeasureString(m.faceLocked(size, bold), s)
	return float64(adv) / 64 * PointsToMM
}

// Covers reports whether the regular face has a glyph for every printable rune of s.
func (m *FontMetrics) Covers(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) || unicode.Is(unicode.Bidi_Control, r) {
			continue
		}
		if m.regular.Index(r) == 0 {
			return false
		}
	}
	return true
}

// Font returns the parsed font for a weight.
func (m *FontMetrics) Font(bold bool) *truetype.Font {
	if bold {
		return m.bold
	}
	return m.regular
}

// TTF returns the raw font bytes for a weight.
func (m *FontMetrics) TTF(bold bool) []byte {
	if bold {
		return m.boldTTF
	}
	return m.regularTTF
}

// faceLocked caches one face per size and weight. Faces are not safe for concurrent use,
// callers hold m.mu.
func (m *FontMetrics) faceLocked(size float64, bold bool) font.Face {
	k := faceKey{size: size, bold: bold}
	if f, ok := m.faces[k]; ok {
		return f
	}
	f := truetype.NewFace(m.Font(bold), &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
	m.faces[k] = f
	return f
}
