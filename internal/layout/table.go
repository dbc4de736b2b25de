package layout

import (
	"math"
)

// Canvas is the drawing surface a TableDrawer writes to. Ops go to the current page.
type Canvas interface {
	Geometry() Geometry
	Measurer() Measurer
	Add(op Op)
	NewPage()
	PageIndex() int
}

type Table struct {
	Header []string
	Rows   [][]string
}

// TableDrawer draws t starting at startY on the canvas's current page and returns the y
// just below the last row, on whatever page the canvas ends up on.
type TableDrawer interface {
	Draw(c Canvas, startY float64, t Table) float64
}

// GridTable draws bordered cells with a filled header that is repeated on continuation
// pages. Column widths follow content; rows taller than a page are split by line.
type GridTable struct{}

type cell struct {
	lines []string
	rtl   []bool
}

func (GridTable) Draw(c Canvas, startY float64, t Table) float64 {
	g := c.Geometry()
	m := c.Measurer()
	widths := columnWidths(m, g, t)
	lh := g.TableLineHeight()
	pad := g.CellPadding

	header := wrapRow(m, g, t.Header, widths, true)
	headerH := rowHeight(header, lh, pad)

	y := startY
	if y+headerH > g.Limit() {
		c.NewPage()
		y = g.Margin
	}
	drawRow(c, y, header, widths, lh, true)
	y += headerH

	for _, raw := range t.Rows {
		row := wrapRow(m, g, raw, widths, false)
		h := rowHeight(row, lh, pad)
		if y+h > g.Limit() && g.Margin+headerH+h <= g.Limit() {
			c.NewPage()
			y = g.Margin
			drawRow(c, y, header, widths, lh, true)
			y += headerH
		}
		for {
			h = rowHeight(row, lh, pad)
			if y+h <= g.Limit() {
				drawRow(c, y, row, widths, lh, false)
				y += h
				break
			}
			fit := int(math.Floor((g.Limit() - y - 2*pad + epsilon) / lh))
			if fit < 1 {
				c.NewPage()
				y = g.Margin
				drawRow(c, y, header, widths, lh, true)
				y += headerH
				continue
			}
			head, rest := splitRow(row, fit)
			drawRow(c, y, head, widths, lh, false)
			row = rest
			c.NewPage()
			y = g.Margin
			drawRow(c, y, header, widths, lh, true)
			y += headerH
		}
	}
	return y
}

func wrapRow(m Measurer, g Geometry, raw []string, widths []float64, bold bool) []cell {
	out := make([]cell, len(widths))
	for i := range widths {
		if i >= len(raw) {
			continue
		}
		lines := Wrap(m, raw[i], widths[i]-2*g.CellPadding, g.TableFontSize, bold)
		rtl := make([]bool, len(lines))
		for j, l := range lines {
			rtl[j] = IsRTL(l)
		}
		out[i] = cell{lines: lines, rtl: rtl}
	}
	return out
}

func rowHeight(row []cell, lh, pad float64) float64 {
	n := 1
	for _, c := range row {
		if len(c.lines) > n {
			n = len(c.lines)
		}
	}
	return float64(n)*lh + 2*pad
}

func splitRow(row []cell, n int) (head, rest []cell) {
	head = make([]cell, len(row))
	rest = make([]cell, len(row))
	for i, c := range row {
		k := n
		if k > len(c.lines) {
			k = len(c.lines)
		}
		head[i] = cell{lines: c.lines[:k], rtl: c.rtl[:k]}
		rest[i] = cell{lines: c.lines[k:], rtl: c.rtl[k:]}
	}
	return head, rest
}

func drawRow(c Canvas, y float64, row []cell, widths []float64, lh float64, header bool) {
	g := c.Geometry()
	h := rowHeight(row, lh, g.CellPadding)
	x := g.Margin
	for i, w := range widths {
		r := Op{Kind: OpRect, X: x, Y: y, W: w, H: h, Stroke: &GridLine}
		if header {
			r.Fill = &TableHead
		}
		c.Add(r)
		color := Black
		if header {
			color = White
		}
		for j, line := range row[i].lines {
			if line == "" {
				continue
			}
			op := Op{
				Kind:  OpText,
				X:     x + g.CellPadding,
				Y:     y + g.CellPadding + float64(j)*lh,
				H:     lh,
				Text:  line,
				Size:  g.TableFontSize,
				Bold:  header,
				Align: AlignLeft,
				Color: &color,
			}
			if row[i].rtl[j] {
				op.X = x + w - g.CellPadding
				op.Align = AlignRight
				op.RTL = true
			}
			c.Add(op)
		}
		x += w
	}
}

// columnWidths shares the usable width between columns in proportion to their widest
// unwrapped content, never going below the longest single word of a column.
func columnWidths(m Measurer, g Geometry, t Table) []float64 {
	n := len(t.Header)
	for _, r := range t.Rows {
		if len(r) > n {
			n = len(r)
		}
	}
	if n == 0 {
		return nil
	}
	natural := make([]float64, n)
	minimum := make([]float64, n)
	measure := func(i int, s string, size float64, bold bool) {
		for _, line := range splitLines(s) {
			if w := m.TextWidth(line, size, bold) + 2*g.CellPadding; w > natural[i] {
				natural[i] = w
			}
			for _, word := range splitWords(line) {
				if w := m.TextWidth(word, size, bold) + 2*g.CellPadding; w > minimum[i] {
					minimum[i] = w
				}
			}
		}
	}
	for i, h := range t.Header {
		measure(i, h, g.TableFontSize, true)
	}
	for _, r := range t.Rows {
		for i, v := range r {
			measure(i, v, g.TableFontSize, false)
		}
	}

	total := g.UsableWidth()
	var sumNat, sumMin float64
	for i := range natural {
		if natural[i] < 2*g.CellPadding+1 {
			natural[i] = 2*g.CellPadding + 1
		}
		if minimum[i] > natural[i] {
			minimum[i] = natural[i]
		}
		sumNat += natural[i]
		sumMin += minimum[i]
	}
	widths := make([]float64, n)
	switch {
	case sumNat <= total:
		for i := range widths {
			widths[i] = natural[i] * total / sumNat
		}
	case sumMin >= total:
		for i := range widths {
			widths[i] = minimum[i] * total / sumMin
		}
	default:
		spare := total - sumMin
		for i := range widths {
			widths[i] = minimum[i] + spare*(natural[i]-minimum[i])/(sumNat-sumMin)
		}
	}
	return widths
}
