package layout

import (
	"strings"

	"golang.org/x/text/unicode/bidi"
)

// Wrap splits text into lines no wider than width. Explicit newlines are kept, blank
// interior lines survive as empty strings, and words wider than width are broken by rune.
// Text that is empty after trimming yields no lines.
func Wrap(m Measurer, text string, width, size float64, bold bool) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	var out []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := ""
		for _, w := range words {
			if m.TextWidth(w, size, bold) > width {
				if line != "" {
					out = append(out, line)
				}
				pieces := breakWord(m, w, width, size, bold)
				out = append(out, pieces[:len(pieces)-1]...)
				line = pieces[len(pieces)-1]
				continue
			}
			candidate := w
			if line != "" {
				candidate = line + " " + w
			}
			if m.TextWidth(candidate, size, bold) <= width {
				line = candidate
				continue
			}
			out = append(out, line)
			line = w
		}
		out = append(out, line)
	}
	return out
}

func breakWord(m Measurer, w string, width, size float64, bold bool) []string {
	var pieces []string
	var cur []rune
	for _, r := range w {
		next := append(cur, r)
		if len(cur) > 0 && m.TextWidth(string(next), size, bold) > width {
			pieces = append(pieces, string(cur))
			cur = []rune{r}
			continue
		}
		cur = next
	}
	return append(pieces, string(cur))
}

// IsRTL reports whether s contains a strong right-to-left character (Hebrew, Arabic).
func IsRTL(s string) bool {
	for _, r := range s {
		if isStrongRTL(r) {
			return true
		}
	}
	return false
}

// rtlRunes keeps the strong right-to-left runes of s.
func rtlRunes(s string) string {
	var b strings.Builder
	for _, r := range s {
		if isStrongRTL(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isStrongRTL(r rune) bool {
	p, _ := bidi.LookupRune(r)
	switch p.Class() {
	case bidi.R, bidi.AL:
		return true
	}
	return false
}
