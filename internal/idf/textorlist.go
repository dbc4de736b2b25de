package idf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type listKind uint8

const (
	kindList listKind = iota
	kindText
)

// TextOrList holds invention fields that arrive either as one delimited string or as a
// sequence of strings. The zero value is an empty list.
type TextOrList struct {
	kind  listKind
	text  string
	items []string
}

func Text(s string) TextOrList {
	return TextOrList{kind: kindText, text: s}
}

func List(items ...string) TextOrList {
	out := make([]string, len(items))
	copy(out, items)
	return TextOrList{kind: kindList, items: out}
}

func (t TextOrList) IsText() bool { return t.kind == kindText }

func (t TextOrList) IsEmpty() bool {
	if t.kind == kindText {
		return strings.TrimSpace(t.text) == ""
	}
	for _, it := range t.items {
		if strings.TrimSpace(it) != "" {
			return false
		}
	}
	return true
}

// DisplayString joins list items with ", " and returns text verbatim.
func (t TextOrList) DisplayString() string {
	if t.kind == kindText {
		return t.text
	}
	return strings.Join(t.items, ", ")
}

// List splits text on "," and trims each item. Empty items are dropped.
func (t TextOrList) List() []string {
	if t.kind == kindList {
		out := make([]string, len(t.items))
		copy(out, t.items)
		return out
	}
	return splitTrim(t.text, ",")
}

// Lines returns one entry per printed line: list items as-is, text split on newlines.
func (t TextOrList) Lines() []string {
	if t.kind == kindList {
		out := make([]string, 0, len(t.items))
		for _, it := range t.items {
			if s := strings.TrimSpace(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return splitTrim(t.text, "\n")
}

func (t TextOrList) MarshalJSON() ([]byte, error) {
	if t.kind == kindText {
		return json.Marshal(t.text)
	}
	items := t.items
	if items == nil {
		items = []string{}
	}
	return json.Marshal(items)
}

func (t *TextOrList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*t = List()
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	case data[0] == '[':
		var raw []any
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		items := make([]string, 0, len(raw))
		for _, v := range raw {
			items = append(items, coerceString(v))
		}
		*t = List(items...)
		return nil
	default:
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		if _, ok := v.(map[string]any); ok {
			return fmt.Errorf("text or list: unexpected object")
		}
		*t = Text(coerceString(v))
		return nil
	}
}

func splitTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
