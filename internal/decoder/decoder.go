// Package decoder turns free-form model output into either a trimmed string or an ordered
// sequence of flat records.
//
// List mode keeps the behaviour the refine provider's callers depend on: the first balanced
// top-level array is cut out by depth counting and every single quote is rewritten to a
// double quote before parsing. The rewrite is blind, so a value such as "O'Brien" breaks
// the payload; that failure is reported, never repaired.
package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/joelkehle/idf-drafter/internal/idf"
)

var ErrDecode = errors.New("decode failure")

type DecodeError struct {
	Shape           idf.Shape
	Reason          string
	QuotesRewritten bool
	Err             error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s: %s", e.Shape, e.Reason)
	if e.QuotesRewritten {
		msg += " (single quotes were rewritten to double quotes; an apostrophe in a value breaks the payload)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

func (e *DecodeError) Unwrap() error { return e.Err }

type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Fields is one flat record in the key order the model produced.
type Fields []Field

// Get looks a key up case-insensitively.
func (f Fields) Get(key string) (string, bool) {
	for _, kv := range f {
		if strings.EqualFold(kv.Key, key) {
			return kv.Value, true
		}
	}
	return "", false
}

// Map returns the record with lower-cased keys.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(f))
	for _, kv := range f {
		out[strings.ToLower(strings.TrimSpace(kv.Key))] = kv.Value
	}
	return out
}

type Result struct {
	Shape   idf.Shape `json:"shape"`
	Scalar  string    `json:"scalar,omitempty"`
	Records []Fields  `json:"records,omitempty"`
}

func Decode(raw string, shape idf.Shape) (Result, error) {
	switch shape {
	case idf.ShapeScalar:
		return Result{Shape: shape, Scalar: DecodeScalar(raw)}, nil
	case idf.ShapeRecords:
		recs, err := DecodeRecords(raw)
		if err != nil {
			return Result{}, err
		}
		return Result{Shape: shape, Records: recs}, nil
	default:
		return Result{}, &DecodeError{Shape: shape, Reason: "unknown target shape"}
	}
}

// DecodeScalar returns the text without bracket handling, trimmed of whitespace and of a
// wrapping code fence.
func DecodeScalar(raw string) string {
	return stripCodeFences(raw)
}

func DecodeRecords(raw string) ([]Fields, error) {
	sub, err := ExtractArray(raw)
	if err != nil {
		return nil, err
	}
	normalized := NormalizeQuotes(sub)
	recs, err := parseRecords(normalized)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.QuotesRewritten = normalized != sub
		}
		return nil, err
	}
	return recs, nil
}

// ExtractArray cuts out the first top-level bracketed array. Depth counting is not
// string-aware: brackets inside values count too.
func ExtractArray(text string) (string, error) {
	start, depth := -1, 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '[':
			if start < 0 {
				start = i
			}
			depth++
		case ']':
			if start < 0 {
				continue
			}
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	if start < 0 {
		return "", &DecodeError{Shape: idf.ShapeRecords, Reason: "no opening bracket"}
	}
	return "", &DecodeError{Shape: idf.ShapeRecords, Reason: fmt.Sprintf("unbalanced brackets (depth %d at end of input)", depth)}
}

// NormalizeQuotes rewrites every single quote to a double quote.
func NormalizeQuotes(s string) string {
	return strings.ReplaceAll(s, "'", `"`)
}

func parseRecords(s string) ([]Fields, error) {
	if !gjson.Valid(s) {
		return nil, &DecodeError{Shape: idf.ShapeRecords, Reason: "invalid JSON array"}
	}
	res := gjson.Parse(s)
	if !res.IsArray() {
		return nil, &DecodeError{Shape: idf.ShapeRecords, Reason: "payload is not an array"}
	}
	out := []Fields{}
	var bad error
	idx := 0
	res.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			bad = &DecodeError{Shape: idf.ShapeRecords, Reason: fmt.Sprintf("element %d is %s, not an object", idx, v.Type)}
			return false
		}
		rec := Fields{}
		v.ForEach(func(k, val gjson.Result) bool {
			rec = append(rec, Field{Key: k.String(), Value: valueString(val)})
			return true
		})
		out = append(out, rec)
		idx++
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return out, nil
}

func valueString(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.JSON:
		return v.Raw
	default:
		return v.String()
	}
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	return s
}
