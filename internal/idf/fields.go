package idf

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Shape is the form a field's model output takes.
type Shape string

const (
	ShapeScalar  Shape = "scalar"
	ShapeRecords Shape = "list-of-records"
)

const (
	FieldDate           = "date"
	FieldTitle          = "title"
	FieldAbstract       = "abstract"
	FieldInventors      = "inventors"
	FieldPriorArt       = "prior_art"
	FieldDisclosure     = "disclosure"
	FieldPlans          = "plans"
	FieldDescription    = "invention.description"
	FieldKeywords       = "invention.keywords"
	FieldBackground     = "invention.background"
	FieldProblem        = "invention.problem"
	FieldComponents     = "invention.components"
	FieldAdvantages     = "invention.advantages"
	FieldAdditionalData = "invention.additionaldata"
	FieldResults        = "invention.results"
)

// InventionKeys lists the invention sub-fields in print order.
var InventionKeys = []string{
	"description", "keywords", "background", "problem",
	"components", "advantages", "additionaldata", "results",
}

var ErrUnknownField = errors.New("unknown field")

// CanonicalPath resolves aliases ("keywords" -> "invention.keywords") and rejects paths
// that do not name an editable field.
func CanonicalPath(path string) (string, error) {
	p := strings.ToLower(strings.Trim(strings.TrimSpace(path), "/"))
	switch p {
	case FieldDate, FieldTitle, FieldAbstract, FieldInventors, FieldPriorArt, FieldDisclosure, FieldPlans:
		return p, nil
	}
	key := strings.TrimPrefix(p, "invention.")
	for _, k := range InventionKeys {
		if k == key {
			return "invention." + k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, path)
}

// ShapeOf reports whether a field is refined as plain text or as an array of records.
func ShapeOf(path string) (Shape, error) {
	p, err := CanonicalPath(path)
	if err != nil {
		return "", err
	}
	switch p {
	case FieldPriorArt, FieldDisclosure, FieldPlans, FieldInventors:
		return ShapeRecords, nil
	default:
		return ShapeScalar, nil
	}
}

// FieldValue renders a field the way it is handed to the refine provider: text as-is,
// lists joined with ", ", record lists as JSON.
func (r *Record) FieldValue(path string) (string, error) {
	p, err := CanonicalPath(path)
	if err != nil {
		return "", err
	}
	var rows any
	switch p {
	case FieldDate:
		return r.Date, nil
	case FieldTitle:
		return r.Title, nil
	case FieldAbstract:
		return r.Abstract, nil
	case FieldDescription:
		return r.Invention.Description, nil
	case FieldKeywords:
		return r.Invention.Keywords.DisplayString(), nil
	case FieldBackground:
		return r.Invention.Background, nil
	case FieldProblem:
		return r.Invention.Problem, nil
	case FieldComponents:
		return r.Invention.Components.DisplayString(), nil
	case FieldAdvantages:
		return r.Invention.Advantages, nil
	case FieldAdditionalData:
		return r.Invention.AdditionalData, nil
	case FieldResults:
		return r.Invention.Results.DisplayString(), nil
	case FieldInventors:
		rows = r.Inventors
	case FieldPriorArt:
		rows = r.PriorArt
	case FieldDisclosure:
		rows = r.Disclosure
	case FieldPlans:
		rows = r.Plans
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SetText replaces a scalar field. List-like invention fields store the text as given.
func (r *Record) SetText(path, value string) error {
	p, err := CanonicalPath(path)
	if err != nil {
		return err
	}
	switch p {
	case FieldDate:
		r.Date = value
	case FieldTitle:
		r.Title = value
	case FieldAbstract:
		r.Abstract = value
	case FieldDescription:
		r.Invention.Description = value
	case FieldKeywords:
		r.Invention.Keywords = Text(value)
	case FieldBackground:
		r.Invention.Background = value
	case FieldProblem:
		r.Invention.Problem = value
	case FieldComponents:
		r.Invention.Components = Text(value)
	case FieldAdvantages:
		r.Invention.Advantages = value
	case FieldAdditionalData:
		r.Invention.AdditionalData = value
	case FieldResults:
		r.Invention.Results = Text(value)
	default:
		return fmt.Errorf("field %s holds records, not text", p)
	}
	return nil
}

// SetRows replaces a record-list field. Keys are matched case-insensitively.
func (r *Record) SetRows(path string, rows []map[string]string) error {
	p, err := CanonicalPath(path)
	if err != nil {
		return err
	}
	switch p {
	case FieldInventors:
		out := make([]Inventor, 0, len(rows))
		for _, m := range rows {
			out = append(out, InventorFromMap(lowerKeys(m)))
		}
		r.Inventors = out
	case FieldPriorArt:
		out := make([]PriorArt, 0, len(rows))
		for _, m := range rows {
			out = append(out, PriorArtFromMap(lowerKeys(m)))
		}
		r.PriorArt = out
	case FieldDisclosure:
		out := make([]Disclosure, 0, len(rows))
		for _, m := range rows {
			out = append(out, DisclosureFromMap(lowerKeys(m)))
		}
		r.Disclosure = out
	case FieldPlans:
		out := make([]PublicationPlan, 0, len(rows))
		for _, m := range rows {
			out = append(out, PlanFromMap(lowerKeys(m)))
		}
		r.Plans = out
	default:
		return fmt.Errorf("field %s holds text, not records", p)
	}
	return nil
}

// SetJSON replaces a field from a JSON value: strings for text fields, strings or string
// arrays for keywords/components/results, arrays of objects for record lists.
func (r *Record) SetJSON(path string, raw json.RawMessage) error {
	p, err := CanonicalPath(path)
	if err != nil {
		return err
	}
	switch p {
	case FieldKeywords, FieldComponents, FieldResults:
		var t TextOrList
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		switch p {
		case FieldKeywords:
			r.Invention.Keywords = t
		case FieldComponents:
			r.Invention.Components = t
		default:
			r.Invention.Results = t
		}
		return nil
	case FieldInventors:
		var rows []Inventor
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		r.Inventors = nonNil(rows)
		return nil
	case FieldPriorArt:
		var rows []PriorArt
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		r.PriorArt = nonNil(rows)
		return nil
	case FieldDisclosure:
		var rows []Disclosure
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		r.Disclosure = nonNil(rows)
		return nil
	case FieldPlans:
		var rows []PublicationPlan
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", p, err)
		}
		r.Plans = nonNil(rows)
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return r.SetText(p, s)
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}

func lowerKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
