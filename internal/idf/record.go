package idf

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Record is one Invention Disclosure Form. List fields are never nil once the Record has
// passed through New, Normalize or JSON decoding.
type Record struct {
	Date       string            `json:"date"`
	Title      string            `json:"title"`
	Abstract   string            `json:"abstract"`
	Inventors  []Inventor        `json:"inventors"`
	Invention  Invention         `json:"invention"`
	PriorArt   []PriorArt        `json:"prior_art"`
	Disclosure []Disclosure      `json:"disclosure"`
	Plans      []PublicationPlan `json:"plans"`
}

type Inventor struct {
	Name         string `json:"Name"`
	ID           string `json:"id"`
	Nationality  string `json:"nationality"`
	Employer     string `json:"employer"`
	Inventorship string `json:"inventorship"`
	Address      string `json:"address"`
	Phone        string `json:"Phone"`
	Email        string `json:"email"`
}

type Invention struct {
	Description    string     `json:"description"`
	Keywords       TextOrList `json:"keywords"`
	Background     string     `json:"background"`
	Problem        string     `json:"problem"`
	Components     TextOrList `json:"components"`
	Advantages     string     `json:"advantages"`
	AdditionalData string     `json:"additionaldata"`
	Results        TextOrList `json:"results"`
	Figures        []string   `json:"figures"`
}

type PriorArt struct {
	Title           string `json:"title"`
	Authors         string `json:"authors"`
	Published       string `json:"published"`
	PublicationDate string `json:"PublicationDate"`
}

type Disclosure struct {
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Published string `json:"published"`
	Date      string `json:"Date"`
}

type PublicationPlan struct {
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Disclosed string `json:"disclosed"`
	Date      string `json:"Date"`
}

// New returns an empty Record with every list initialised.
func New() Record {
	var r Record
	r.Normalize()
	return r
}

// Normalize replaces nil lists with empty ones.
func (r *Record) Normalize() {
	if r.Inventors == nil {
		r.Inventors = []Inventor{}
	}
	if r.PriorArt == nil {
		r.PriorArt = []PriorArt{}
	}
	if r.Disclosure == nil {
		r.Disclosure = []Disclosure{}
	}
	if r.Plans == nil {
		r.Plans = []PublicationPlan{}
	}
	if r.Invention.Figures == nil {
		r.Invention.Figures = []string{}
	}
}

func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Record(p)
	r.Normalize()
	return nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := r
	out.Inventors = append([]Inventor{}, r.Inventors...)
	out.PriorArt = append([]PriorArt{}, r.PriorArt...)
	out.Disclosure = append([]Disclosure{}, r.Disclosure...)
	out.Plans = append([]PublicationPlan{}, r.Plans...)
	out.Invention.Figures = append([]string{}, r.Invention.Figures...)
	out.Invention.Keywords = cloneTextOrList(r.Invention.Keywords)
	out.Invention.Components = cloneTextOrList(r.Invention.Components)
	out.Invention.Results = cloneTextOrList(r.Invention.Results)
	return out
}

func cloneTextOrList(t TextOrList) TextOrList {
	if t.IsText() {
		return t
	}
	return List(t.items...)
}

func (i Inventor) IsEmpty() bool {
	return strings.TrimSpace(i.Name+i.ID+i.Nationality+i.Employer+i.Inventorship) == ""
}

func (i *Inventor) UnmarshalJSON(data []byte) error {
	m, err := flatMap(data)
	if err != nil {
		return err
	}
	*i = InventorFromMap(m)
	return nil
}

// InventorFromMap builds an Inventor from lower-cased keys.
func InventorFromMap(m map[string]string) Inventor {
	return Inventor{
		Name:         pick(m, "name"),
		ID:           pick(m, "id"),
		Nationality:  pick(m, "nationality"),
		Employer:     pick(m, "employer"),
		Inventorship: pick(m, "inventorship"),
		Address:      pick(m, "address"),
		Phone:        pick(m, "phone"),
		Email:        pick(m, "email"),
	}
}

func (p PriorArt) Cells() [4]string {
	return [4]string{p.Title, p.Authors, p.Published, p.PublicationDate}
}

func (p PriorArt) IsEmpty() bool { return cellsEmpty(p.Cells()) }

func (p *PriorArt) UnmarshalJSON(data []byte) error {
	m, err := flatMap(data)
	if err != nil {
		return err
	}
	*p = PriorArtFromMap(m)
	return nil
}

func PriorArtFromMap(m map[string]string) PriorArt {
	return PriorArt{
		Title:           pick(m, "title"),
		Authors:         pick(m, "authors", "author"),
		Published:       pick(m, "published"),
		PublicationDate: pick(m, "publicationdate", "publication_date", "date"),
	}
}

func (d Disclosure) Cells() [4]string {
	return [4]string{d.Title, d.Authors, d.Published, d.Date}
}

func (d Disclosure) IsEmpty() bool { return cellsEmpty(d.Cells()) }

func (d *Disclosure) UnmarshalJSON(data []byte) error {
	m, err := flatMap(data)
	if err != nil {
		return err
	}
	*d = DisclosureFromMap(m)
	return nil
}

func DisclosureFromMap(m map[string]string) Disclosure {
	return Disclosure{
		Title:     pick(m, "title"),
		Authors:   pick(m, "authors", "author"),
		Published: pick(m, "published"),
		Date:      pick(m, "date", "disclosuredate"),
	}
}

func (p PublicationPlan) Cells() [4]string {
	return [4]string{p.Title, p.Authors, p.Disclosed, p.Date}
}

func (p PublicationPlan) IsEmpty() bool { return cellsEmpty(p.Cells()) }

func (p *PublicationPlan) UnmarshalJSON(data []byte) error {
	m, err := flatMap(data)
	if err != nil {
		return err
	}
	*p = PlanFromMap(m)
	return nil
}

func PlanFromMap(m map[string]string) PublicationPlan {
	return PublicationPlan{
		Title:     pick(m, "title"),
		Authors:   pick(m, "authors", "author"),
		Disclosed: pick(m, "disclosed", "published"),
		Date:      pick(m, "date", "planned_publication_date"),
	}
}

func cellsEmpty(cells [4]string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// flatMap decodes a JSON object into lower-cased keys with string values. Model output is
// loose about key case and value types, so numbers and booleans are coerced.
func flatMap(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToLower(strings.TrimSpace(k))] = coerceString(v)
	}
	return out, nil
}

func pick(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return ""
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			parts = append(parts, coerceString(it))
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
