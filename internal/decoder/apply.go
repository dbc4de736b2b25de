package decoder

import (
	"github.com/joelkehle/idf-drafter/internal/idf"
)

func PriorArtFrom(recs []Fields) []idf.PriorArt {
	out := make([]idf.PriorArt, 0, len(recs))
	for _, r := range recs {
		out = append(out, idf.PriorArtFromMap(r.Map()))
	}
	return out
}

func DisclosuresFrom(recs []Fields) []idf.Disclosure {
	out := make([]idf.Disclosure, 0, len(recs))
	for _, r := range recs {
		out = append(out, idf.DisclosureFromMap(r.Map()))
	}
	return out
}

func PlansFrom(recs []Fields) []idf.PublicationPlan {
	out := make([]idf.PublicationPlan, 0, len(recs))
	for _, r := range recs {
		out = append(out, idf.PlanFromMap(r.Map()))
	}
	return out
}

// Apply decodes raw model text for the field at path and replaces that field. On a
// decode failure the Record is left untouched.
func Apply(rec *idf.Record, path, raw string) error {
	shape, err := idf.ShapeOf(path)
	if err != nil {
		return err
	}
	res, err := Decode(raw, shape)
	if err != nil {
		return err
	}
	if shape == idf.ShapeScalar {
		return rec.SetText(path, res.Scalar)
	}
	rows := make([]map[string]string, 0, len(res.Records))
	for _, r := range res.Records {
		rows = append(rows, r.Map())
	}
	return rec.SetRows(path, rows)
}
