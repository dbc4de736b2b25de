package generate

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/idf-drafter/internal/idf"
)

const priorArtGuidance = "Are there publications by you (the inventors) or by others working in the field, " +
	"with a solution to a similar problem? Have you conducted a patent search related to the invention? " +
	"Patent searches may use http://www.uspto.gov/, https://patents.google.com/ or https://worldwide.espacenet.com/; " +
	"scientific publications may be found with any search engine or PubMed. The inventor has a strict duty to " +
	"disclose all technology, including scientific and patent publications, or apparatus and processes sold or " +
	"used in public, that might be relevant to the patentability of the invention. Also list publications that " +
	"help understand the current knowledge in the field of the invention."

// fieldGuidance is the instruction sent with a refine request, keyed by the field's leaf name.
var fieldGuidance = map[string]string{
	"title":    "A title of at most 7 words. Respond with the title only.",
	"abstract": "Include the need and the proposed solution to said need.",
	"prior_art": "[{title, authors, published (journal/conference/thesis/web), PublicationDate}] " +
		"(" + priorArtGuidance + ") Base the search on the keywords of this invention and list as many as possible.",
	"disclosure": "[{title, authors, published (journal/conference/thesis/web), Date}] " +
		"(Related ideas or results disclosed in any way prior to the submission of this form.)",
	"plans": "[{title, authors, disclosed (article/oral presentation/thesis/other), Date (planned publication date)}] " +
		"(Do you intend to publish the invention, its related ideas or results in any way within the next 6 months?)",
	"description": "Describe the invention in detail including all essential elements.",
	"keywords":    "A single string 'keyword, keyword, keyword, ...', not objects. Provide 5 keywords that describe the main features of the invention only.",
	"background":  "Provide details on the field of invention, what is common knowledge in the field and what are the pitfalls and unanswered needs.",
	"problem":     "Describe in detail the need identified by you for which the invention is a solution. Up to 1 paragraph.",
	"components": "A numbered list like 1. ... 2. ... 3. ... Describe in detail the elements of the invention that are " +
		"crucial for its function: parts of a device, a molecular formulation, physical characteristics, computational " +
		"elements, working conditions, structural features such as size, shape, material. Include all the elements. Up to 1 page.",
	"advantages": "A numbered list like 1. ... 2. ... 3. ... Describe what is new in the proposed solution, why it is " +
		"important, and what the benefits are compared to existing solutions. Up to 5 paragraphs.",
	"additionaldata": "A numbered list like 1. ... 2. ... 3. ... of figures, sketches, pictures, graphs, statistics, lists, sequences. Up to 5 pages.",
	"results": "Plain text, no objects. Where applicable, provide results such as in vitro, in vivo, prototype, " +
		"simulation, working computer program, statistics. 1 to 3 pages.",
}

// guidanceKey maps a canonical field path to its guidance key.
func guidanceKey(path string) string {
	return strings.TrimPrefix(path, "invention.")
}

func bootstrapPrompt(topic string, now time.Time) string {
	var b strings.Builder
	b.WriteString("Generate sample data for an invention disclosure form as one JSON object with these keys:\n")
	b.WriteString(`{
  date ("yyyy-mm-dd"),
  title,
  inventors (array) {Name, id, nationality, inventorship (a number of percents), employer, address, Phone, email},
  abstract (include the need and the proposed solution to said need, 5 to 10 lines),
  invention {
    description (describe the invention in detail including all essential elements),
    keywords (array) (5 keywords that describe the main features of the invention),
    background (the field of invention, common knowledge in the field, pitfalls and unanswered needs),
    problem (the need for which the invention is a solution, up to 1 paragraph),
    components (one string, items separated by '\n') (the elements crucial for the invention's function, up to 1 page),
    advantages (what is new, why it is important, benefits over existing solutions, up to 5 paragraphs),
    additionaldata (figures, sketches, pictures, graphs, statistics, lists, sequences),
    results (array) (in vitro, in vivo, prototype, simulation, working computer program, statistics)
  },
  prior_art (array) {title, authors, published (journal/conference/thesis/web), PublicationDate} (`)
	b.WriteString(priorArtGuidance)
	b.WriteString(`),
  disclosure (array) {title, authors, published (journal/conference/thesis/web), Date} (was the invention, related ideas or results disclosed in any way prior to the submission of this form?),
  plans (array) {title, authors, disclosed (article/oral presentation/thesis/other), Date (planned publication date)} (do you intend to publish the invention within the next 6 months?)
}
`)
	fmt.Fprintf(&b, "The invention is %q.\n", topic)
	fmt.Fprintf(&b, "Today is %q.\n", now.UTC().Format(time.RFC3339))
	b.WriteString("Respond with the JSON object only, with no introduction. Follow the guidance in parentheses for each value; do not echo it.")
	return b.String()
}

func refinePrompt(topic, path, current string, shape idf.Shape, sources []string) (string, error) {
	guidance, ok := fieldGuidance[guidanceKey(path)]
	if !ok {
		return "", fmt.Errorf("%s: %w", path, ErrNotRefinable)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "This is the %s of an invention disclosure about '%s'. The current value is '%s'. ", guidanceKey(path), topic, current)
	fmt.Fprintf(&b, "The response must follow this guidance: '%s'. ", guidance)
	b.WriteString("Respond without markdown and without any introductory or closing sentences. ")
	if shape == idf.ShapeRecords {
		b.WriteString("Respond with a JSON array only; every element is an object whose pairs are written '...':'...'. ")
	} else {
		b.WriteString("Respond with a single plain string shown directly, without brackets or citation markers such as [1]. ")
	}
	b.WriteString("Give content that differs in wording and style from the current value.")
	if len(sources) > 0 {
		raw, err := json.Marshal(sources)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " Get data from %s.", raw)
	}
	return b.String(), nil
}
