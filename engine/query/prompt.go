package query

import (
	"fmt"
	"strings"
)

// Field describes one filterable metadata key for the translator prompt.
type Field struct {
	Name        string
	Type        string // string, number or boolean
	Description string
}

// UniversityFields are the metadata keys produced by ingesting university
// profiles. Dot-paths are projections of nested profile sections.
var UniversityFields = []Field{
	{"university_name", "string", "full official name"},
	{"acronym", "string", "initials of the name, e.g. MIT"},
	{"basic_info.established_year", "number", "founding year"},
	{"basic_info.type", "string", "Public or Private"},
	{"basic_info.student_population", "number", "total enrolled students"},
	{"basic_info.acceptance_rate", "number", "fraction between 0 and 1, e.g. 0.1 for 10%"},
	{"basic_info.ranking_global", "number", "global rank, lower is better"},
	{"location.city", "string", "city name"},
	{"location.state_province", "string", "state or province"},
	{"location.country", "string", "country name"},
	{"costs.tuition_annual_usd", "number", "yearly tuition in US dollars"},
	{"costs.room_board_annual_usd", "number", "yearly room and board in US dollars"},
	{"costs.total_cost_attendance", "number", "yearly total cost in US dollars"},
	{"costs.average_debt_graduation", "number", "average debt at graduation in US dollars"},
	{"admissions.undergraduate.gpa_requirement", "number", "minimum GPA on a 4.0 scale"},
}

const promptTemplate = `You translate questions about universities into a search request for a vector database.

Metadata fields you may filter on:
%s
Rules:
- "semantic_query" is a short rewrite of the question for similarity search.
- "metadata_filters" maps a field above to either a plain value (exact match)
  or one operator object: {"$eq": v}, {"$lt": n}, {"$lte": n}, {"$gt": n}, {"$gte": n}.
  Comparison operators take numbers only. Omit fields the question does not constrain.
- "document_filters" is optional: {"$contains": "text"} or {"$not_contains": "text"}
  on the document body. Use it only for words the answer must mention.
- Use null or {} when there is nothing to filter.

Reply with a single fenced JSON block and nothing else:
` + "```json" + `
{"semantic_query": "...", "metadata_filters": {...}, "document_filters": {...}}
` + "```" + `

Question: %s
`

// BuildPrompt renders the translator prompt for fields and question.
func BuildPrompt(fields []Field, question string) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s)", f.Name, f.Type)
		if f.Description != "" {
			b.WriteString(": " + f.Description)
		}
		b.WriteByte('\n')
	}
	return fmt.Sprintf(promptTemplate, b.String(), strings.TrimSpace(question))
}
