package ingest

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/engine/sanitize"
)

// FieldAcronym is the metadata key holding the derived name initials.
const FieldAcronym = "acronym"

var connectors = map[string]bool{
	"of": true, "the": true, "and": true, "at": true, "for": true,
	"in": true, "de": true, "la": true, "du": true, "&": true,
}

// Acronym returns the upper-cased initials of name, skipping connector words:
// "Massachusetts Institute of Technology" is "MIT".
func Acronym(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '&' && r != '\''
	})
	var b strings.Builder
	for _, w := range words {
		if connectors[strings.ToLower(w)] {
			continue
		}
		r := []rune(w)[0]
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// BuildDocument turns a validated record into its document: the summary is
// the content and every other field becomes metadata. Nested sections are
// additionally projected onto dot-path keys, with numeric-looking strings
// stored as numbers so they can be range-filtered.
func BuildDocument(r domain.RawRecord) domain.DocumentInput {
	summary, _ := r.Summary()
	rest := make(map[string]any, len(r))
	for k, v := range r {
		if k != domain.FieldSummary {
			rest[k] = v
		}
	}
	rest[FieldAcronym] = Acronym(r.Name())

	meta := sanitize.Metadata(rest)
	for path, v := range sanitize.Flatten(rest) {
		if _, taken := meta[path]; taken {
			continue
		}
		if s, ok := v.AsString(); ok {
			if n, ok := sanitize.ParseNumber(s); ok {
				v = domain.Number(n)
			}
		}
		meta[path] = v
	}
	return domain.DocumentInput{Content: summary, Metadata: meta}
}

// Topic names of the per-aspect documents produced by TopicDocuments.
const (
	TopicLocation   = "location"
	TopicAdmissions = "admissions"
	TopicCosts      = "costs"
	TopicTestScores = "test_scores"
	TopicPrograms   = "programs"
	TopicDeadlines  = "deadlines"
)

// TopicDocuments produces short single-aspect documents for a profile so a
// narrow question ("what is X's tuition") can hit a focused passage. Topics
// whose source fields are missing are left out.
func TopicDocuments(r domain.RawRecord) []domain.DocumentInput {
	name := r.Name()
	if name == "" {
		return nil
	}
	at := func(path string) string { return lookup(r, path) }

	var out []domain.DocumentInput
	add := func(topic, content string) {
		out = append(out, domain.DocumentInput{
			Content: content,
			Metadata: domain.Metadata{
				"type":           domain.String(topic),
				domain.FieldName: domain.String(name),
				FieldAcronym:     domain.String(Acronym(name)),
			},
		})
	}

	if city, state, country := at("location.city"), at("location.state_province"), at("location.country"); city != "" {
		add(TopicLocation, fmt.Sprintf("%s is located in %s.", name, joinNonEmpty(city, state, country)))
	}
	if v := at("basic_info.acceptance_rate"); v != "" {
		add(TopicAdmissions, fmt.Sprintf("%s acceptance rate is %s.", name, v))
	}
	if v := at("costs.tuition_annual_usd"); v != "" {
		add(TopicCosts, fmt.Sprintf("%s tuition is %s per year.", name, v))
	}
	if v := at("admissions.undergraduate.sat_range"); v != "" {
		add(TopicTestScores, fmt.Sprintf("%s SAT range: %s.", name, v))
	}
	if v := at("popular_programs"); v != "" {
		add(TopicPrograms, fmt.Sprintf("%s popular programs include: %s.", name, v))
	}
	regular, early := at("deadlines.regular_decision"), at("deadlines.early_action")
	if regular != "" || early != "" {
		add(TopicDeadlines, fmt.Sprintf("%s application deadlines - Regular: %s, Early Action: %s.",
			name, orNA(regular), orNA(early)))
	}
	return out
}

// lookup walks a dot-path through nested objects and renders the leaf the
// way the sanitizer would. Missing or null leaves yield "".
func lookup(r domain.RawRecord, path string) string {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	v := sanitize.Value(cur)
	if v.IsNull() {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func joinNonEmpty(parts ...string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ", ")
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
