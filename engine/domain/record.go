package domain

import "strings"

// Well-known record fields.
const (
	FieldSummary = "summary"
	FieldName    = "university_name"
)

// RawRecord is one decoded source document, typically a university profile.
type RawRecord map[string]any

// Summary returns the record summary when it is a non-blank string.
func (r RawRecord) Summary() (string, bool) {
	s, ok := r[FieldSummary].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Name returns the university name, or "" when missing or not a string.
func (r RawRecord) Name() string {
	s, _ := r[FieldName].(string)
	return s
}

// DocumentInput is a unit of content ready to be embedded and stored.
type DocumentInput struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// RetrievalResult is one ranked hit. Lower distance means closer.
type RetrievalResult struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Distance float64  `json:"distance"`
}
