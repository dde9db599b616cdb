package query

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

const payloadSchemaJSON = `{
  "type": "object",
  "required": ["semantic_query"],
  "properties": {
    "semantic_query": {"type": "string", "minLength": 1},
    "metadata_filters": {"type": ["object", "null"]},
    "document_filters": {"type": ["object", "string", "null"]}
  }
}`

var payloadSchema = mustSchema(payloadSchemaJSON)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic("query: compile payload schema: " + err.Error())
	}
	return s
}

// validatePayload checks the decoded payload's shape before any field is
// read from it.
func validatePayload(doc map[string]any) error {
	res, err := payloadSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return &domain.ParseError{Reason: "payload validation", Err: err}
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return &domain.ParseError{Reason: "payload does not match schema: " + strings.Join(msgs, "; ")}
}
