package semantic

import (
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// buildFilter translates metadata and document filters into one Qdrant
// filter. It returns nil when both are empty.
func buildFilter(where domain.MetadataFilter, whereDoc domain.DocumentFilter) *pb.Filter {
	var must, mustNot []*pb.Condition
	for _, field := range where.Fields() {
		must = append(must, conditionFor(fieldKey(field), where[field]))
	}
	if text, ok := whereDoc[domain.DocContains]; ok {
		must = append(must, textMatch(payloadDocument, text))
	}
	if text, ok := whereDoc[domain.DocNotContains]; ok {
		mustNot = append(mustNot, textMatch(payloadDocument, text))
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &pb.Filter{Must: must, MustNot: mustNot}
}

func conditionFor(key string, c domain.Condition) *pb.Condition {
	if c.Op == domain.OpEq {
		return equals(key, c.Value)
	}
	n, _ := c.Value.AsNumber()
	r := &pb.Range{}
	switch c.Op {
	case domain.OpLt:
		r.Lt = &n
	case domain.OpLte:
		r.Lte = &n
	case domain.OpGt:
		r.Gt = &n
	case domain.OpGte:
		r.Gte = &n
	}
	return rangeMatch(key, r)
}

func equals(key string, v domain.Value) *pb.Condition {
	switch v.Kind() {
	case domain.KindString:
		s, _ := v.AsString()
		return fieldMatch(key, &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: s}})
	case domain.KindBool:
		b, _ := v.AsBool()
		return fieldMatch(key, &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: b}})
	case domain.KindNumber:
		// Numbers are stored as doubles, which keyword and integer matches
		// do not see. A closed range on the same value does.
		n, _ := v.AsNumber()
		return rangeMatch(key, &pb.Range{Gte: &n, Lte: &n})
	default:
		// Missing fields read as null, so is_empty rather than is_null.
		return &pb.Condition{
			ConditionOneOf: &pb.Condition_IsEmpty{IsEmpty: &pb.IsEmptyCondition{Key: key}},
		}
	}
}

func fieldMatch(key string, m *pb.Match) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: m},
		},
	}
}

func rangeMatch(key string, r *pb.Range) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Range: r},
		},
	}
}

// textMatch is a substring test when the field carries no full-text index.
func textMatch(key, text string) *pb.Condition {
	return fieldMatch(key, &pb.Match{MatchValue: &pb.Match_Text{Text: text}})
}
