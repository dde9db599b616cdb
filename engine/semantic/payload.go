package semantic

import (
	"strings"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// Reserved payload keys. Metadata fields never use a leading underscore.
const (
	payloadID       = "_id"
	payloadDocument = "_document"
)

func toPayloadValue(v domain.Value) *pb.Value {
	switch v.Kind() {
	case domain.KindString:
		s, _ := v.AsString()
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
	case domain.KindNumber:
		n, _ := v.AsNumber()
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: n}}
	case domain.KindBool:
		b, _ := v.AsBool()
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: b}}
	default:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	}
}

func fromPayloadValue(v *pb.Value) domain.Value {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return domain.String(k.StringValue)
	case *pb.Value_DoubleValue:
		return domain.Number(k.DoubleValue)
	case *pb.Value_IntegerValue:
		return domain.Number(float64(k.IntegerValue))
	case *pb.Value_BoolValue:
		return domain.Bool(k.BoolValue)
	case *pb.Value_StructValue, *pb.Value_ListValue:
		// Not written by this package; keep something readable.
		return domain.String(v.String())
	default:
		return domain.Null()
	}
}

func toPayload(id, content string, md domain.Metadata) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(md)+2)
	for k, v := range md {
		payload[k] = toPayloadValue(v)
	}
	payload[payloadID] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: id}}
	payload[payloadDocument] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: content}}
	return payload
}

func fromScoredPoint(p *pb.ScoredPoint) domain.RetrievalResult {
	r := domain.RetrievalResult{
		ID:       p.GetId().GetUuid(),
		Metadata: domain.Metadata{},
		Distance: 1 - float64(p.GetScore()),
	}
	for k, v := range p.GetPayload() {
		switch k {
		case payloadID:
			r.ID = v.GetStringValue()
		case payloadDocument:
			r.Content = v.GetStringValue()
		default:
			r.Metadata[k] = fromPayloadValue(v)
		}
	}
	return r
}

// fieldKey addresses a flat payload key. Qdrant reads dots as nesting, so
// keys that contain path syntax are quoted.
func fieldKey(k string) string {
	if !strings.ContainsAny(k, `.[]"`) {
		return k
	}
	return `"` + strings.ReplaceAll(k, `"`, `\"`) + `"`
}
