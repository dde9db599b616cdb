package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/engine/sanitize"
)

// NormalizeFilter turns the translator's metadata_filters object into a
// domain.MetadataFilter. Operator objects with a single "$" key pass
// through and bare scalars become {$eq: v}. Comparison operands given as
// numeric strings ("10%", "$40,000") are read as numbers.
func NormalizeFilter(raw map[string]any) (domain.MetadataFilter, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(domain.MetadataFilter, len(raw))
	for field, v := range raw {
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, &domain.ParseError{Reason: "metadata filter has an empty field name"}
		}
		if strings.HasPrefix(field, "$") {
			return nil, &domain.ParseError{Reason: fmt.Sprintf("logical operator %s is not supported", field)}
		}
		cond, err := normalizeCondition(field, v)
		if err != nil {
			return nil, err
		}
		out[field] = cond
	}
	return out, nil
}

func normalizeCondition(field string, v any) (domain.Condition, error) {
	obj, isObj := v.(map[string]any)
	if !isObj {
		val, ok := domain.ScalarOf(v)
		if !ok {
			return domain.Condition{}, &domain.ParseError{Reason: fmt.Sprintf("filter on %s must be a scalar or an operator object", field)}
		}
		return domain.Eq(val), nil
	}
	if len(obj) != 1 {
		return domain.Condition{}, &domain.ParseError{Reason: fmt.Sprintf("filter on %s must hold exactly one operator, got %d keys", field, len(obj))}
	}
	var key string
	var operand any
	for key, operand = range obj {
	}
	op, ok := domain.ParseOp(key)
	if !ok {
		return domain.Condition{}, &domain.ParseError{Reason: fmt.Sprintf("unsupported operator %q on %s", key, field)}
	}
	val, ok := domain.ScalarOf(operand)
	if !ok {
		return domain.Condition{}, &domain.ParseError{Reason: fmt.Sprintf("operand of %s on %s must be a scalar", op, field)}
	}
	if op.Comparison() {
		num, err := numericOperand(field, op, val)
		if err != nil {
			return domain.Condition{}, err
		}
		val = num
	}
	return domain.Condition{Op: op, Value: val}, nil
}

func numericOperand(field string, op domain.Op, v domain.Value) (domain.Value, error) {
	if _, ok := v.AsNumber(); ok {
		return v, nil
	}
	if s, ok := v.AsString(); ok {
		if f, ok := sanitize.ParseNumber(s); ok {
			return domain.Number(f), nil
		}
	}
	return domain.Value{}, &domain.ParseError{Reason: fmt.Sprintf("%s on %s needs a number, got %s", op, field, v)}
}

// NormalizeDocumentFilter accepts either a bare string, read as $contains,
// or an object keyed by $contains / $not_contains.
func NormalizeDocumentFilter(raw any) (domain.DocumentFilter, error) {
	switch t := raw.(type) {
	case nil:
		return nil, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return domain.DocumentFilter{domain.DocContains: t}, nil
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
		out := make(domain.DocumentFilter, len(t))
		for key, v := range t {
			op, ok := domain.ParseDocOp(key)
			if !ok {
				return nil, &domain.ParseError{Reason: fmt.Sprintf("unsupported document operator %q", key)}
			}
			s, ok := v.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return nil, &domain.ParseError{Reason: fmt.Sprintf("document operator %s needs non-empty text", op)}
			}
			out[op] = s
		}
		return out, nil
	default:
		return nil, &domain.ParseError{Reason: fmt.Sprintf("document filter must be a string or an object, got %T", raw)}
	}
}

// decodePayload parses the fenced JSON with numbers kept exact.
func decodePayload(payload string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, &domain.ParseError{Reason: "payload is not a JSON object", Err: err}
	}
	if dec.More() {
		return nil, &domain.ParseError{Reason: "trailing data after JSON object"}
	}
	return out, nil
}
