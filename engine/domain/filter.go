package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Op is a metadata comparison operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
)

// ParseOp accepts the operators the vector stores can evaluate.
func ParseOp(s string) (Op, bool) {
	switch op := Op(s); op {
	case OpEq, OpLt, OpLte, OpGt, OpGte:
		return op, true
	}
	return "", false
}

// Comparison reports whether op orders values rather than testing equality.
func (op Op) Comparison() bool { return op != OpEq }

// Condition is a single operator applied to one metadata field.
type Condition struct {
	Op    Op
	Value Value
}

// Eq is shorthand for an equality condition.
func Eq(v Value) Condition { return Condition{Op: OpEq, Value: v} }

// Match evaluates the condition against a stored value. Ordering operators
// only hold between numbers.
func (c Condition) Match(v Value) bool {
	if c.Op == OpEq {
		return c.Value.Equal(v)
	}
	want, ok := c.Value.AsNumber()
	if !ok {
		return false
	}
	got, ok := v.AsNumber()
	if !ok {
		return false
	}
	switch c.Op {
	case OpLt:
		return got < want
	case OpLte:
		return got <= want
	case OpGt:
		return got > want
	case OpGte:
		return got >= want
	}
	return false
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[Op]Value{c.Op: c.Value})
}

// UnmarshalJSON reads the single-operator object written by MarshalJSON.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("domain: condition must hold exactly one operator, got %d", len(m))
	}
	for k, v := range m {
		op, ok := ParseOp(k)
		if !ok {
			return fmt.Errorf("domain: unknown operator %q", k)
		}
		*c = Condition{Op: op, Value: v}
	}
	return nil
}

// MetadataFilter maps metadata field names to conditions. All conditions
// must hold.
type MetadataFilter map[string]Condition

// Match reports whether md satisfies every condition. Missing fields read
// as null.
func (f MetadataFilter) Match(md Metadata) bool {
	for field, cond := range f {
		if !cond.Match(md.Get(field)) {
			return false
		}
	}
	return true
}

// Fields returns the filtered field names in lexical order.
func (f MetadataFilter) Fields() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DocOp is a document-content operator.
type DocOp string

const (
	DocContains    DocOp = "$contains"
	DocNotContains DocOp = "$not_contains"
)

// ParseDocOp accepts the supported document operators.
func ParseDocOp(s string) (DocOp, bool) {
	switch op := DocOp(s); op {
	case DocContains, DocNotContains:
		return op, true
	}
	return "", false
}

// DocumentFilter constrains the stored content by substring. Each operator
// appears at most once and all must hold.
type DocumentFilter map[DocOp]string

// Match evaluates the filter against content. Matching is case-sensitive.
func (f DocumentFilter) Match(content string) bool {
	for op, text := range f {
		has := strings.Contains(content, text)
		if op == DocContains && !has {
			return false
		}
		if op == DocNotContains && has {
			return false
		}
	}
	return true
}
