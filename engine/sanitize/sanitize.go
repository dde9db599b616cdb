// Package sanitize flattens arbitrarily nested metadata into the scalar-only
// shape vector stores accept.
//
// Rules: null stays null, scalars are kept, lists become their elements
// joined with ", " (non-string elements JSON-encoded first) and objects
// become their JSON encoding. Applying Metadata to its own output is a no-op.
package sanitize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// ListSeparator joins stringified list elements.
const ListSeparator = ", "

// Metadata sanitizes every top-level field of in.
func Metadata(in map[string]any) domain.Metadata {
	out := make(domain.Metadata, len(in))
	for k, v := range in {
		out[k] = Value(v)
	}
	return out
}

// Value sanitizes a single value.
func Value(x any) domain.Value {
	if v, ok := domain.ScalarOf(x); ok {
		if n, isNum := v.AsNumber(); isNum && (math.IsNaN(n) || math.IsInf(n, 0)) {
			return domain.Null()
		}
		return v
	}
	switch t := x.(type) {
	case []any:
		if t == nil {
			return domain.Null()
		}
		return domain.String(joinList(t))
	case []string:
		return domain.String(strings.Join(t, ListSeparator))
	case map[string]any:
		return domain.String(Stringify(t))
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return domain.Null()
		}
		return Value(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return domain.Null()
		}
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return domain.String(joinList(items))
	}
	return domain.String(Stringify(x))
}

func joinList(items []any) string {
	parts := make([]string, len(items))
	for i, item := range items {
		switch t := item.(type) {
		case string:
			parts[i] = t
		case domain.Value:
			if s, ok := t.AsString(); ok {
				parts[i] = s
			} else {
				parts[i] = Stringify(t)
			}
		default:
			parts[i] = Stringify(item)
		}
	}
	return strings.Join(parts, ListSeparator)
}

// Stringify JSON-encodes x without HTML escaping. Values that cannot be
// encoded fall back to their fmt representation.
func Stringify(x any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return fmt.Sprint(x)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Flatten projects nested object leaves onto dot-path keys, e.g.
// {"basic_info": {"acceptance_rate": "5%"}} yields
// {"basic_info.acceptance_rate": "5%"}. Top-level fields are not included;
// lists are leaves and are sanitized like any other value.
func Flatten(in map[string]any) domain.Metadata {
	out := domain.Metadata{}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if nested, ok := in[k].(map[string]any); ok {
			flattenInto(out, k, nested)
		}
	}
	return out
}

func flattenInto(out domain.Metadata, prefix string, m map[string]any) {
	for k, v := range m {
		path := prefix + "." + k
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, path, nested)
			continue
		}
		out[path] = Value(v)
	}
}

// ParseNumber reads the numeric strings common in scraped profiles:
// "1636", "4.5", "$58,000" and "4%" (as 0.04). Ranges, phone numbers and
// prose are rejected, as are zero-padded codes like "02138".
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	percent := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.TrimPrefix(s, "$")
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		if !thousands.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	if !decimal.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if percent {
		f /= 100
	}
	return f, true
}

var (
	decimal   = regexp.MustCompile(`^-?(0|[1-9]\d*)(\.\d+)?$`)
	thousands = regexp.MustCompile(`^-?[1-9]\d{0,2}(,\d{3})+(\.\d+)?$`)
)
