package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RawKind tags the shape of a raw extracted value.
type RawKind int

const (
	RawMissing RawKind = iota
	RawString
	RawNumber
	RawBool
	RawArray
	RawObject
)

func (k RawKind) String() string {
	switch k {
	case RawMissing:
		return "missing"
	case RawString:
		return "string"
	case RawNumber:
		return "number"
	case RawBool:
		return "bool"
	case RawArray:
		return "array"
	case RawObject:
		return "object"
	}
	return "unknown"
}

// RawValue is the tagged union every raw extraction value is converted to
// before normalization. FromAny is the only place Go runtime types are
// inspected.
type RawValue struct {
	Kind   RawKind
	Str    string
	Num    float64
	Bool   bool
	Items  []RawValue
	Fields map[string]RawValue
}

func Missing() RawValue         { return RawValue{Kind: RawMissing} }
func String(s string) RawValue  { return RawValue{Kind: RawString, Str: s} }
func Number(f float64) RawValue { return RawValue{Kind: RawNumber, Num: f} }
func Array(items ...RawValue) RawValue {
	if items == nil {
		items = []RawValue{}
	}
	return RawValue{Kind: RawArray, Items: items}
}

// FromAny converts decoded JSON (or any loosely typed value) into a RawValue.
func FromAny(v any) RawValue {
	switch t := v.(type) {
	case nil:
		return Missing()
	case RawValue:
		return t
	case string:
		return String(t)
	case *string:
		if t == nil {
			return Missing()
		}
		return String(*t)
	case []byte:
		return String(string(t))
	case bool:
		return RawValue{Kind: RawBool, Bool: t}
	case float64:
		return numberOrMissing(t)
	case float32:
		return numberOrMissing(float64(t))
	case int:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return numberOrMissing(f)
		}
		return String(t.String())
	case []any:
		items := make([]RawValue, 0, len(t))
		for _, it := range t {
			items = append(items, FromAny(it))
		}
		return Array(items...)
	case []string:
		items := make([]RawValue, 0, len(t))
		for _, it := range t {
			items = append(items, String(it))
		}
		return Array(items...)
	case []float64:
		items := make([]RawValue, 0, len(t))
		for _, it := range t {
			items = append(items, numberOrMissing(it))
		}
		return Array(items...)
	case []int:
		items := make([]RawValue, 0, len(t))
		for _, it := range t {
			items = append(items, Number(float64(it)))
		}
		return Array(items...)
	case map[string]any:
		fields := make(map[string]RawValue, len(t))
		for k, it := range t {
			fields[k] = FromAny(it)
		}
		return RawValue{Kind: RawObject, Fields: fields}
	case map[string]string:
		fields := make(map[string]RawValue, len(t))
		for k, it := range t {
			fields[k] = String(it)
		}
		return RawValue{Kind: RawObject, Fields: fields}
	case fmt.Stringer:
		return String(t.String())
	}
	return String(fmt.Sprint(v))
}

func numberOrMissing(f float64) RawValue {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Missing()
	}
	return Number(f)
}

// sentinels are strings that mean "no value" in extraction output.
var sentinels = map[string]struct{}{
	"":               {},
	"null":           {},
	"nil":            {},
	"none":           {},
	"undefined":      {},
	"n/a":            {},
	"na":             {},
	"nan":            {},
	"-":              {},
	"--":             {},
	"—":              {},
	"[]":             {},
	"{}":             {},
	"\"\"":           {},
	"unknown":        {},
	"not specified":  {},
	"non précisé":    {},
	"non communiqué": {},
}

// IsBlank reports whether r carries no usable value.
func (r RawValue) IsBlank() bool {
	switch r.Kind {
	case RawMissing:
		return true
	case RawString:
		_, ok := sentinels[strings.ToLower(strings.TrimSpace(r.Str))]
		return ok
	case RawArray:
		for _, it := range r.Items {
			if !it.IsBlank() {
				return false
			}
		}
		return true
	case RawObject:
		return len(r.Fields) == 0
	}
	return false
}

// Text returns the scalar as trimmed text. Arrays and objects are not scalars.
func (r RawValue) Text() (string, bool) {
	switch r.Kind {
	case RawString:
		return strings.TrimSpace(r.Str), true
	case RawNumber:
		return strconv.FormatFloat(r.Num, 'f', -1, 64), true
	case RawBool:
		return strconv.FormatBool(r.Bool), true
	}
	return "", false
}

// Any converts back to plain Go values for display and persistence.
func (r RawValue) Any() any {
	switch r.Kind {
	case RawString:
		return r.Str
	case RawNumber:
		return r.Num
	case RawBool:
		return r.Bool
	case RawArray:
		out := make([]any, 0, len(r.Items))
		for _, it := range r.Items {
			out = append(out, it.Any())
		}
		return out
	case RawObject:
		out := make(map[string]any, len(r.Fields))
		for k, it := range r.Fields {
			out[k] = it.Any()
		}
		return out
	}
	return nil
}

// Display renders the value for provenance and review screens.
func (r RawValue) Display() string {
	if s, ok := r.Text(); ok {
		return s
	}
	if r.Kind == RawMissing {
		return ""
	}
	b, err := json.Marshal(r.Any())
	if err != nil {
		return fmt.Sprint(r.Any())
	}
	return string(b)
}
