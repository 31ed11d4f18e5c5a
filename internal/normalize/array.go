package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ElementType is the declared element type of an array field.
type ElementType int

const (
	ElementText ElementType = iota
	ElementNumber
)

// ArrayResult is the outcome of array coercion. Exactly one of Strings or
// Numbers is populated according to the element type, and it is never nil.
type ArrayResult struct {
	Strings  []string
	Numbers  []float64
	Method   string
	Warnings []string
}

// Len returns the number of coerced elements.
func (r ArrayResult) Len() int {
	return len(r.Strings) + len(r.Numbers)
}

var reBullet = regexp.MustCompile(`^\s*(?:[-*•·▪◦]|\d+[.)])\s+`)

// ToArray coerces any raw value into an array of the given element type.
//
// Blank input becomes an empty array. Arrays are filtered of blank entries
// (nested arrays are flattened). Strings are tried in this order, each step
// falling through to the next on failure: JSON array, bracketed pseudo-list,
// comma/semicolon/line separated list, single number (numeric fields only),
// and finally the whole string as a single element. A separator always wins
// over a decimal comma: "12,5" on a numeric field is [12 5]. It never panics and
// never returns a nil collection.
func ToArray(v RawValue, elem ElementType) (res ArrayResult) {
	res = emptyArray(elem, "empty")
	defer func() {
		if r := recover(); r != nil {
			res = emptyArray(elem, "recovered")
			res.Warnings = []string{fmt.Sprintf("array coercion failed: %v", r)}
		}
	}()

	if v.IsBlank() {
		return res
	}
	switch v.Kind {
	case RawArray:
		return fromItems(v.Items, elem, "array")
	case RawNumber, RawBool:
		return fromItems([]RawValue{v}, elem, "scalar")
	case RawObject:
		res.Method = "object"
		res.Warnings = []string{"object cannot be coerced to an array"}
		return res
	}

	s := strings.TrimSpace(v.Str)

	// 1. JSON array
	if strings.HasPrefix(s, "[") {
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err == nil {
			return fromItems(FromAny(arr).Items, elem, "json")
		}
	}
	// 2. bracketed pseudo-list: ['a', "b", c]
	if (strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")) ||
		(strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")) {
		if items, ok := splitQuoted(s[1 : len(s)-1]); ok {
			return fromItems(items, elem, "pseudo_list")
		}
	}
	// 3. separated scalar list
	if items, ok := splitDelimited(s); ok {
		return fromItems(items, elem, "delimited")
	}
	// 4. numeric fields: the whole string as one number
	if elem == ElementNumber {
		if f, ok := parseLooseNumber(s); ok {
			res.Numbers = []float64{f}
			res.Method = "numeric"
			return res
		}
		res.Method = "unparseable"
		res.Warnings = []string{"not a number: " + truncateRaw(s)}
		return res
	}
	// 5. wrap
	res.Strings = []string{s}
	res.Method = "wrapped"
	return res
}

func emptyArray(elem ElementType, method string) ArrayResult {
	if elem == ElementNumber {
		return ArrayResult{Numbers: []float64{}, Method: method}
	}
	return ArrayResult{Strings: []string{}, Method: method}
}

func fromItems(items []RawValue, elem ElementType, method string) ArrayResult {
	res := emptyArray(elem, method)
	var walk func([]RawValue)
	walk = func(list []RawValue) {
		for _, it := range list {
			if it.IsBlank() {
				continue
			}
			switch it.Kind {
			case RawArray:
				walk(it.Items)
				continue
			case RawObject:
				res.Warnings = append(res.Warnings, "dropped object element")
				continue
			}
			if elem == ElementNumber {
				if it.Kind == RawNumber {
					res.Numbers = append(res.Numbers, it.Num)
					continue
				}
				txt, _ := it.Text()
				if f, ok := parseLooseNumber(txt); ok {
					res.Numbers = append(res.Numbers, f)
				} else {
					res.Warnings = append(res.Warnings, "dropped non-numeric element: "+truncateRaw(txt))
				}
				continue
			}
			txt, _ := it.Text()
			res.Strings = append(res.Strings, unquote(txt))
		}
	}
	walk(items)
	return res
}

// splitQuoted splits a comma/semicolon list honouring single and double
// quotes. It fails on an unterminated quote.
func splitQuoted(s string) ([]RawValue, bool) {
	var (
		items []RawValue
		cur   strings.Builder
		quote rune
	)
	flush := func() {
		items = append(items, String(strings.TrimSpace(cur.String())))
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			if strings.TrimSpace(cur.String()) == "" {
				quote = r
			}
			cur.WriteRune(r)
		case r == ',' || r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, false
	}
	flush()
	return items, true
}

func splitDelimited(s string) ([]RawValue, bool) {
	if strings.ContainsAny(s, ",;") {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' })
		return toRaw(parts), true
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return nil, false
	}
	var parts []string
	for _, l := range lines {
		if l = strings.TrimSpace(reBullet.ReplaceAllString(l, "")); l != "" {
			parts = append(parts, l)
		}
	}
	if len(parts) < 2 {
		return nil, false
	}
	return toRaw(parts), true
}

func toRaw(parts []string) []RawValue {
	out := make([]RawValue, 0, len(parts))
	for _, p := range parts {
		out = append(out, String(strings.TrimSpace(p)))
	}
	return out
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '\'' || first == '"') && first == last {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
