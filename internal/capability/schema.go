package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

// ResponseSchema returns the JSON schema a capability reply must satisfy.
// Field values are left untyped; only the envelope is constrained.
func ResponseSchema(s *normalize.Schema) map[string]any {
	props := map[string]any{}
	for _, f := range s.Fields {
		desc := string(f.Type)
		if f.Description != "" {
			desc += ": " + f.Description
		}
		props[f.Name] = map[string]any{"description": desc}
	}
	return map[string]any{
		"type":     "object",
		"required": []string{"fields"},
		"properties": map[string]any{
			"fields": map[string]any{
				"type":       "object",
				"properties": props,
			},
			"sources": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "integer", "minimum": 0},
			},
			"field_confidence": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
	}
}

// compileSchema compiles schemaMap once per client.
func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// validateJSON validates data against a compiled schema.
func validateJSON(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// sanitizeEnvelope repairs the envelope so a mostly-correct reply can still
// validate: bare field maps are wrapped, bad source indexes and confidences
// are dropped or clamped. Field values are never touched.
func sanitizeEnvelope(doc []byte, s *normalize.Schema) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}
	var dropped []string

	if _, ok := m["fields"].(map[string]any); !ok {
		fields := map[string]any{}
		for k, v := range m {
			if _, known := s.Field(k); known {
				fields[k] = v
				delete(m, k)
			}
		}
		m["fields"] = fields
		dropped = append(dropped, "fields(wrapped)")
	}

	if raw, ok := m["sources"]; ok {
		src, isMap := raw.(map[string]any)
		if !isMap {
			delete(m, "sources")
			dropped = append(dropped, "sources(type)")
		} else {
			for k, v := range src {
				f, isNum := v.(float64)
				if !isNum || f < 0 || f != math.Trunc(f) {
					delete(src, k)
					dropped = append(dropped, "sources."+k)
				}
			}
		}
	}

	if raw, ok := m["field_confidence"]; ok {
		fc, isMap := raw.(map[string]any)
		if !isMap {
			delete(m, "field_confidence")
			dropped = append(dropped, "field_confidence(type)")
		} else {
			for k, v := range fc {
				f, isNum := v.(float64)
				if !isNum {
					delete(fc, k)
					dropped = append(dropped, "field_confidence."+k)
					continue
				}
				fc[k] = clamp01(f)
			}
		}
	}

	switch v := m["confidence"].(type) {
	case nil:
		delete(m, "confidence")
	case float64:
		m["confidence"] = clamp01(v)
	default:
		delete(m, "confidence")
		dropped = append(dropped, "confidence(type)")
	}

	sort.Strings(dropped)
	out, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, err
	}
	return out, dropped, nil
}

func clamp01(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
