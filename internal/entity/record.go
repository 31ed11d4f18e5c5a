package entity

import (
	"time"

	"github.com/google/uuid"
)

// FieldType is the declared canonical type of a schema field.
type FieldType string

const (
	FieldStringArray FieldType = "string_array"
	FieldNumberArray FieldType = "number_array"
	FieldString      FieldType = "string"
	FieldNumber      FieldType = "number"
	FieldDate        FieldType = "date"
	FieldMoney       FieldType = "money"
)

// IsArray reports whether values of t are collections.
func (t FieldType) IsArray() bool {
	return t == FieldStringArray || t == FieldNumberArray
}

// Money is a resolved amount. Currency is an ISO 4217 code when known.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Value is the canonical tagged value of a field. Exactly one member is used,
// selected by Type; array members are never nil for array types.
type Value struct {
	Type    FieldType `json:"type"`
	Strings []string  `json:"strings,omitempty"`
	Numbers []float64 `json:"numbers,omitempty"`
	Text    *string   `json:"text,omitempty"`
	Number  *float64  `json:"number,omitempty"`
	Date    *string   `json:"date,omitempty"` // YYYY-MM-DD
	Money   *Money    `json:"money,omitempty"`
}

// Empty reports whether the value carries nothing.
func (v Value) Empty() bool {
	switch v.Type {
	case FieldStringArray:
		return len(v.Strings) == 0
	case FieldNumberArray:
		return len(v.Numbers) == 0
	case FieldString:
		return v.Text == nil || *v.Text == ""
	case FieldNumber:
		return v.Number == nil
	case FieldDate:
		return v.Date == nil
	case FieldMoney:
		return v.Money == nil
	}
	return true
}

// Materialize restores empty collections dropped by JSON round trips.
func (v *Value) Materialize() {
	switch v.Type {
	case FieldStringArray:
		if v.Strings == nil {
			v.Strings = []string{}
		}
	case FieldNumberArray:
		if v.Numbers == nil {
			v.Numbers = []float64{}
		}
	}
}

// Field is one normalized field with its confidence and provenance.
type Field struct {
	Name       string        `json:"name"`
	Value      Value         `json:"value"`
	Raw        string        `json:"raw,omitempty"`
	Confidence float64       `json:"confidence"`
	Provenance SourcePointer `json:"provenance"`
	Method     string        `json:"method,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`

	// ShapeMismatch is set when the raw value could not take the declared shape.
	ShapeMismatch bool `json:"shape_mismatch,omitempty"`
}

// NormalizedRecord is the canonical form of one subsidy document.
type NormalizedRecord struct {
	ID           uuid.UUID        `json:"id"`
	JobID        uuid.UUID        `json:"job_id"`
	ExtractionID uuid.UUID        `json:"extraction_id"`
	DocumentRef  string           `json:"document_ref"`
	Fields       map[string]Field `json:"fields"`
	Version      int64            `json:"version"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Materialize fixes up every field after decoding.
func (r *NormalizedRecord) Materialize() {
	for name, f := range r.Fields {
		f.Value.Materialize()
		r.Fields[name] = f
	}
}

// Field returns the named field and whether it exists.
func (r *NormalizedRecord) Field(name string) (Field, bool) {
	if r == nil || r.Fields == nil {
		return Field{}, false
	}
	f, ok := r.Fields[name]
	return f, ok
}
