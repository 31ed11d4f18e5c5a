package normalize

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/utils"
)

// recordNamespace keys record IDs by document reference so reprocessing the
// same document upserts the same record.
var recordNamespace = uuid.MustParse("9b1f0c7e-5a43-4d0e-9a8e-2f6b7c1d3e55")

// RecordID returns the stable record identity for a document reference.
func RecordID(documentRef string) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, []byte(strings.TrimSpace(documentRef)))
}

// warnedConfidence scales confidence for values that needed a fallback.
const warnedConfidence = 0.85

// Normalizer applies a canonical schema to raw extraction output.
type Normalizer struct {
	schema *Schema
	order  DateOrder
	log    *slog.Logger
}

// New creates a Normalizer. A nil schema means the embedded default.
func New(schema *Schema, order DateOrder, logger *slog.Logger) *Normalizer {
	if schema == nil {
		schema = DefaultSchema()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{schema: schema, order: order, log: logger}
}

// Schema returns the schema in use.
func (n *Normalizer) Schema() *Schema { return n.schema }

// Normalize builds a record holding every declared field. Fields absent from
// the extraction are present with an empty value and zero confidence.
func (n *Normalizer) Normalize(res *entity.ExtractionResult) *entity.NormalizedRecord {
	if res == nil {
		res = &entity.ExtractionResult{}
	}
	start := time.Now()
	raw, sources := n.collect(res.Fields)

	rec := &entity.NormalizedRecord{
		ID:           RecordID(res.DocumentRef),
		JobID:        res.JobID,
		ExtractionID: res.ID,
		DocumentRef:  res.DocumentRef,
		Fields:       make(map[string]entity.Field, len(n.schema.Fields)),
		UpdatedAt:    time.Now().UTC(),
	}
	for _, spec := range n.schema.Fields {
		v, ok := raw[spec.Name]
		if !ok {
			v = Missing()
		}
		f := n.NormalizeField(spec, v)
		if ok {
			key := sources[spec.Name]
			f.Confidence = fieldConfidence(res, key, f)
			f.Provenance = provenance(res, key)
		} else {
			f.Provenance = entity.SourcePointer{DocumentRef: res.DocumentRef}
		}
		rec.Fields[spec.Name] = f
	}
	n.log.Debug("normalize.done",
		"document_ref", res.DocumentRef,
		"fields", len(rec.Fields),
		"elapsed_ms", time.Since(start).Milliseconds())
	return rec
}

// NormalizeMap normalizes a bare field map, as decoded from JSON.
func (n *Normalizer) NormalizeMap(documentRef string, fields map[string]any) *entity.NormalizedRecord {
	return n.Normalize(&entity.ExtractionResult{
		DocumentRef: documentRef,
		Fields:      fields,
		Confidence:  1,
	})
}

// collect maps extraction keys onto schema names. Exact names win over
// aliases; unknown keys are logged and dropped.
func (n *Normalizer) collect(fields map[string]any) (map[string]RawValue, map[string]string) {
	raw := map[string]RawValue{}
	sources := map[string]string{}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		spec, ok := n.schema.Field(k)
		if !ok {
			n.log.Debug("normalize.unknown_field", "field", k)
			continue
		}
		exact := canonicalKey(k) == spec.Name
		if _, seen := raw[spec.Name]; seen && !exact {
			continue
		}
		raw[spec.Name] = FromAny(fields[k])
		sources[spec.Name] = k
	}
	return raw, sources
}

// NormalizeField coerces one raw value to its declared type. It never
// panics; failures become warnings and an empty value.
func (n *Normalizer) NormalizeField(spec FieldSpec, v RawValue) (f entity.Field) {
	f = entity.Field{Name: spec.Name, Value: entity.Value{Type: spec.Type}, Raw: truncateRaw(v.Display())}
	defer func() {
		if r := recover(); r != nil {
			f.Value = entity.Value{Type: spec.Type}
			f.Value.Materialize()
			f.Method = "recovered"
			f.Warnings = append(f.Warnings, "normalization failed")
			n.log.Warn("normalize.field.panic", "field", spec.Name, "err", r)
		}
	}()

	switch spec.Type {
	case entity.FieldStringArray, entity.FieldNumberArray:
		r := ToArray(v, spec.Element())
		f.Value.Strings, f.Value.Numbers = r.Strings, r.Numbers
		f.Method, f.Warnings = r.Method, r.Warnings
		if v.Kind == RawObject {
			f.ShapeMismatch = true
		}
	case entity.FieldMoney:
		r := ToMoney(v)
		f.Value.Money, f.Method, f.Warnings = r.Money, r.Method, r.Warnings
		f.ShapeMismatch = !v.IsBlank() && r.Money == nil
	case entity.FieldDate:
		r := ToDate(v, n.order)
		f.Value.Date, f.Method, f.Warnings = r.ISO(), r.Method, r.Warnings
		f.ShapeMismatch = !v.IsBlank() && r.Date == nil
	case entity.FieldNumber:
		n.toNumber(&f, v)
	case entity.FieldString:
		toText(&f, v)
	}
	f.Value.Materialize()
	if v.IsBlank() && f.Method == "" {
		f.Method = "empty"
	}
	return f
}

func (n *Normalizer) toNumber(f *entity.Field, v RawValue) {
	switch {
	case v.IsBlank():
		f.Method = "empty"
	case v.Kind == RawNumber:
		num := v.Num
		f.Value.Number, f.Method = &num, "number"
	case v.Kind == RawArray:
		r := ToArray(v, ElementNumber)
		if len(r.Numbers) > 0 {
			num := r.Numbers[0]
			f.Value.Number, f.Method = &num, "array_first"
			if len(r.Numbers) > 1 {
				f.Warnings = append(f.Warnings, "multiple numbers found; kept the first")
			}
			return
		}
		f.Method, f.ShapeMismatch = "unparseable", true
		f.Warnings = append(f.Warnings, r.Warnings...)
	case v.Kind == RawString:
		if num, ok := parseLooseNumber(v.Str); ok {
			f.Value.Number, f.Method = &num, "parsed"
			return
		}
		if r := ToMoney(v); r.Money != nil {
			num := r.Money.Amount
			f.Value.Number, f.Method = &num, "from_text"
			f.Warnings = append(f.Warnings, "number extracted from surrounding text")
			return
		}
		f.Method, f.ShapeMismatch = "unparseable", true
		f.Warnings = append(f.Warnings, "not a number: "+truncateRaw(v.Str))
	default:
		f.Method, f.ShapeMismatch = "unparseable", true
		f.Warnings = append(f.Warnings, "cannot read "+v.Kind.String()+" as a number")
	}
}

func toText(f *entity.Field, v RawValue) {
	switch {
	case v.IsBlank():
		f.Method = "empty"
	case v.Kind == RawArray:
		r := ToArray(v, ElementText)
		s := strings.Join(r.Strings, "; ")
		f.Value.Text, f.Method = &s, "joined"
		if len(r.Strings) > 1 {
			f.Warnings = append(f.Warnings, "list joined into text")
		}
	case v.Kind == RawObject:
		s := v.Display()
		f.Value.Text, f.Method, f.ShapeMismatch = &s, "object", true
		f.Warnings = append(f.Warnings, "object rendered as text")
	default:
		s, _ := v.Text()
		f.Value.Text, f.Method = &s, "text"
	}
}

func fieldConfidence(res *entity.ExtractionResult, key string, f entity.Field) float64 {
	if f.Value.Empty() {
		return 0
	}
	c := res.Confidence
	if fc, ok := res.FieldConfidence[key]; ok {
		c = fc
	}
	if len(f.Warnings) > 0 {
		c *= warnedConfidence
	}
	return utils.Clamp01(c)
}

func provenance(res *entity.ExtractionResult, key string) entity.SourcePointer {
	if p, ok := res.Provenance[key]; ok {
		if p.DocumentRef == "" {
			p.DocumentRef = res.DocumentRef
		}
		return p
	}
	if len(res.Blocks) > 0 {
		return res.Blocks[0].Source
	}
	return entity.SourcePointer{DocumentRef: res.DocumentRef}
}
