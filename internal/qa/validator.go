// Package qa scores normalized records for completeness and structural
// integrity and flags records that need manual review.
package qa

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/utils"
)

// Config holds the review thresholds.
type Config struct {
	// ConfidenceThreshold is the minimum confidence for a required field to
	// count as populated.
	ConfidenceThreshold float64
	// CompletenessThreshold below which a record needs review.
	CompletenessThreshold float64
	// IntegrityThreshold below which a record needs review.
	IntegrityThreshold float64
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:   0.5,
		CompletenessThreshold: 0.7,
		IntegrityThreshold:    0.8,
	}
}

// Validator computes QAResults. It holds no per-record state.
type Validator struct {
	cfg Config
	log *slog.Logger
	now func() time.Time
}

// NewValidator creates a Validator; zero thresholds take their defaults.
func NewValidator(cfg Config, logger *slog.Logger) *Validator {
	def := DefaultConfig()
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.CompletenessThreshold <= 0 {
		cfg.CompletenessThreshold = def.CompletenessThreshold
	}
	if cfg.IntegrityThreshold <= 0 {
		cfg.IntegrityThreshold = def.IntegrityThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, log: logger, now: time.Now}
}

// Config returns the effective thresholds.
func (v *Validator) Config() Config { return v.cfg }

// Validate derives a fresh QAResult for the record.
func (v *Validator) Validate(record *entity.NormalizedRecord, schema *normalize.Schema) *entity.QAResult {
	if schema == nil {
		schema = normalize.DefaultSchema()
	}
	if record == nil {
		record = &entity.NormalizedRecord{}
	}
	res := &entity.QAResult{
		RecordID:      record.ID,
		RecordVersion: record.Version,
		MissingFields: []string{},
		Conflicts:     []entity.Conflict{},
		ComputedAt:    v.now().UTC(),
	}

	res.Completeness, res.MissingFields = v.completeness(record, schema)
	res.StructuralIntegrity, res.Conflicts = v.integrity(record, schema)
	res.Conflicts = append(res.Conflicts, v.conflicts(record, schema)...)

	var why []string
	if res.Completeness < v.cfg.CompletenessThreshold {
		why = append(why, "completeness")
	}
	if res.StructuralIntegrity < v.cfg.IntegrityThreshold {
		why = append(why, "integrity")
	}
	if len(res.Conflicts) > 0 {
		why = append(why, "conflicts")
	}
	res.AdminRequired = len(why) > 0

	if res.AdminRequired {
		v.log.Info("qa.admin_required",
			"record_id", record.ID,
			"completeness", res.Completeness,
			"integrity", res.StructuralIntegrity,
			"conflicts", len(res.Conflicts),
			"reasons", strings.Join(why, ","))
	}
	return res
}

// completeness is the share of required fields populated at or above the
// confidence threshold. A schema with no required fields is complete.
func (v *Validator) completeness(record *entity.NormalizedRecord, schema *normalize.Schema) (float64, []string) {
	required := schema.Required()
	missing := []string{}
	if len(required) == 0 {
		return 1, missing
	}
	ok := 0
	for _, name := range required {
		f, present := record.Field(name)
		if present && !f.Value.Empty() && f.Confidence >= v.cfg.ConfidenceThreshold {
			ok++
			continue
		}
		missing = append(missing, name)
	}
	return float64(ok) / float64(len(required)), missing
}

// integrity is the share of declared fields whose value has the declared
// shape. Each mismatch is also reported as a conflict.
func (v *Validator) integrity(record *entity.NormalizedRecord, schema *normalize.Schema) (float64, []entity.Conflict) {
	if len(schema.Fields) == 0 {
		return 1, nil
	}
	var conflicts []entity.Conflict
	ok := 0
	for _, spec := range schema.Fields {
		f, present := record.Field(spec.Name)
		if reason := shapeProblem(spec, f, present); reason != "" {
			conflicts = append(conflicts, entity.Conflict{
				Kind:   entity.ConflictShapeMismatch,
				Fields: []string{spec.Name},
				Values: rawValues(f),
				Reason: reason,
			})
			continue
		}
		ok++
	}
	return utils.Clamp01(float64(ok) / float64(len(schema.Fields))), conflicts
}

func shapeProblem(spec normalize.FieldSpec, f entity.Field, present bool) string {
	switch {
	case !present:
		return "field absent from record"
	case f.Value.Type != spec.Type:
		return fmt.Sprintf("declared %s, got %s", spec.Type, f.Value.Type)
	case f.ShapeMismatch:
		return fmt.Sprintf("value cannot be read as %s", spec.Type)
	case spec.Type == entity.FieldStringArray && f.Value.Strings == nil,
		spec.Type == entity.FieldNumberArray && f.Value.Numbers == nil:
		return "array field is null"
	}
	return ""
}

func rawValues(f entity.Field) []string {
	if f.Raw == "" {
		return nil
	}
	return []string{f.Raw}
}

// conflicts compares populated members of each group pairwise.
func (v *Validator) conflicts(record *entity.NormalizedRecord, schema *normalize.Schema) []entity.Conflict {
	var out []entity.Conflict
	groups := schema.Groups()
	for _, g := range schema.GroupNames() {
		type member struct {
			name string
			key  string
		}
		var members []member
		for _, name := range groups[g] {
			f, ok := record.Field(name)
			if !ok || f.ShapeMismatch || f.Value.Empty() {
				continue
			}
			members = append(members, member{name: name, key: compareKey(f.Value)})
		}
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := members[i], members[j]
				if a.key == b.key {
					continue
				}
				out = append(out, entity.Conflict{
					Kind:   entity.ConflictValueMismatch,
					Group:  g,
					Fields: []string{a.name, b.name},
					Values: []string{a.key, b.key},
					Reason: fmt.Sprintf("%s and %s disagree", a.name, b.name),
				})
			}
		}
	}
	return out
}

// compareKey renders a value so equal values compare equal: dates and
// amounts exactly, text case-folded, arrays as sorted folded sets.
func compareKey(v entity.Value) string {
	switch v.Type {
	case entity.FieldDate:
		return *v.Date
	case entity.FieldMoney:
		return strconv.FormatFloat(v.Money.Amount, 'f', -1, 64)
	case entity.FieldNumber:
		return strconv.FormatFloat(*v.Number, 'f', -1, 64)
	case entity.FieldString:
		return utils.Fold(*v.Text)
	case entity.FieldStringArray:
		set := map[string]struct{}{}
		for _, s := range v.Strings {
			set[utils.Fold(s)] = struct{}{}
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, "|")
	case entity.FieldNumberArray:
		nums := append([]float64(nil), v.Numbers...)
		sort.Float64s(nums)
		parts := make([]string, len(nums))
		for i, n := range nums {
			parts[i] = strconv.FormatFloat(n, 'f', -1, 64)
		}
		return strings.Join(parts, "|")
	}
	return ""
}
