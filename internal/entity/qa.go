package entity

import (
	"time"

	"github.com/google/uuid"
)

// Conflict kinds.
const (
	ConflictValueMismatch = "value_mismatch"
	ConflictShapeMismatch = "shape_mismatch"
)

// Conflict records fields asserting contradictory values, or a single field
// whose shape does not match its declared type.
type Conflict struct {
	Kind   string   `json:"kind"`
	Group  string   `json:"group,omitempty"`
	Fields []string `json:"fields"`
	Values []string `json:"values,omitempty"`
	Reason string   `json:"reason"`
}

// QAResult is a read-only summary over one NormalizedRecord version.
type QAResult struct {
	RecordID            uuid.UUID  `json:"record_id"`
	RecordVersion       int64      `json:"record_version"`
	Completeness        float64    `json:"completeness"`
	StructuralIntegrity float64    `json:"structural_integrity"`
	MissingFields       []string   `json:"missing_fields"`
	Conflicts           []Conflict `json:"conflicts"`
	AdminRequired       bool       `json:"admin_required"`
	ComputedAt          time.Time  `json:"computed_at"`
}
