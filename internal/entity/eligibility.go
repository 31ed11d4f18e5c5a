package entity

import (
	"time"

	"github.com/google/uuid"
)

// ApplicantProfile describes the applicant a record is scored against.
type ApplicantProfile struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name,omitempty"`
	Region             string   `json:"region"`
	LegalEntityType    string   `json:"legal_entity_type,omitempty"`
	ActivityCategories []string `json:"activity_categories,omitempty"`
	Employees          int      `json:"employees,omitempty"`
	RequestedAmount    float64  `json:"requested_amount,omitempty"`
	Documents          []string `json:"documents,omitempty"`
}

// Band is the eligibility bucket derived from the score.
type Band string

const (
	BandReady       Band = "ready"
	BandNeedsAction Band = "needs_action"
	BandNotEligible Band = "not_eligible"
)

// Reason explains one factor applied to the score.
type Reason struct {
	Criterion string  `json:"criterion"`
	Hard      bool    `json:"hard"`
	Factor    float64 `json:"factor"`
	Message   string  `json:"message"`
}

// EligibilityScore is derived per (profile, record) and only ever cached.
type EligibilityScore struct {
	ProfileID       string    `json:"profile_id"`
	RecordID        uuid.UUID `json:"record_id"`
	RecordVersion   int64     `json:"record_version"`
	Score           float64   `json:"score"`
	Band            Band      `json:"band"`
	BlockingReasons []Reason  `json:"blocking_reasons"`
	RequiredActions []string  `json:"required_actions"`
	FundingAmount   *Money    `json:"funding_amount,omitempty"`
	Deadline        *string   `json:"deadline,omitempty"`
	ComputedAt      time.Time `json:"computed_at"`
}
