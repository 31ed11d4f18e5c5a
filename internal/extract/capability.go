package extract

import (
	"context"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

// CapabilityRequest is one bounded call to the extraction capability.
type CapabilityRequest struct {
	DocumentRef string
	Kind        constants.DocumentKind
	Blocks      []entity.Block
	Hints       map[string]string
}

// CapabilityResponse holds the raw candidate fields. An empty Fields map is a
// valid result, distinct from an error.
type CapabilityResponse struct {
	Fields          map[string]any
	Sources         map[string]int // field -> index into the request blocks
	FieldConfidence map[string]float64
	Confidence      float64
	Model           string
}

// Capability discovers candidate fields in document blocks. Implementations
// report failures as classified errors: CAPABILITY_TIMEOUT,
// CAPABILITY_RATE_LIMITED, CAPABILITY_UNAVAILABLE,
// CAPABILITY_MALFORMED_RESPONSE or CAPABILITY_REJECTED_INPUT.
type Capability interface {
	Extract(ctx context.Context, req CapabilityRequest) (*CapabilityResponse, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, req CapabilityRequest) (*CapabilityResponse, error)

func (f CapabilityFunc) Extract(ctx context.Context, req CapabilityRequest) (*CapabilityResponse, error) {
	return f(ctx, req)
}
