package capability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

// unreportedConfidence is used when the reply carries no overall confidence.
const unreportedConfidence = 0.8

// envelope is the reply shape described by ResponseSchema.
type envelope struct {
	Fields          map[string]any     `json:"fields"`
	Sources         map[string]int     `json:"sources"`
	FieldConfidence map[string]float64 `json:"field_confidence"`
	Confidence      *float64           `json:"confidence"`
}

// responseParser validates replies against the response schema, with one
// lenient repair pass before giving up.
type responseParser struct {
	schema   *normalize.Schema
	compiled *jsonschema.Schema
	log      *slog.Logger
}

func newResponseParser(s *normalize.Schema, logger *slog.Logger) (*responseParser, error) {
	if s == nil {
		s = normalize.DefaultSchema()
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiled, err := compileSchema(ResponseSchema(s))
	if err != nil {
		return nil, common.NewAppError(common.CodeConfig, "compile response schema", err)
	}
	return &responseParser{schema: s, compiled: compiled, log: logger}, nil
}

// Parse turns reply text into a CapabilityResponse. Every failure is
// CAPABILITY_MALFORMED_RESPONSE.
func (p *responseParser) Parse(content, model string) (*extract.CapabilityResponse, error) {
	raw := []byte(stripFences(content))
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed("empty reply", nil)
	}

	if err := validateJSON(p.compiled, raw); err != nil {
		cleaned, dropped, sErr := sanitizeEnvelope(raw, p.schema)
		if sErr != nil {
			p.log.Error("capability.response.sanitize_failed", "err", sErr, "model", model)
			return nil, malformed("reply is not a JSON object", sErr)
		}
		if vErr := validateJSON(p.compiled, cleaned); vErr != nil {
			p.log.Error("capability.response.schema_validation_failed", "err", vErr, "model", model)
			return nil, malformed("reply does not match the response schema", vErr)
		}
		p.log.Warn("capability.response.lenient_sanitize_applied", "dropped", dropped, "model", model)
		raw = cleaned
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, malformed("decode reply", err)
	}

	out := &extract.CapabilityResponse{
		Fields:          env.Fields,
		Sources:         env.Sources,
		FieldConfidence: env.FieldConfidence,
		Confidence:      unreportedConfidence,
		Model:           model,
	}
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	if env.Confidence != nil {
		out.Confidence = clamp01(*env.Confidence)
	}
	return out, nil
}

// stripFences removes a surrounding markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:] // language tag line
	} else {
		s = ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func malformed(msg string, cause error) error {
	return common.NewAppError(common.CodeCapabilityMalformedResponse, msg, cause)
}
