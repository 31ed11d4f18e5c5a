package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

func newParser(t *testing.T) *responseParser {
	t.Helper()
	p, err := newResponseParser(normalize.DefaultSchema(), nil)
	require.NoError(t, err)
	return p
}

func TestParseValidReply(t *testing.T) {
	p := newParser(t)
	out, err := p.Parse(`{"fields":{"title":"Green Fund","amount_max":"50 000 €","region":["Bretagne"]},`+
		`"sources":{"title":0,"amount_max":2},"field_confidence":{"title":0.9},"confidence":0.75}`, "m")
	require.NoError(t, err)
	assert.Equal(t, "Green Fund", out.Fields["title"])
	assert.Equal(t, 2, out.Sources["amount_max"])
	assert.Equal(t, 0.9, out.FieldConfidence["title"])
	assert.Equal(t, 0.75, out.Confidence)
	assert.Equal(t, "m", out.Model)
}

func TestParseDefaultsAndFences(t *testing.T) {
	p := newParser(t)
	out, err := p.Parse("```json\n{\"fields\":{}}\n```", "m")
	require.NoError(t, err)
	assert.NotNil(t, out.Fields)
	assert.Empty(t, out.Fields)
	assert.Equal(t, unreportedConfidence, out.Confidence)
}

func TestParseLenientRepairs(t *testing.T) {
	p := newParser(t)

	t.Run("bare field map is wrapped", func(t *testing.T) {
		out, err := p.Parse(`{"title":"Fund","deadline":"15/03/2025"}`, "m")
		require.NoError(t, err)
		assert.Equal(t, "Fund", out.Fields["title"])
		assert.Equal(t, "15/03/2025", out.Fields["deadline"])
	})
	t.Run("bad source indexes are dropped", func(t *testing.T) {
		out, err := p.Parse(`{"fields":{"title":"x"},"sources":{"title":"zero","deadline":2,"region":-1}}`, "m")
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"deadline": 2}, out.Sources)
	})
	t.Run("confidence is clamped", func(t *testing.T) {
		out, err := p.Parse(`{"fields":{"title":"x"},"confidence":1.4,"field_confidence":{"title":-2}}`, "m")
		require.NoError(t, err)
		assert.Equal(t, 1.0, out.Confidence)
		assert.Equal(t, 0.0, out.FieldConfidence["title"])
	})
}

func TestParseMalformed(t *testing.T) {
	p := newParser(t)
	for _, in := range []string{"", "not json", `["a","b"]`} {
		_, err := p.Parse(in, "m")
		assert.True(t, common.HasCode(err, common.CodeCapabilityMalformedResponse), "input %q", in)
	}
}
