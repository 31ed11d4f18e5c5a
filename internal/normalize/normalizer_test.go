package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

func TestNormalizeMap(t *testing.T) {
	n := New(nil, DayFirst, nil)
	rec := n.NormalizeMap("file:///inbox/green-farm.pdf", map[string]any{
		"title":         "Green Farm Grant",
		"regions":       "Bretagne, Normandie",
		"amount_max":    "jusqu'à 50 000 €",
		"deadline":      "15/03/2025",
		"sectors":       "",
		"funding_rate":  "40 %",
		"not_in_schema": "ignored",
	})

	require.Len(t, rec.Fields, len(n.Schema().Fields))
	assert.Equal(t, RecordID("file:///inbox/green-farm.pdf"), rec.ID)

	region := rec.Fields["region"]
	assert.Equal(t, []string{"Bretagne", "Normandie"}, region.Value.Strings)
	assert.Equal(t, 1.0, region.Confidence)

	cats := rec.Fields["activity_categories"]
	require.NotNil(t, cats.Value.Strings)
	assert.Empty(t, cats.Value.Strings)
	assert.Equal(t, 0.0, cats.Confidence)

	amount := rec.Fields["amount_max"]
	require.NotNil(t, amount.Value.Money)
	assert.Equal(t, 50000.0, amount.Value.Money.Amount)
	assert.Equal(t, "EUR", amount.Value.Money.Currency)

	require.NotNil(t, rec.Fields["deadline"].Value.Date)
	assert.Equal(t, "2025-03-15", *rec.Fields["deadline"].Value.Date)

	require.NotNil(t, rec.Fields["funding_rate"].Value.Number)
	assert.Equal(t, 40.0, *rec.Fields["funding_rate"].Value.Number)

	missing := rec.Fields["agency"]
	assert.True(t, missing.Value.Empty())
	assert.Equal(t, "empty", missing.Method)
}

func TestNormalizeUsesProvenanceAndFieldConfidence(t *testing.T) {
	n := New(nil, DayFirst, nil)
	ptr := entity.SourcePointer{Page: 3, Offset: 120, Block: 4}
	rec := n.Normalize(&entity.ExtractionResult{
		DocumentRef:     "https://example.org/call.html",
		Fields:          map[string]any{"title": "Call 2025", "deadline": "03/04/2025"},
		Provenance:      map[string]entity.SourcePointer{"title": ptr},
		FieldConfidence: map[string]float64{"title": 0.9},
		Confidence:      0.8,
		Blocks:          []entity.Block{{Type: entity.BlockText, Source: entity.SourcePointer{DocumentRef: "https://example.org/call.html", Page: 1}}},
	})

	title := rec.Fields["title"]
	assert.Equal(t, 0.9, title.Confidence)
	assert.Equal(t, 3, title.Provenance.Page)
	assert.Equal(t, "https://example.org/call.html", title.Provenance.DocumentRef)

	deadline := rec.Fields["deadline"]
	assert.InDelta(t, 0.8*warnedConfidence, deadline.Confidence, 1e-9)
	assert.Equal(t, 1, deadline.Provenance.Page)
	assert.NotEmpty(t, deadline.Warnings)
}

func TestNormalizeShapeMismatch(t *testing.T) {
	n := New(nil, DayFirst, nil)
	rec := n.NormalizeMap("doc", map[string]any{
		"company_size_max": map[string]any{"unit": "people"},
		"deadline":         "sometime next spring",
		"region":           map[string]any{"a": "b"},
	})
	assert.True(t, rec.Fields["company_size_max"].ShapeMismatch)
	assert.True(t, rec.Fields["deadline"].ShapeMismatch)
	assert.True(t, rec.Fields["region"].ShapeMismatch)
	assert.NotNil(t, rec.Fields["region"].Value.Strings)
	assert.False(t, rec.Fields["title"].ShapeMismatch)
}

func TestParseSchema(t *testing.T) {
	s, err := ParseSchema([]byte(`
fields:
  - name: Title
    type: string
    required: true
  - name: tags
    type: string_array
    aliases: [labels]
`))
	require.NoError(t, err)
	f, ok := s.Field("labels")
	require.True(t, ok)
	assert.Equal(t, "tags", f.Name)
	assert.Equal(t, []string{"title"}, s.Required())

	_, err = ParseSchema([]byte("fields:\n  - name: x\n    type: blob\n"))
	assert.Error(t, err)
	_, err = ParseSchema([]byte("fields: []\n"))
	assert.Error(t, err)
}

func TestDefaultSchema(t *testing.T) {
	s := DefaultSchema()
	assert.Len(t, s.Required(), 5)
	assert.ElementsMatch(t, []string{"deadline", "application_deadline", "closing_date"}, s.Groups()["deadline"])
}
