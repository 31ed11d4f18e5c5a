package capability

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

func TestBuildPromptRendersTablesAndIndexes(t *testing.T) {
	s := normalize.DefaultSchema()
	req := extract.CapabilityRequest{
		DocumentRef: "doc.pdf",
		Kind:        constants.KindPDF,
		Hints:       map[string]string{"source": "inbox"},
		Blocks: []entity.Block{
			{Type: entity.BlockText, Text: "Regional fund", Source: entity.SourcePointer{Page: 1}},
			{Type: entity.BlockTable, Title: "Rates", Table: &entity.Table{
				Header: []string{"Size", "Rate"},
				Rows:   [][]string{{"Small", "50%"}},
			}, Source: entity.SourcePointer{Page: 2}},
		},
	}
	p := BuildPrompt(s, req, 0, ApproxCounter{})

	assert.Equal(t, 2, p.Blocks)
	assert.False(t, p.Truncated)
	assert.Contains(t, p.User, "Document: doc.pdf (pdf)")
	assert.Contains(t, p.User, "Hint source: inbox")
	assert.Contains(t, p.User, "[block 0 | page 1]\nRegional fund")
	assert.Contains(t, p.User, "[block 1 | page 2 | table | Rates]\n| Size | Rate |\n| Small | 50% |")
	assert.Contains(t, p.System, "- amount_max (money, required)")
}

func TestBuildPromptRespectsBudget(t *testing.T) {
	s := normalize.DefaultSchema()
	counter := ApproxCounter{}
	sys := counter.Count(BuildSystemPrompt(s))
	text := strings.Repeat("a", 2000)
	req := extract.CapabilityRequest{
		DocumentRef: "d",
		Kind:        constants.KindText,
		Blocks: []entity.Block{
			{Type: entity.BlockText, Text: text},
			{Type: entity.BlockText, Text: text},
		},
	}

	t.Run("drops trailing blocks", func(t *testing.T) {
		p := BuildPrompt(s, req, replyReserve+sys+650, counter)
		assert.Equal(t, 1, p.Blocks)
		assert.True(t, p.Truncated)
		assert.Contains(t, p.User, "(1 more blocks omitted)")
		assert.LessOrEqual(t, p.Tokens, sys+650)
	})
	t.Run("cuts an oversized first block", func(t *testing.T) {
		p := BuildPrompt(s, req, replyReserve+sys+100, counter)
		assert.Equal(t, 1, p.Blocks)
		assert.True(t, p.Truncated)
		assert.Contains(t, p.User, "…(truncated)")
		assert.Less(t, len(p.User), 1000)
	})
}
