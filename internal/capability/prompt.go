package capability

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

// replyReserve is kept free of prompt text for the model's answer.
const replyReserve = 1024

// TokenCounter estimates prompt size in model tokens.
type TokenCounter interface {
	Count(s string) int
}

// ApproxCounter assumes four characters per token.
type ApproxCounter struct{}

func (ApproxCounter) Count(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// NewTokenCounter returns a tiktoken encoder for model, falling back to
// cl100k_base and then to ApproxCounter when no encoding can be loaded.
func NewTokenCounter(model string, logger *slog.Logger) TokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		logger.Warn("capability.tokens.encoding_unavailable", "model", model, "err", err)
		return ApproxCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// Prompt is a rendered capability request.
type Prompt struct {
	System    string
	User      string
	Tokens    int
	Blocks    int // blocks included
	Truncated bool
}

// BuildSystemPrompt lists the canonical fields and the reply contract.
func BuildSystemPrompt(s *normalize.Schema) string {
	var b strings.Builder
	b.WriteString("You read public funding program documents and report candidate field values. ")
	b.WriteString("Return ONLY a JSON object with keys: \"fields\" (field name -> value copied as written in the document), ")
	b.WriteString("\"sources\" (field name -> number of the block the value came from), ")
	b.WriteString("\"field_confidence\" (field name -> 0..1) and \"confidence\" (0..1 overall). ")
	b.WriteString("Copy amounts, dates and lists as they appear; do not convert currencies, reformat dates or invent values. ")
	b.WriteString("Omit fields the document does not state. Never output null.\n\nFields:\n")
	for _, f := range s.Fields {
		fmt.Fprintf(&b, "- %s (%s", f.Name, f.Type)
		if f.Required {
			b.WriteString(", required")
		}
		b.WriteString(")")
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// BuildPrompt renders the blocks in order until maxTokens is reached. A
// first block that alone exceeds the budget is cut rather than dropped.
func BuildPrompt(s *normalize.Schema, req extract.CapabilityRequest, maxTokens int, counter TokenCounter) Prompt {
	if counter == nil {
		counter = ApproxCounter{}
	}
	p := Prompt{System: BuildSystemPrompt(s)}

	var head strings.Builder
	fmt.Fprintf(&head, "Document: %s (%s)\n", req.DocumentRef, req.Kind)
	if len(req.Hints) > 0 {
		keys := make([]string, 0, len(req.Hints))
		for k := range req.Hints {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&head, "Hint %s: %s\n", k, req.Hints[k])
		}
	}
	head.WriteString("\n")

	used := counter.Count(p.System) + counter.Count(head.String())
	budget := maxTokens - replyReserve
	var body strings.Builder
	for i, blk := range req.Blocks {
		chunk := renderBlock(i, blk)
		n := counter.Count(chunk)
		if maxTokens > 0 && used+n > budget {
			if i == 0 && budget-used > 0 {
				chunk = cutToTokens(chunk, budget-used, counter)
				body.WriteString(chunk)
				used += counter.Count(chunk)
				p.Blocks = 1
			}
			p.Truncated = true
			fmt.Fprintf(&body, "\n(%d more blocks omitted)\n", len(req.Blocks)-p.Blocks)
			break
		}
		body.WriteString(chunk)
		used += n
		p.Blocks++
	}
	p.User = head.String() + body.String()
	p.Tokens = used
	return p
}

func renderBlock(i int, b entity.Block) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[block %d", i)
	if b.Source.Page > 0 {
		fmt.Fprintf(&sb, " | page %d", b.Source.Page)
	}
	if b.Type == entity.BlockTable {
		sb.WriteString(" | table")
	}
	if b.Title != "" {
		sb.WriteString(" | ")
		sb.WriteString(b.Title)
	}
	sb.WriteString("]\n")
	if b.Table != nil {
		writeRow(&sb, b.Table.Header)
		for _, r := range b.Table.Rows {
			writeRow(&sb, r)
		}
	} else {
		sb.WriteString(b.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

func writeRow(sb *strings.Builder, cells []string) {
	sb.WriteString("| ")
	sb.WriteString(strings.Join(cells, " | "))
	sb.WriteString(" |\n")
}

// cutToTokens shortens s to roughly n tokens.
func cutToTokens(s string, n int, counter TokenCounter) string {
	r := []rune(s)
	lo, hi := 0, len(r)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.Count(string(r[:mid])) <= n {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(r[:lo]) + "\n…(truncated)\n"
}
