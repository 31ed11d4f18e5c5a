package extract

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

const (
	minTableCells = 2
	minTableRows  = 2
)

var (
	reCellGap   = regexp.MustCompile(`\s{2,}`)
	reTableRule = regexp.MustCompile(`^\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)*\|?$`)
)

type line struct {
	text   string
	offset int
}

// SplitText cuts page text into paragraph and table blocks in source order.
// A run of at least two lines splitting into the same number (two or more)
// of cells, by pipes, tabs or wide gaps, becomes a table block whose first
// row is the header. Offsets are byte offsets from baseOffset.
func SplitText(text string, page, baseOffset int) []entity.Block {
	var (
		blocks []entity.Block
		para   []line
	)
	flushPara := func() {
		blocks = append(blocks, splitParagraph(para, page, baseOffset)...)
		para = para[:0]
	}

	pos := 0
	for _, raw := range strings.SplitAfter(text, "\n") {
		l := line{text: strings.TrimRight(raw, "\r\n"), offset: pos}
		pos += len(raw)
		if strings.TrimSpace(l.text) == "" {
			flushPara()
			continue
		}
		para = append(para, l)
	}
	flushPara()
	return blocks
}

func splitParagraph(lines []line, page, baseOffset int) []entity.Block {
	var (
		out   []entity.Block
		prose []line
	)
	emitProse := func() {
		if len(prose) == 0 {
			return
		}
		parts := make([]string, len(prose))
		for i, l := range prose {
			parts[i] = strings.TrimSpace(l.text)
		}
		out = append(out, entity.Block{
			Type:     entity.BlockText,
			Text:     strings.Join(parts, "\n"),
			Verbatim: true,
			Source:   entity.SourcePointer{Page: page, Offset: baseOffset + prose[0].offset},
		})
		prose = nil
	}

	for i := 0; i < len(lines); {
		cells := splitCells(lines[i].text)
		if len(cells) < minTableCells {
			prose = append(prose, lines[i])
			i++
			continue
		}
		rows := [][]string{cells}
		raw := []string{lines[i].text}
		j := i + 1
		for ; j < len(lines); j++ {
			if isTableRule(lines[j].text) {
				raw = append(raw, lines[j].text)
				continue
			}
			next := splitCells(lines[j].text)
			if len(next) != len(cells) {
				break
			}
			rows = append(rows, next)
			raw = append(raw, lines[j].text)
		}
		if len(rows) < minTableRows {
			prose = append(prose, lines[i])
			i++
			continue
		}
		emitProse()
		out = append(out, entity.Block{
			Type:     entity.BlockTable,
			Text:     strings.Join(raw, "\n"),
			Table:    &entity.Table{Header: rows[0], Rows: rows[1:]},
			Verbatim: true,
			Source:   entity.SourcePointer{Page: page, Offset: baseOffset + lines[i].offset},
		})
		i = j
	}
	emitProse()
	return out
}

// splitCells returns the cells of a table-looking line, or nil.
func splitCells(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || isTableRule(s) {
		return nil
	}
	var parts []string
	switch {
	case strings.Contains(s, "|"):
		parts = strings.Split(strings.Trim(s, "|"), "|")
	case strings.Contains(s, "\t"):
		parts = strings.Split(s, "\t")
	default:
		parts = reCellGap.Split(s, -1)
	}
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	if len(cells) < minTableCells {
		return nil
	}
	return cells
}

func isTableRule(s string) bool {
	return reTableRule.MatchString(strings.TrimSpace(s))
}
