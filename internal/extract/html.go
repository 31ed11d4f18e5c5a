package extract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

// HTMLReader reads harvested web pages. Script and style content is dropped,
// block elements start new blocks, headings title the blocks that follow
// them and every data <table> becomes a table block.
type HTMLReader struct{}

// NewHTMLAdapter handles constants.KindHTML.
func NewHTMLAdapter(opts Options) Adapter {
	return NewAdapter("html", []constants.DocumentKind{constants.KindHTML}, HTMLReader{}, opts)
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Header: true, atom.Footer: true, atom.Main: true, atom.Aside: true,
	atom.Nav: true, atom.Ul: true, atom.Ol: true, atom.Li: true, atom.Dl: true,
	atom.Dt: true, atom.Dd: true, atom.Blockquote: true, atom.Pre: true,
	atom.Hr: true, atom.Form: true, atom.Fieldset: true, atom.Figure: true,
	atom.Figcaption: true, atom.Address: true, atom.Body: true,
}

var headingTags = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
}

var skipTags = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true, atom.Svg: true,
}

type htmlTable struct {
	start   int
	rows    [][]string
	row     []string
	cell    strings.Builder
	inCell  bool
	caption strings.Builder
	inCap   bool
}

func (t *htmlTable) endCell() {
	if !t.inCell {
		return
	}
	t.row = append(t.row, collapse(t.cell.String()))
	t.cell.Reset()
	t.inCell = false
}

func (t *htmlTable) endRow() {
	t.endCell()
	if len(t.row) == 0 {
		return
	}
	for _, c := range t.row {
		if c != "" {
			t.rows = append(t.rows, t.row)
			break
		}
	}
	t.row = nil
}

type htmlState struct {
	blocks   []entity.Block
	buf      strings.Builder
	bufStart int
	started  bool
	heading  bool
	section  string
	title    strings.Builder
	inTitle  bool
	skip     int
	depth    int // table nesting
	table    *htmlTable
}

func (s *htmlState) text(t string, offset int) {
	switch {
	case s.skip > 0:
	case s.inTitle:
		s.title.WriteString(t)
	case s.table != nil && s.table.inCap:
		s.table.caption.WriteString(t)
	case s.table != nil && s.table.inCell:
		s.table.cell.WriteString(t)
	case s.table != nil:
		// stray text between rows
	default:
		if !s.started && strings.TrimSpace(t) != "" {
			s.bufStart = offset
			s.started = true
		}
		s.buf.WriteString(strings.NewReplacer("\r", " ", "\n", " ", "\t", " ").Replace(t))
	}
}

func (s *htmlState) flush() {
	var lines []string
	for _, l := range strings.Split(s.buf.String(), "\n") {
		if c := collapse(l); c != "" {
			lines = append(lines, c)
		}
	}
	s.buf.Reset()
	s.started = false
	if len(lines) == 0 {
		s.heading = false
		return
	}
	text := strings.Join(lines, "\n")
	if s.heading {
		s.section = text
		s.heading = false
	}
	s.blocks = append(s.blocks, entity.Block{
		Type:     entity.BlockText,
		Title:    s.section,
		Text:     text,
		Verbatim: true,
		Source:   entity.SourcePointer{Offset: s.bufStart},
	})
}

func (s *htmlState) endTable() {
	t := s.table
	s.table = nil
	t.endRow()
	if len(t.rows) == 0 {
		return
	}
	width := 0
	for _, r := range t.rows {
		if len(r) > width {
			width = len(r)
		}
	}
	lines := make([]string, len(t.rows))
	for i, r := range t.rows {
		lines[i] = strings.Join(r, " | ")
	}
	title := firstNonBlank(collapse(t.caption.String()), s.section)
	if width < minTableCells {
		// layout table, not data
		s.blocks = append(s.blocks, entity.Block{
			Type: entity.BlockText, Title: title, Text: strings.Join(lines, "\n"),
			Verbatim: true, Source: entity.SourcePointer{Offset: t.start},
		})
		return
	}
	s.blocks = append(s.blocks, entity.Block{
		Type:     entity.BlockTable,
		Title:    title,
		Text:     strings.Join(lines, "\n"),
		Table:    &entity.Table{Header: t.rows[0], Rows: t.rows[1:]},
		Verbatim: true,
		Source:   entity.SourcePointer{Offset: t.start},
	})
}

func (HTMLReader) Read(ctx context.Context, _ Document, data []byte) (*Content, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	s := &htmlState{}
	pos, tokens := 0, 0
	for {
		tt := z.Next()
		tokens++
		start := pos
		pos += len(z.Raw())

		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				s.flush()
				if s.table != nil {
					s.endTable()
				}
				c := &Content{Blocks: s.blocks, Confidence: 1}
				if t := collapse(s.title.String()); t != "" && len(c.Blocks) > 0 && c.Blocks[0].Title == "" {
					c.Blocks[0].Title = t
				}
				return c, nil
			}
			return nil, z.Err()

		case html.TextToken:
			s.text(string(z.Text()), start)

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			s.startTag(a, start, tt == html.SelfClosingTagToken)

		case html.EndTagToken:
			name, _ := z.TagName()
			s.endTag(atom.Lookup(name))
		}
		if tokens%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

func (s *htmlState) startTag(a atom.Atom, offset int, selfClosing bool) {
	if skipTags[a] {
		if !selfClosing {
			s.skip++
		}
		return
	}
	if s.skip > 0 {
		return
	}
	switch {
	case a == atom.Title:
		s.inTitle = true
	case a == atom.Table:
		if s.table == nil {
			s.flush()
			s.table = &htmlTable{start: offset}
		}
		s.depth++
	case s.table != nil && s.depth == 1:
		switch a {
		case atom.Tr:
			s.table.endRow()
		case atom.Td, atom.Th:
			s.table.endCell()
			s.table.inCell = true
		case atom.Caption:
			s.table.inCap = true
		case atom.Br:
			s.text(" ", offset)
		}
	case s.table != nil:
		s.text(" ", offset) // nested table content folds into the outer cell
	case a == atom.Br:
		if s.buf.Len() > 0 {
			s.buf.WriteString("\n")
		}
	case headingTags[a]:
		s.flush()
		s.heading = true
	case blockTags[a]:
		s.flush()
	}
}

func (s *htmlState) endTag(a atom.Atom) {
	if skipTags[a] {
		if s.skip > 0 {
			s.skip--
		}
		return
	}
	if s.skip > 0 {
		return
	}
	switch {
	case a == atom.Title:
		s.inTitle = false
	case a == atom.Table && s.table != nil:
		s.depth--
		if s.depth == 0 {
			s.endTable()
		}
	case s.table != nil && s.depth == 1:
		switch a {
		case atom.Tr:
			s.table.endRow()
		case atom.Td, atom.Th:
			s.table.endCell()
		case atom.Caption:
			s.table.inCap = false
		}
	case s.table != nil:
	case headingTags[a], blockTags[a]:
		s.flush()
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonBlank(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
