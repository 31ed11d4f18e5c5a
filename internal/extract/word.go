package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

const docxBody = "word/document.xml"

// WordReader reads DOCX bodies: paragraphs become text blocks, w:tbl
// elements become table blocks, and heading-styled paragraphs title what
// follows. Offsets point into word/document.xml.
type WordReader struct{}

// NewWordAdapter handles constants.KindWord.
func NewWordAdapter(opts Options) Adapter {
	return NewAdapter("word", []constants.DocumentKind{constants.KindWord}, WordReader{}, opts)
}

type docxState struct {
	blocks  []entity.Block
	section string

	para      strings.Builder
	paraStart int
	inPara    bool
	heading   bool

	tblDepth int
	tblStart int
	rows     [][]string
	row      []string
	cell     []string
	inCell   bool
}

func (WordReader) Read(ctx context.Context, _ Document, data []byte) (*Content, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return nil, common.NewAppError(common.CodeUnsupportedFormat, "not a word document: missing "+docxBody, nil)
	}
	rc, err := body.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	s := &docxState{}
	dec := xml.NewDecoder(rc)
	for n := 0; ; n++ {
		offset := int(dec.InputOffset())
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			s.start(t, offset)
		case xml.EndElement:
			s.end(t.Name.Local)
		case xml.CharData:
			if s.inPara {
				s.para.Write(t)
			}
		}
		if n%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return &Content{Blocks: s.blocks, Confidence: 1}, nil
}

func (s *docxState) start(t xml.StartElement, offset int) {
	switch t.Name.Local {
	case "p":
		s.inPara = true
		s.heading = false
		s.paraStart = offset
		s.para.Reset()
	case "pStyle":
		for _, a := range t.Attr {
			if a.Name.Local == "val" && isHeadingStyle(a.Value) {
				s.heading = true
			}
		}
	case "tab":
		if s.inPara {
			s.para.WriteString("\t")
		}
	case "br", "cr":
		if s.inPara {
			s.para.WriteString("\n")
		}
	case "tbl":
		if s.tblDepth == 0 {
			s.tblStart = offset
			s.rows = nil
		}
		s.tblDepth++
	case "tr":
		if s.tblDepth == 1 {
			s.row = nil
		}
	case "tc":
		if s.tblDepth == 1 {
			s.cell = nil
			s.inCell = true
		}
	}
}

func (s *docxState) end(local string) {
	switch local {
	case "p":
		s.inPara = false
		text := strings.TrimSpace(s.para.String())
		if text == "" {
			return
		}
		if s.tblDepth > 0 {
			s.cell = append(s.cell, collapse(text))
			return
		}
		if s.heading {
			s.section = collapse(text)
		}
		s.blocks = append(s.blocks, entity.Block{
			Type:     entity.BlockText,
			Title:    s.section,
			Text:     text,
			Verbatim: true,
			Source:   entity.SourcePointer{Offset: s.paraStart},
		})
	case "tc":
		if s.tblDepth == 1 && s.inCell {
			s.row = append(s.row, strings.Join(s.cell, " "))
			s.inCell = false
		}
	case "tr":
		if s.tblDepth == 1 && len(s.row) > 0 {
			s.rows = append(s.rows, s.row)
			s.row = nil
		}
	case "tbl":
		s.tblDepth--
		if s.tblDepth == 0 {
			s.emitTable()
		}
	}
}

func (s *docxState) emitTable() {
	rows := compactRows(s.rows)
	s.rows = nil
	if len(rows) == 0 {
		return
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = strings.Join(r, " | ")
	}
	s.blocks = append(s.blocks, entity.Block{
		Type:     entity.BlockTable,
		Title:    s.section,
		Text:     strings.Join(lines, "\n"),
		Table:    &entity.Table{Header: rows[0], Rows: rows[1:]},
		Verbatim: true,
		Source:   entity.SourcePointer{Offset: s.tblStart},
	})
}

func isHeadingStyle(v string) bool {
	v = strings.ToLower(v)
	return strings.HasPrefix(v, "heading") || v == "title" || strings.HasPrefix(v, "titre")
}
