package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

// SpreadsheetReader turns every non-empty sheet of a workbook into one table
// block titled with the sheet name. Page is the 1-based sheet position.
type SpreadsheetReader struct{}

// NewSpreadsheetAdapter handles constants.KindSpreadsheet.
func NewSpreadsheetAdapter(opts Options) Adapter {
	return NewAdapter("spreadsheet", []constants.DocumentKind{constants.KindSpreadsheet}, SpreadsheetReader{}, opts)
}

func (SpreadsheetReader) Read(ctx context.Context, _ Document, data []byte) (*Content, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	c := &Content{Confidence: 1}
	sheets := f.GetSheetList()
	c.Pages = len(sheets)
	for i, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			c.Warnings = append(c.Warnings, "sheet "+sheet+": "+err.Error())
			continue
		}
		rows = compactRows(rows)
		if len(rows) == 0 {
			continue
		}
		lines := make([]string, len(rows))
		for j, r := range rows {
			lines[j] = strings.Join(r, " | ")
		}
		c.Blocks = append(c.Blocks, entity.Block{
			Type:     entity.BlockTable,
			Title:    sheet,
			Text:     strings.Join(lines, "\n"),
			Table:    &entity.Table{Header: rows[0], Rows: rows[1:]},
			Verbatim: true,
			Source:   entity.SourcePointer{Page: i + 1},
		})
	}
	return c, nil
}

// compactRows trims cells and drops empty rows.
func compactRows(rows [][]string) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		empty := true
		cells := make([]string, len(r))
		for i, v := range r {
			cells[i] = strings.TrimSpace(v)
			if cells[i] != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, cells)
		}
	}
	return out
}
