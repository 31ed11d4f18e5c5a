// Package export renders stored records and their QA results as XLSX
// workbooks for the admin review queue.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/utils"
)

const (
	reviewSheet = "Review"
	fieldsSheet = "Fields"
)

// Records is the part of the record store exports read from.
type Records interface {
	ListRecords(ctx context.Context, f repository.RecordFilter) ([]*entity.NormalizedRecord, error)
	GetQA(ctx context.Context, recordID uuid.UUID) (*entity.QAResult, error)
}

// Service produces XLSX bytes for review exports.
type Service struct {
	records Records
	logger  *slog.Logger
}

func NewService(records Records, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{records: records, logger: logger}
}

// ExportReviewXLSX returns a workbook with one summary row per record on the
// Review sheet and one row per field on the Fields sheet. When onlyAdmin is
// set, only records flagged for admin review are included.
func (s *Service) ExportReviewXLSX(ctx context.Context, onlyAdmin bool, limit int) ([]byte, error) {
	start := time.Now()

	f := repository.RecordFilter{Limit: limit}
	if onlyAdmin {
		t := true
		f.AdminRequired = &t
	}
	recs, err := s.records.ListRecords(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	wb := excelize.NewFile()
	defer func() { _ = wb.Close() }()
	if err := wb.SetSheetName("Sheet1", reviewSheet); err != nil {
		return nil, err
	}
	if _, err := wb.NewSheet(fieldsSheet); err != nil {
		return nil, err
	}

	writeRow(wb, reviewSheet, 1, []any{
		"Record ID", "Title", "Agency", "Deadline", "Max Amount", "Currency",
		"Completeness", "Integrity", "Admin Required", "Missing Fields", "Conflicts", "Version", "Document",
	})
	writeRow(wb, fieldsSheet, 1, []any{
		"Record ID", "Field", "Value", "Confidence", "Method", "Page", "Warnings",
	})

	fieldRow := 2
	for i, rec := range recs {
		result, err := s.records.GetQA(ctx, rec.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return nil, fmt.Errorf("qa for %s: %w", rec.ID, err)
		}
		amount, currency := money(rec, "amount_max", "amount")
		row := []any{
			rec.ID.String(),
			text(rec, "title"),
			text(rec, "agency"),
			text(rec, "deadline"),
			amount,
			currency,
		}
		if result != nil {
			row = append(row,
				result.Completeness,
				result.StructuralIntegrity,
				yesNo(result.AdminRequired),
				strings.Join(result.MissingFields, ", "),
				conflicts(result.Conflicts),
			)
		} else {
			row = append(row, "", "", "pending", "", "")
		}
		row = append(row, rec.Version, rec.DocumentRef)
		writeRow(wb, reviewSheet, i+2, row)

		for _, name := range sortedFields(rec) {
			fl := rec.Fields[name]
			writeRow(wb, fieldsSheet, fieldRow, []any{
				rec.ID.String(), name, Display(fl.Value), fl.Confidence, fl.Method,
				fl.Provenance.Page, strings.Join(fl.Warnings, "; "),
			})
			fieldRow++
		}
	}

	_ = wb.SetColWidth(reviewSheet, "A", "A", 38)
	_ = wb.SetColWidth(reviewSheet, "B", "C", 32)
	_ = wb.SetColWidth(reviewSheet, "D", "F", 14)
	_ = wb.SetColWidth(reviewSheet, "J", "K", 40)
	_ = wb.SetColWidth(reviewSheet, "M", "M", 60)
	_ = wb.SetColWidth(fieldsSheet, "A", "A", 38)
	_ = wb.SetColWidth(fieldsSheet, "B", "B", 22)
	_ = wb.SetColWidth(fieldsSheet, "C", "C", 48)
	_ = wb.SetPanes(reviewSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"rows", len(recs),
		"only_admin", onlyAdmin,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// Display renders a canonical value as a single cell string.
func Display(v entity.Value) string {
	switch v.Type {
	case entity.FieldStringArray:
		return strings.Join(v.Strings, ", ")
	case entity.FieldNumberArray:
		parts := make([]string, 0, len(v.Numbers))
		for _, n := range v.Numbers {
			parts = append(parts, strconv.FormatFloat(n, 'f', -1, 64))
		}
		return strings.Join(parts, ", ")
	case entity.FieldString:
		if v.Text != nil {
			return *v.Text
		}
	case entity.FieldNumber:
		if v.Number != nil {
			return strconv.FormatFloat(*v.Number, 'f', -1, 64)
		}
	case entity.FieldDate:
		if v.Date != nil {
			return *v.Date
		}
	case entity.FieldMoney:
		if v.Money != nil {
			s := strconv.FormatFloat(v.Money.Amount, 'f', -1, 64)
			if v.Money.Currency != "" {
				s += " " + v.Money.Currency
			}
			return s
		}
	}
	return ""
}

func writeRow(wb *excelize.File, sheet string, row int, values []any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = wb.SetCellValue(sheet, cell, v)
	}
}

func text(rec *entity.NormalizedRecord, name string) string {
	f, ok := rec.Field(name)
	if !ok {
		return ""
	}
	return utils.Truncate(Display(f.Value), 140)
}

func money(rec *entity.NormalizedRecord, names ...string) (any, string) {
	for _, n := range names {
		if f, ok := rec.Field(n); ok && f.Value.Money != nil {
			return f.Value.Money.Amount, f.Value.Money.Currency
		}
	}
	return "", ""
}

func conflicts(cs []entity.Conflict) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, fmt.Sprintf("%s(%s): %s", c.Kind, strings.Join(c.Fields, "/"), c.Reason))
	}
	return strings.Join(parts, "; ")
}

func sortedFields(rec *entity.NormalizedRecord) []string {
	names := make([]string, 0, len(rec.Fields))
	for n, f := range rec.Fields {
		if !f.Value.Empty() || len(f.Warnings) > 0 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
