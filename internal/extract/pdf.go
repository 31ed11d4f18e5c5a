package extract

import (
	"context"
	"os"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/ocr"
)

// PDFTextExtractor is satisfied by *ocr.Extractor.
type PDFTextExtractor interface {
	ExtractPDF(ctx context.Context, path string) (ocr.Result, error)
}

// PDFReader reads the text layer of a PDF, or OCRs it when scanned, and lays
// each page out into blocks.
type PDFReader struct {
	Extractor PDFTextExtractor
}

// NewPDFAdapter handles constants.KindPDF.
func NewPDFAdapter(x PDFTextExtractor, opts Options) Adapter {
	return NewAdapter("pdf", []constants.DocumentKind{constants.KindPDF}, PDFReader{Extractor: x}, opts)
}

func (r PDFReader) Read(ctx context.Context, _ Document, data []byte) (*Content, error) {
	if r.Extractor == nil {
		return nil, common.NewAppError(common.CodeUnsupportedFormat, "pdf extraction is not configured", nil)
	}
	tmp, err := os.CreateTemp("", "subsidy-*.pdf")
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "create temp pdf", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, common.NewAppError(common.CodeInternal, "write temp pdf", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "close temp pdf", err)
	}

	res, err := r.Extractor.ExtractPDF(ctx, tmp.Name())
	if err != nil {
		return nil, err
	}
	c := &Content{
		Pages:      len(res.Pages),
		Confidence: res.Confidence(),
		Warnings:   res.Warnings,
	}
	if res.Method == "pdf-ocr" {
		c.Warnings = append(c.Warnings, "text recovered by OCR")
	}
	for _, p := range res.Pages {
		c.Blocks = append(c.Blocks, SplitText(p.Text, p.Number, 0)...)
	}
	return c, nil
}
