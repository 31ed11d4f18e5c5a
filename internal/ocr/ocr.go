// Package ocr turns PDF files into per-page text using poppler and
// tesseract, falling back to OCR for scanned documents.
package ocr

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	TessdataDir   string
	DPI           int // rasterization DPI for scanned PDFs, default 300
	MaxPages      int // 0 = no limit
	Concurrency   int // parallel tesseract runs, default 2

	// MinCharsPerPage below which the text layer is treated as missing.
	MinCharsPerPage int
}

// Page is the text of one page, 1-based.
type Page struct {
	Number     int
	Text       string
	Confidence float64
}

type Result struct {
	Pages    []Page
	Method   string // "pdf-text" | "pdf-ocr"
	Language string
	Duration time.Duration
	Warnings []string
}

// Text joins all pages with form feeds, as pdftotext does.
func (r Result) Text() string {
	parts := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\f")
}

// Confidence is the mean page confidence.
func (r Result) Confidence() float64 {
	if len(r.Pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range r.Pages {
		sum += p.Confidence
	}
	return sum / float64(len(r.Pages))
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.MinCharsPerPage <= 0 {
		cfg.MinCharsPerPage = 40
	}
	e := &Extractor{cfg: cfg, runner: ExecRunner{Logger: logger}, logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractPDF reads the text layer and falls back to OCR when it is too
// sparse to be a real text layer.
func (e *Extractor) ExtractPDF(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	e.logger.Debug("ocr.pdf.start", "path", path)

	pages, warns, err := e.pdfToText(ctx, path)
	if err == nil && !e.sparse(pages) {
		return Result{
			Pages:    pages,
			Method:   "pdf-text",
			Duration: time.Since(start),
			Warnings: warns,
		}, nil
	}
	if err != nil {
		e.logger.Warn("ocr.pdf.text_failed", "path", path, "err", err)
		warns = append(warns, "pdftotext failed: "+err.Error())
	} else {
		e.logger.Info("ocr.pdf.sparse_text_layer", "path", path, "pages", len(pages))
		warns = append(warns, "text layer too sparse; used OCR")
	}

	ocrPages, ocrWarns, ocrErr := e.pdfToOCR(ctx, path)
	warns = append(warns, ocrWarns...)
	res := Result{
		Pages:    ocrPages,
		Method:   "pdf-ocr",
		Language: e.cfg.TesseractLang,
		Duration: time.Since(start),
		Warnings: warns,
	}
	if ocrErr != nil {
		return res, ocrErr
	}
	return res, nil
}

func (e *Extractor) sparse(pages []Page) bool {
	if len(pages) == 0 {
		return true
	}
	chars := 0
	for _, p := range pages {
		for _, r := range p.Text {
			if !unicode.IsSpace(r) {
				chars++
			}
		}
	}
	return chars/len(pages) < e.cfg.MinCharsPerPage
}
