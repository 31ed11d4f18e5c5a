package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

func (e *Extractor) pdfToText(ctx context.Context, path string) ([]Page, []string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, []string{string(errb)}, err
	}
	// A form-feed \f is the page separator; the last page is followed by one.
	raw := strings.Split(strings.TrimSuffix(string(out), "\f"), "\f")
	if e.cfg.MaxPages > 0 && len(raw) > e.cfg.MaxPages {
		raw = raw[:e.cfg.MaxPages]
	}
	pages := make([]Page, len(raw))
	for i, txt := range raw {
		pages[i] = Page{Number: i + 1, Text: txt, Confidence: 1}
	}
	return pages, nil, nil
}

func (e *Extractor) pdfToOCR(ctx context.Context, path string) ([]Page, []string, error) {
	tmpDir, err := os.MkdirTemp("", "subsidy-pp-*")
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.logger.Warn("ocr.tmp.cleanup_failed", "dir", tmpDir, "err", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return nil, []string{string(errb)}, err
	}

	// prefix-1.png, prefix-2.png, ... (zero padded when there are many pages)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Slice(matches, func(i, j int) bool { return pageNumber(matches[i]) < pageNumber(matches[j]) })
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return nil, []string{"pdftoppm produced no images"}, fmt.Errorf("no pages rendered")
	}

	pages := make([]Page, len(matches))
	warns := make([][]string, len(matches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, img := range matches {
		g.Go(func() error {
			txt, w, err := e.tesseractOCR(gctx, img)
			warns[i] = w
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				warns[i] = append(warns[i], fmt.Sprintf("page %d: %v", i+1, err))
				pages[i] = Page{Number: i + 1}
				return nil
			}
			txt = Normalize(txt)
			pages[i] = Page{Number: i + 1, Text: txt, Confidence: heuristicConfidence(txt)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, flatten(warns), err
	}
	return pages, flatten(warns), nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", []string{strings.TrimSpace(string(errb))}, fmt.Errorf("tesseract: %w", err)
	}
	return reBoxNoise.ReplaceAllString(string(out), ""), nil, nil
}

func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
	return n
}

func flatten(in [][]string) []string {
	var out []string
	for _, w := range in {
		for _, s := range w {
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
