package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu        sync.Mutex
	pdftotext string
	textErr   error
	pages     int
	calls     []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	switch name {
	case "pdftotext":
		if f.textErr != nil {
			return nil, []byte("boom"), f.textErr
		}
		return []byte(f.pdftotext), nil, nil
	case "pdftoppm":
		prefix := args[len(args)-1]
		for i := 1; i <= f.pages; i++ {
			p := prefix + "-" + strconv.Itoa(i) + ".png"
			if err := os.WriteFile(p, []byte("png"), 0o600); err != nil {
				return nil, nil, err
			}
		}
		return nil, nil, nil
	case "tesseract":
		return []byte("Scanned page " + filepath.Base(args[0]) + "\nDeadline 15/03/2025  grant up to 50 000 €"), nil, nil
	}
	return nil, nil, errors.New("unexpected command " + name)
}

func TestExtractPDFTextLayer(t *testing.T) {
	long := strings.Repeat("Eligible applicants include farms and cooperatives. ", 3)
	r := &fakeRunner{pdftotext: long + "\f" + long + "\f"}
	e := NewExtractor(Config{}, nil, WithRunner(r))

	res, err := e.ExtractPDF(context.Background(), "/tmp/call.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf-text", res.Method)
	require.Len(t, res.Pages, 2)
	assert.Equal(t, 2, res.Pages[1].Number)
	assert.Equal(t, 1.0, res.Confidence())
	assert.NotContains(t, r.calls, "tesseract")
}

func TestExtractPDFFallsBackToOCR(t *testing.T) {
	r := &fakeRunner{pdftotext: "\f\f", pages: 3}
	e := NewExtractor(Config{Concurrency: 2}, nil, WithRunner(r))

	res, err := e.ExtractPDF(context.Background(), "/tmp/scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	require.Len(t, res.Pages, 3)
	for i, p := range res.Pages {
		assert.Equal(t, i+1, p.Number)
		assert.Contains(t, p.Text, "page-"+strconv.Itoa(i+1)+".png")
		assert.Greater(t, p.Confidence, 0.5)
	}
	assert.Contains(t, res.Warnings, "text layer too sparse; used OCR")
}

func TestExtractPDFTextErrorUsesOCR(t *testing.T) {
	r := &fakeRunner{textErr: errors.New("exit 1"), pages: 1}
	e := NewExtractor(Config{}, nil, WithRunner(r))

	res, err := e.ExtractPDF(context.Background(), "/tmp/broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, "pdf-ocr", res.Method)
	assert.Len(t, res.Pages, 1)
}

func TestNormalizeKeepsColumns(t *testing.T) {
	in := "Name      Amount\r\nA         100\n\n\n\nnext  "
	assert.Equal(t, "Name  Amount\nA  100\n\nnext", Normalize(in))
}
