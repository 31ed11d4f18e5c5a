package extract

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/ocr"
)

type countingCapability struct {
	calls int
	last  CapabilityRequest
	resp  *CapabilityResponse
	err   error
}

func (c *countingCapability) Extract(_ context.Context, req CapabilityRequest) (*CapabilityResponse, error) {
	c.calls++
	c.last = req
	return c.resp, c.err
}

func newTestRegistry(src Source, capability Capability, maxBytes int64) *Registry {
	return DefaultRegistry(Options{Source: src, Capability: capability, MaxBytes: maxBytes}, nil)
}

func TestRegistryRejectsUnknownKindBeforeCapability(t *testing.T) {
	capability := &countingCapability{}
	reg := newTestRegistry(BytesSource{"a.exe": []byte("MZ")}, capability, 0)

	_, err := reg.Extract(context.Background(), Document{Ref: "a.exe", Kind: "exe"})
	require.Error(t, err)
	assert.True(t, common.HasCode(err, common.CodeUnsupportedFormat))
	assert.Equal(t, 0, capability.calls)

	// pdf is unsupported when no extractor is wired
	_, err = reg.Extract(context.Background(), Document{Ref: "a.pdf", Kind: constants.KindPDF})
	assert.True(t, common.HasCode(err, common.CodeUnsupportedFormat))
	assert.Equal(t, 0, capability.calls)
}

func TestAdapterRejectsOversizeDocuments(t *testing.T) {
	capability := &countingCapability{}
	src := BytesSource{"big.txt": []byte(strings.Repeat("x", 11))}
	reg := newTestRegistry(src, capability, 10)

	t.Run("declared size", func(t *testing.T) {
		// the ref does not exist: the declared size must be checked before opening
		_, err := reg.Extract(context.Background(), Document{Ref: "missing.txt", Kind: constants.KindText, SizeBytes: 100})
		assert.True(t, common.HasCode(err, common.CodeDocumentTooLarge))
	})
	t.Run("bytes read", func(t *testing.T) {
		_, err := reg.Extract(context.Background(), Document{Ref: "big.txt", Kind: constants.KindText})
		assert.True(t, common.HasCode(err, common.CodeDocumentTooLarge))
	})
	assert.Equal(t, 0, capability.calls)
}

func TestTextAdapterAttachesProvenance(t *testing.T) {
	text := "Green Farms Grant\n\nDeadline: 15/03/2025\nMax 50 000 EUR"
	capability := &countingCapability{resp: &CapabilityResponse{
		Fields: map[string]any{
			"title":      "Green Farms Grant",
			"deadline":   "15/03/2025",
			"amount_max": "50 000 EUR",
		},
		Sources:    map[string]int{"title": 0, "deadline": 1, "amount_max": 7},
		Confidence: 0.8,
		Model:      "test",
	}}
	reg := newTestRegistry(BytesSource{"doc.txt": []byte(text)}, capability, 0)

	res, err := reg.Extract(context.Background(), Document{Ref: "doc.txt", Kind: constants.KindText})
	require.NoError(t, err)
	require.Equal(t, 1, capability.calls)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, "text", res.Adapter)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)

	dl := res.Provenance["deadline"]
	assert.Equal(t, "doc.txt", dl.DocumentRef)
	assert.Equal(t, 1, dl.Block)
	assert.Equal(t, strings.Index(text, "Deadline"), dl.Offset)

	// an out-of-range block index falls back to the first block
	assert.Equal(t, 0, res.Provenance["amount_max"].Block)
	assert.Len(t, res.Provenance, len(res.Fields))
	for _, b := range res.Blocks {
		assert.True(t, b.Verbatim)
		assert.Equal(t, "doc.txt", b.Source.DocumentRef)
	}
}

func TestEmptyDocumentSkipsCapability(t *testing.T) {
	capability := &countingCapability{}
	reg := newTestRegistry(BytesSource{"blank.txt": []byte("  \n\n \n")}, capability, 0)

	res, err := reg.Extract(context.Background(), Document{Ref: "blank.txt", Kind: constants.KindText})
	require.NoError(t, err)
	assert.Equal(t, 0, capability.calls)
	assert.Empty(t, res.Fields)
	assert.NotNil(t, res.Fields)
	assert.Contains(t, res.Warnings, "document has no extractable content")
}

func TestCapabilityErrorsKeepTheirClassification(t *testing.T) {
	capability := &countingCapability{err: common.NewAppError(common.CodeCapabilityRateLimited, "slow down", nil)}
	reg := newTestRegistry(BytesSource{"doc.txt": []byte("Some text")}, capability, 0)

	_, err := reg.Extract(context.Background(), Document{Ref: "doc.txt", Kind: constants.KindText})
	assert.True(t, common.HasCode(err, common.CodeCapabilityRateLimited))

	capability.err = errors.New("boom")
	_, err = reg.Extract(context.Background(), Document{Ref: "doc.txt", Kind: constants.KindText})
	assert.True(t, common.HasCode(err, common.CodeInternal))

	capability.err = nil
	capability.resp = nil
	_, err = reg.Extract(context.Background(), Document{Ref: "doc.txt", Kind: constants.KindText})
	assert.True(t, common.HasCode(err, common.CodeCapabilityMalformedResponse))
}

type fakePDF struct {
	res ocr.Result
}

func (f fakePDF) ExtractPDF(context.Context, string) (ocr.Result, error) { return f.res, nil }

func TestPDFAdapterKeepsPageNumbers(t *testing.T) {
	pdf := fakePDF{res: ocr.Result{
		Method: "pdf-ocr",
		Pages: []ocr.Page{
			{Number: 1, Text: "Regional Innovation Fund", Confidence: 0.5},
			{Number: 2, Text: "Closing date 30/06/2025", Confidence: 0.5},
		},
	}}
	capability := &countingCapability{resp: &CapabilityResponse{
		Fields:     map[string]any{"deadline": "30/06/2025"},
		Sources:    map[string]int{"deadline": 1},
		Confidence: 0.9,
	}}
	reg := DefaultRegistry(Options{Source: BytesSource{"f.pdf": []byte("%PDF-1.7")}, Capability: capability}, pdf)

	res, err := reg.Extract(context.Background(), Document{Ref: "f.pdf", Kind: constants.KindPDF})
	require.NoError(t, err)
	require.Len(t, res.Blocks, 2)
	assert.Equal(t, 2, res.Provenance["deadline"].Page)
	assert.InDelta(t, 0.45, res.Confidence, 1e-9)
	assert.Contains(t, res.Warnings, "text recovered by OCR")
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.Error(w, "gone", http.StatusGone)
			return
		}
		_, _ = w.Write([]byte("<p>Call for projects</p>"))
	}))
	defer srv.Close()

	src := DefaultSources(nil)
	rc, err := src.Open(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	body, err := readCapped(rc, "page", 1024)
	_ = rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "<p>Call for projects</p>", string(body))

	_, err = src.Open(context.Background(), srv.URL+"/gone")
	assert.True(t, common.HasCode(err, common.CodeSourceUnavailable))

	_, err = src.Open(context.Background(), "/definitely/not/here.txt")
	assert.True(t, common.HasCode(err, common.CodeSourceUnavailable))
}
