// Package extract turns source documents into ExtractionResults: one adapter
// per declared document kind reads the document into ordered text and table
// blocks, and a shared extraction capability proposes raw field values.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

// Adapter extracts one or more declared document kinds.
type Adapter interface {
	Name() string
	Kinds() []constants.DocumentKind
	Extract(ctx context.Context, doc Document) (*entity.ExtractionResult, error)
}

// Content is what a Reader found in the raw bytes, before any capability call.
type Content struct {
	Blocks     []entity.Block
	Pages      int
	Confidence float64 // reader confidence, 1 for lossless formats
	Warnings   []string
}

// Reader turns raw document bytes into ordered blocks.
type Reader interface {
	Read(ctx context.Context, doc Document, data []byte) (*Content, error)
}

// Options are shared by all adapters built from one registry.
type Options struct {
	Source     Source
	Capability Capability
	MaxBytes   int64
	Logger     *slog.Logger
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxDocumentBytes
	}
	if o.Source == nil {
		o.Source = DefaultSources(o.Logger)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type adapter struct {
	name   string
	kinds  []constants.DocumentKind
	reader Reader
	opts   Options
}

// NewAdapter builds an adapter from a format reader and the shared options.
func NewAdapter(name string, kinds []constants.DocumentKind, reader Reader, opts Options) Adapter {
	return &adapter{name: name, kinds: kinds, reader: reader, opts: opts.withDefaults()}
}

func (a *adapter) Name() string                    { return a.name }
func (a *adapter) Kinds() []constants.DocumentKind { return a.kinds }

func (a *adapter) Extract(ctx context.Context, doc Document) (*entity.ExtractionResult, error) {
	logger := a.opts.Logger.With("adapter", a.name, "ref", doc.Ref)
	start := time.Now()

	if strings.TrimSpace(doc.Ref) == "" {
		return nil, common.NewAppError(common.CodeInvalidInput, "document ref is required", common.ErrInvalidInput)
	}
	if doc.SizeBytes > a.opts.MaxBytes {
		logger.Warn("extract.rejected_oversize", "size_bytes", doc.SizeBytes, "max_bytes", a.opts.MaxBytes)
		return nil, tooLarge(doc.Ref, doc.SizeBytes, a.opts.MaxBytes)
	}

	rc, err := a.opts.Source.Open(ctx, doc.Ref)
	if err != nil {
		return nil, err
	}
	data, err := readCapped(rc, doc.Ref, a.opts.MaxBytes)
	_ = rc.Close()
	if err != nil {
		logger.Warn("extract.read_failed", "err", err)
		return nil, err
	}

	content, err := a.reader.Read(ctx, doc, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ae *common.AppError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, common.NewAppError(common.CodeUnsupportedFormat,
			fmt.Sprintf("cannot read %s as %s", doc.Ref, doc.Kind), err)
	}

	res := &entity.ExtractionResult{
		ID:          uuid.New(),
		JobID:       doc.JobID,
		DocumentRef: doc.Ref,
		Kind:        doc.Kind,
		Adapter:     a.name,
		Fields:      map[string]any{},
		Provenance:  map[string]entity.SourcePointer{},
		Blocks:      content.Blocks,
		Warnings:    content.Warnings,
		CreatedAt:   a.opts.Now().UTC(),
	}
	if res.Blocks == nil {
		res.Blocks = []entity.Block{}
	}
	for i := range res.Blocks {
		res.Blocks[i].Source.DocumentRef = doc.Ref
		res.Blocks[i].Source.Block = i
	}
	if !hasContent(res.Blocks) {
		res.Warnings = append(res.Warnings, "document has no extractable content")
		logger.Info("extract.empty_document", "elapsed_ms", time.Since(start).Milliseconds())
		return res, nil
	}
	if a.opts.Capability == nil {
		return nil, common.NewAppError(common.CodeCapabilityUnavailable, "no extraction capability configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := a.opts.Capability.Extract(ctx, CapabilityRequest{
		DocumentRef: doc.Ref,
		Kind:        doc.Kind,
		Blocks:      res.Blocks,
		Hints:       doc.Hints,
	})
	if err != nil {
		logger.Warn("extract.capability_failed", "code", common.CodeOf(err), "err", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, common.Classify(err)
	}
	if resp == nil {
		return nil, common.NewAppError(common.CodeCapabilityMalformedResponse, "capability returned no response", nil)
	}

	readerConf := content.Confidence
	if readerConf <= 0 {
		readerConf = 1
	}
	res.Confidence = clamp01(resp.Confidence * readerConf)
	if len(resp.FieldConfidence) > 0 {
		res.FieldConfidence = make(map[string]float64, len(resp.FieldConfidence))
		for k, c := range resp.FieldConfidence {
			res.FieldConfidence[k] = clamp01(c * readerConf)
		}
	}
	for k, v := range resp.Fields {
		res.Fields[k] = v
		idx, ok := resp.Sources[k]
		if !ok || idx < 0 || idx >= len(res.Blocks) {
			idx = 0
		}
		res.Provenance[k] = res.Blocks[idx].Source
	}

	logger.Info("extract.done",
		"blocks", len(res.Blocks),
		"fields", len(res.Fields),
		"confidence", res.Confidence,
		"model", resp.Model,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func hasContent(blocks []entity.Block) bool {
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) != "" {
			return true
		}
		if b.Table != nil && (len(b.Table.Header) > 0 || len(b.Table.Rows) > 0) {
			return true
		}
	}
	return false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

// Registry dispatches documents to adapters by declared kind.
type Registry struct {
	adapters map[constants.DocumentKind]Adapter
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{adapters: map[constants.DocumentKind]Adapter{}, logger: logger}
}

// Register binds every kind a declares; later registrations win.
func (r *Registry) Register(a Adapter) {
	for _, k := range a.Kinds() {
		r.adapters[k] = a
	}
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []constants.DocumentKind {
	out := make([]constants.DocumentKind, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Supports reports whether kind has an adapter.
func (r *Registry) Supports(kind constants.DocumentKind) bool {
	_, ok := r.adapters[kind]
	return ok
}

// Extract runs the adapter for doc.Kind. An unknown kind fails before any
// source read or capability call.
func (r *Registry) Extract(ctx context.Context, doc Document) (*entity.ExtractionResult, error) {
	a, ok := r.adapters[doc.Kind]
	if !ok {
		r.logger.Warn("extract.unsupported_kind", "kind", doc.Kind, "ref", doc.Ref)
		return nil, common.NewAppError(common.CodeUnsupportedFormat,
			fmt.Sprintf("no adapter for document kind %q", doc.Kind), common.ErrInvalidInput)
	}
	return a.Extract(ctx, doc)
}
