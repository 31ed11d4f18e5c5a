// Package pipeline runs one claimed job through extraction, normalization
// and QA, persisting each stage's output before moving on.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/extract"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/jobs"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/metrics"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/qa"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

// Extractor turns a document into raw candidate fields.
type Extractor interface {
	Extract(ctx context.Context, doc extract.Document) (*entity.ExtractionResult, error)
}

// Progress reported after each stage.
const (
	progressExtracted  = 60
	progressNormalized = 80
	progressValidated  = 95
)

// Processor coordinates extraction, normalization and QA for one job.
type Processor struct {
	Logger     *slog.Logger
	Extractor  Extractor
	Normalizer *normalize.Normalizer
	Validator  *qa.Validator
	Store      repository.RecordStore
}

var _ jobs.Runner = (*Processor)(nil)

func NewProcessor(logger *slog.Logger, ex Extractor, n *normalize.Normalizer, v *qa.Validator, store repository.RecordStore) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, Extractor: ex, Normalizer: n, Validator: v, Store: store}
}

// Run implements jobs.Runner. The result reference is the record ID.
func (p *Processor) Run(ctx context.Context, job *entity.ProcessingJob, cp jobs.Checkpoint) (string, error) {
	log := p.Logger.With("job_id", job.ID, "ref", job.DocumentRef)

	// 1) extract → raw fields + blocks, persisted as an immutable result
	res, err := p.extract(ctx, job)
	if err != nil {
		log.Error("pipeline.extract.failed", "err", err)
		return "", err
	}
	log.Info("pipeline.extract.ok", "adapter", res.Adapter, "fields", len(res.Fields),
		"blocks", len(res.Blocks), "confidence", res.Confidence)
	cp.Progress(ctx, progressExtracted)
	if err := cp.Check(ctx); err != nil {
		return "", err
	}

	// 2) normalize → canonical record, upserted by document identity
	rec, err := p.normalize(ctx, res)
	if err != nil {
		log.Error("pipeline.normalize.failed", "err", err)
		return "", err
	}
	log.Info("pipeline.normalize.ok", "record_id", rec.ID, "version", rec.Version)
	cp.Progress(ctx, progressNormalized)
	if err := cp.Check(ctx); err != nil {
		return "", err
	}

	// 3) QA over the stored record version
	result, err := p.validate(ctx, rec)
	if err != nil {
		log.Error("pipeline.qa.failed", "record_id", rec.ID, "err", err)
		return "", err
	}
	log.Info("pipeline.qa.ok",
		"record_id", rec.ID,
		"completeness", result.Completeness,
		"integrity", result.StructuralIntegrity,
		"conflicts", len(result.Conflicts),
		"admin_required", result.AdminRequired)
	cp.Progress(ctx, progressValidated)

	return rec.ID.String(), nil
}

func (p *Processor) extract(ctx context.Context, job *entity.ProcessingJob) (*entity.ExtractionResult, error) {
	defer stage("extract", time.Now())
	res, err := p.Extractor.Extract(ctx, extract.Document{
		JobID:     job.ID,
		Ref:       job.DocumentRef,
		Kind:      job.Kind,
		SizeBytes: job.SizeBytes,
	})
	if err != nil {
		return nil, err
	}
	if err := p.Store.SaveExtraction(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Processor) normalize(ctx context.Context, res *entity.ExtractionResult) (*entity.NormalizedRecord, error) {
	defer stage("normalize", time.Now())
	return p.Store.UpsertRecord(ctx, p.Normalizer.Normalize(res))
}

func (p *Processor) validate(ctx context.Context, rec *entity.NormalizedRecord) (*entity.QAResult, error) {
	defer stage("qa", time.Now())
	result := p.Validator.Validate(rec, p.Normalizer.Schema())
	if err := p.Store.UpsertQA(ctx, result); err != nil {
		return nil, err
	}
	if result.AdminRequired {
		metrics.AdminRequired()
	}
	return result, nil
}

func stage(name string, start time.Time) {
	metrics.ObserveStage(name, time.Since(start).Milliseconds())
}
