// Package repository is the record store: the source of truth for jobs,
// extraction results, normalized records, QA results and cached eligibility
// scores. Writes are idempotent on identity.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Statuses []constants.JobStatus
	Limit    int
}

// RecordFilter narrows ListRecords. AdminRequired filters on the stored QA
// result; records without one never match a non-nil filter.
type RecordFilter struct {
	AdminRequired *bool
	Limit         int
}

// JobStore persists processing jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job *entity.ProcessingJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error)
	ListJobs(ctx context.Context, f JobFilter) ([]*entity.ProcessingJob, error)

	// MutateJob loads the job, applies fn and writes it back in one
	// transaction. Version and UpdatedAt are bumped by the store. If fn
	// returns an error nothing is written and the error is returned as is.
	MutateJob(ctx context.Context, id uuid.UUID, fn func(j *entity.ProcessingJob) error) (*entity.ProcessingJob, error)

	// ClaimDue moves up to limit queued jobs with ScheduledFor <= now to
	// processing, highest priority first, then oldest schedule first.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entity.ProcessingJob, error)
}

// RecordStore persists pipeline outputs.
type RecordStore interface {
	SaveExtraction(ctx context.Context, res *entity.ExtractionResult) error
	GetExtraction(ctx context.Context, id uuid.UUID) (*entity.ExtractionResult, error)

	// UpsertRecord inserts or replaces the record with the same ID. The
	// stored version starts at 1 and grows by one on every replace; the
	// stored copy is returned.
	UpsertRecord(ctx context.Context, rec *entity.NormalizedRecord) (*entity.NormalizedRecord, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error)
	ListRecords(ctx context.Context, f RecordFilter) ([]*entity.NormalizedRecord, error)

	UpsertQA(ctx context.Context, qa *entity.QAResult) error
	GetQA(ctx context.Context, recordID uuid.UUID) (*entity.QAResult, error)
}

// ScoreCache keeps computed eligibility scores. A cached score is only
// returned for the record version it was computed on.
type ScoreCache interface {
	GetScore(ctx context.Context, profileID string, recordID uuid.UUID, version int64) (*entity.EligibilityScore, bool, error)
	PutScore(ctx context.Context, s *entity.EligibilityScore) error
}

// Store is everything the pipeline persists.
type Store interface {
	JobStore
	RecordStore
	ScoreCache
	Close() error
}
