package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenStore(context.Background(), common.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"}, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func newJob(prio constants.Priority, at time.Time) *entity.ProcessingJob {
	return &entity.ProcessingJob{
		ID:           uuid.New(),
		DocumentRef:  "file:///inbox/" + string(prio) + ".pdf",
		Kind:         constants.KindPDF,
		SizeBytes:    1024,
		Priority:     prio,
		Status:       constants.JobStatusQueued,
		MaxAttempts:  3,
		ScheduledFor: at,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

func TestJobRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		j := newJob(constants.PriorityHigh, base)
		require.NoError(t, s.CreateJob(ctx, j))

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, j.DocumentRef, got.DocumentRef)
		assert.Equal(t, constants.KindPDF, got.Kind)
		assert.Equal(t, constants.PriorityHigh, got.Priority)
		assert.Equal(t, constants.JobStatusQueued, got.Status)
		assert.Equal(t, int64(1024), got.SizeBytes)
		assert.Equal(t, int64(1), got.Version)
		assert.True(t, base.Equal(got.ScheduledFor))
		assert.Nil(t, got.LastError)

		_, err = s.GetJob(ctx, uuid.New())
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})
}

func TestMutateJob(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		j := newJob(constants.PriorityMedium, base)
		require.NoError(t, s.CreateJob(ctx, j))

		updated, err := s.MutateJob(ctx, j.ID, func(j *entity.ProcessingJob) error {
			j.Attempts = 1
			j.Progress = 40
			j.MalformedResponses = 1
			j.LastError = &entity.JobError{Code: common.CodeCapabilityTimeout, Message: "slow"}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), updated.Version)

		got, err := s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, 1, got.MalformedResponses)
		require.NotNil(t, got.LastError)
		assert.Equal(t, common.CodeCapabilityTimeout, got.LastError.Code)
		assert.Equal(t, "slow", got.LastError.Message)

		_, err = s.MutateJob(ctx, j.ID, func(j *entity.ProcessingJob) error {
			j.Progress = 99
			return common.ErrInvalidTransition
		})
		assert.True(t, errors.Is(err, common.ErrInvalidTransition))
		got, err = s.GetJob(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, int64(2), got.Version)

		_, err = s.MutateJob(ctx, uuid.New(), func(*entity.ProcessingJob) error { return nil })
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})
}

func TestClaimDueConcurrentClaimsAreDisjoint(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const total, workers = 50, 8
		for i := 0; i < total; i++ {
			require.NoError(t, s.CreateJob(ctx, newJob(constants.PriorityMedium, base.Add(time.Duration(i)*time.Second))))
		}

		var (
			mu   sync.Mutex
			seen = map[uuid.UUID]int{}
		)
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < workers; w++ {
			g.Go(func() error {
				for {
					got, err := s.ClaimDue(gctx, base.Add(time.Hour), 3)
					if err != nil {
						return err
					}
					if len(got) == 0 {
						return nil
					}
					mu.Lock()
					for _, j := range got {
						seen[j.ID]++
					}
					mu.Unlock()
				}
			})
		}
		require.NoError(t, g.Wait())

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
		}
	})
}

func TestClaimDueOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		low := newJob(constants.PriorityLow, base)
		high := newJob(constants.PriorityHigh, base.Add(time.Second))
		medium := newJob(constants.PriorityMedium, base)
		future := newJob(constants.PriorityHigh, base.Add(time.Hour))
		for _, j := range []*entity.ProcessingJob{low, high, medium, future} {
			require.NoError(t, s.CreateJob(ctx, j))
		}
		now := base.Add(2 * time.Second)

		first, err := s.ClaimDue(ctx, now, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, high.ID, first[0].ID)
		assert.Equal(t, medium.ID, first[1].ID)
		for _, j := range first {
			assert.Equal(t, constants.JobStatusProcessing, j.Status)
			assert.Equal(t, int64(2), j.Version)
		}

		second, err := s.ClaimDue(ctx, now, 5)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, low.ID, second[0].ID)

		none, err := s.ClaimDue(ctx, now, 5)
		require.NoError(t, err)
		assert.Empty(t, none)

		later, err := s.ClaimDue(ctx, base.Add(2*time.Hour), 5)
		require.NoError(t, err)
		require.Len(t, later, 1)
		assert.Equal(t, future.ID, later[0].ID)
	})
}

func TestListJobs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := newJob(constants.PriorityLow, base)
		b := newJob(constants.PriorityLow, base.Add(time.Minute))
		require.NoError(t, s.CreateJob(ctx, a))
		require.NoError(t, s.CreateJob(ctx, b))
		_, err := s.MutateJob(ctx, a.ID, func(j *entity.ProcessingJob) error {
			j.Status = constants.JobStatusCanceled
			return nil
		})
		require.NoError(t, err)

		all, err := s.ListJobs(ctx, JobFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, b.ID, all[0].ID, "newest first")

		queued, err := s.ListJobs(ctx, JobFilter{Statuses: []constants.JobStatus{constants.JobStatusQueued}})
		require.NoError(t, err)
		require.Len(t, queued, 1)
		assert.Equal(t, b.ID, queued[0].ID)

		limited, err := s.ListJobs(ctx, JobFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})
}

func sampleRecord() *entity.NormalizedRecord {
	title := "Green Fund"
	return &entity.NormalizedRecord{
		ID:          uuid.New(),
		JobID:       uuid.New(),
		DocumentRef: "file:///inbox/green.pdf",
		Fields: map[string]entity.Field{
			"title":  {Name: "title", Value: entity.Value{Type: entity.FieldString, Text: &title}, Confidence: 0.9},
			"region": {Name: "region", Value: entity.Value{Type: entity.FieldStringArray, Strings: []string{}}},
		},
	}
}

func TestRecordUpsertVersions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rec := sampleRecord()

		v1, err := s.UpsertRecord(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1.Version)

		v2, err := s.UpsertRecord(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v2.Version)

		got, err := s.GetRecord(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		require.NotNil(t, got.Fields["region"].Value.Strings, "empty arrays stay materialized")
		assert.Empty(t, got.Fields["region"].Value.Strings)
		assert.Equal(t, "Green Fund", *got.Fields["title"].Value.Text)

		_, err = s.GetRecord(ctx, uuid.New())
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})
}

func TestQAAndAdminFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		flagged, clean, unchecked := sampleRecord(), sampleRecord(), sampleRecord()
		for _, r := range []*entity.NormalizedRecord{flagged, clean, unchecked} {
			_, err := s.UpsertRecord(ctx, r)
			require.NoError(t, err)
		}
		require.NoError(t, s.UpsertQA(ctx, &entity.QAResult{
			RecordID: flagged.ID, RecordVersion: 1, Completeness: 0.5, AdminRequired: true,
			MissingFields: []string{"deadline"}, ComputedAt: base,
		}))
		require.NoError(t, s.UpsertQA(ctx, &entity.QAResult{RecordID: clean.ID, RecordVersion: 1, Completeness: 1, ComputedAt: base}))

		qa, err := s.GetQA(ctx, flagged.ID)
		require.NoError(t, err)
		assert.True(t, qa.AdminRequired)
		assert.Equal(t, []string{"deadline"}, qa.MissingFields)
		assert.NotNil(t, qa.Conflicts)

		yes := true
		admin, err := s.ListRecords(ctx, RecordFilter{AdminRequired: &yes})
		require.NoError(t, err)
		require.Len(t, admin, 1)
		assert.Equal(t, flagged.ID, admin[0].ID)

		all, err := s.ListRecords(ctx, RecordFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		_, err = s.GetQA(ctx, unchecked.ID)
		assert.True(t, errors.Is(err, common.ErrNotFound))
	})
}

func TestScoreCache(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rid := uuid.New()
		require.NoError(t, s.PutScore(ctx, &entity.EligibilityScore{
			ProfileID: "acme", RecordID: rid, RecordVersion: 2, Score: 0.7, Band: entity.BandNeedsAction, ComputedAt: base,
		}))

		got, ok, err := s.GetScore(ctx, "acme", rid, 2)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 0.7, got.Score)

		_, ok, err = s.GetScore(ctx, "acme", rid, 3)
		require.NoError(t, err)
		assert.False(t, ok, "stale version is a miss")

		_, ok, err = s.GetScore(ctx, "other", rid, 2)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestExtractionSaveIsIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		res := &entity.ExtractionResult{
			ID:          uuid.New(),
			JobID:       uuid.New(),
			DocumentRef: "file:///inbox/a.txt",
			Kind:        constants.KindText,
			Adapter:     "text",
			Fields:      map[string]any{"title": "A"},
			Confidence:  0.8,
			CreatedAt:   base,
		}
		require.NoError(t, s.SaveExtraction(ctx, res))
		res2 := *res
		res2.Adapter = "changed"
		require.NoError(t, s.SaveExtraction(ctx, &res2))

		got, err := s.GetExtraction(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, "text", got.Adapter)
		assert.Equal(t, "A", got.Fields["title"])
	})
}
