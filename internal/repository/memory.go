package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

type scoreKey struct {
	profile string
	record  uuid.UUID
}

// MemoryStore keeps everything in process behind one mutex. Values are
// copied on the way in and out.
type MemoryStore struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*entity.ProcessingJob
	extractions map[uuid.UUID][]byte
	records     map[uuid.UUID][]byte
	qa          map[uuid.UUID][]byte
	scores      map[scoreKey][]byte
	now         func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:        map[uuid.UUID]*entity.ProcessingJob{},
		extractions: map[uuid.UUID][]byte{},
		records:     map[uuid.UUID][]byte{},
		qa:          map[uuid.UUID][]byte{},
		scores:      map[scoreKey][]byte{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) CreateJob(_ context.Context, job *entity.ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, common.ErrConflict)
	}
	c := job.Clone()
	if c.Version == 0 {
		c.Version = 1
	}
	m.jobs[c.ID] = c
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	return j.Clone(), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, f JobFilter) ([]*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.ProcessingJob
	for _, j := range m.jobs {
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, j.Status) {
			continue
		}
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return out[a].ID.String() < out[b].ID.String()
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) MutateJob(_ context.Context, id uuid.UUID, fn func(j *entity.ProcessingJob) error) (*entity.ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	next.UpdatedAt = m.now()
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]*entity.ProcessingJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*entity.ProcessingJob
	for _, j := range m.jobs {
		if j.Status == constants.JobStatusQueued && !j.ScheduledFor.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(a, b int) bool { return claimsBefore(due[a], due[b]) })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]*entity.ProcessingJob, 0, len(due))
	for _, j := range due {
		j.Status = constants.JobStatusProcessing
		j.Version++
		j.UpdatedAt = m.now()
		out = append(out, j.Clone())
	}
	return out, nil
}

func (m *MemoryStore) SaveExtraction(_ context.Context, res *entity.ExtractionResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return storeWrite("encode extraction", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.extractions[res.ID]; !ok {
		m.extractions[res.ID] = b
	}
	return nil
}

func (m *MemoryStore) GetExtraction(_ context.Context, id uuid.UUID) (*entity.ExtractionResult, error) {
	m.mu.Lock()
	b, ok := m.extractions[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("extraction %s: %w", id, common.ErrNotFound)
	}
	return decodeExtraction(b)
}

func (m *MemoryStore) UpsertRecord(_ context.Context, rec *entity.NormalizedRecord) (*entity.NormalizedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *rec
	c.Version = 1
	if prev, ok := m.records[rec.ID]; ok {
		old, err := decodeRecord(prev)
		if err != nil {
			return nil, err
		}
		c.Version = old.Version + 1
	}
	c.UpdatedAt = m.now()
	b, err := json.Marshal(&c)
	if err != nil {
		return nil, storeWrite("encode record", err)
	}
	m.records[c.ID] = b
	return decodeRecord(b)
}

func (m *MemoryStore) GetRecord(_ context.Context, id uuid.UUID) (*entity.NormalizedRecord, error) {
	m.mu.Lock()
	b, ok := m.records[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	return decodeRecord(b)
}

func (m *MemoryStore) ListRecords(_ context.Context, f RecordFilter) ([]*entity.NormalizedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.NormalizedRecord
	for id, b := range m.records {
		if f.AdminRequired != nil {
			qb, ok := m.qa[id]
			if !ok {
				continue
			}
			qa, err := decodeQA(qb)
			if err != nil {
				return nil, err
			}
			if qa.AdminRequired != *f.AdminRequired {
				continue
			}
		}
		rec, err := decodeRecord(b)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sortRecords(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertQA(_ context.Context, qa *entity.QAResult) error {
	b, err := json.Marshal(qa)
	if err != nil {
		return storeWrite("encode qa result", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qa[qa.RecordID] = b
	return nil
}

func (m *MemoryStore) GetQA(_ context.Context, recordID uuid.UUID) (*entity.QAResult, error) {
	m.mu.Lock()
	b, ok := m.qa[recordID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("qa result for %s: %w", recordID, common.ErrNotFound)
	}
	return decodeQA(b)
}

func (m *MemoryStore) GetScore(_ context.Context, profileID string, recordID uuid.UUID, version int64) (*entity.EligibilityScore, bool, error) {
	m.mu.Lock()
	b, ok := m.scores[scoreKey{profileID, recordID}]
	m.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	s, err := decodeScore(b)
	if err != nil {
		return nil, false, err
	}
	if s.RecordVersion != version {
		return nil, false, nil
	}
	return s, true, nil
}

func (m *MemoryStore) PutScore(_ context.Context, s *entity.EligibilityScore) error {
	b, err := json.Marshal(s)
	if err != nil {
		return storeWrite("encode score", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[scoreKey{s.ProfileID, s.RecordID}] = b
	return nil
}
