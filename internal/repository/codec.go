package repository

import (
	"encoding/json"
	"sort"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

func storeWrite(op string, err error) error {
	return common.NewAppError(common.CodeStoreWriteFailure, op, err)
}

func decodeRecord(b []byte) (*entity.NormalizedRecord, error) {
	var r entity.NormalizedRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "decode record", err)
	}
	if r.Fields == nil {
		r.Fields = map[string]entity.Field{}
	}
	r.Materialize()
	return &r, nil
}

func decodeExtraction(b []byte) (*entity.ExtractionResult, error) {
	var r entity.ExtractionResult
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "decode extraction", err)
	}
	return &r, nil
}

func decodeQA(b []byte) (*entity.QAResult, error) {
	var q entity.QAResult
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "decode qa result", err)
	}
	if q.MissingFields == nil {
		q.MissingFields = []string{}
	}
	if q.Conflicts == nil {
		q.Conflicts = []entity.Conflict{}
	}
	return &q, nil
}

func decodeScore(b []byte) (*entity.EligibilityScore, error) {
	var s entity.EligibilityScore
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "decode score", err)
	}
	return &s, nil
}

func hasStatus(list []constants.JobStatus, s constants.JobStatus) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// claimsBefore is the claim order: priority desc, scheduled_for asc, then
// creation order.
func claimsBefore(a, b *entity.ProcessingJob) bool {
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.ScheduledFor.Equal(b.ScheduledFor) {
		return a.ScheduledFor.Before(b.ScheduledFor)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func sortRecords(rs []*entity.NormalizedRecord) {
	sort.Slice(rs, func(a, b int) bool {
		if !rs[a].UpdatedAt.Equal(rs[b].UpdatedAt) {
			return rs[a].UpdatedAt.After(rs[b].UpdatedAt)
		}
		return rs[a].ID.String() < rs[b].ID.String()
	})
}
