package eligibility

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

// Records is the part of the record store scoring reads from.
type Records interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error)
	ListRecords(ctx context.Context, f repository.RecordFilter) ([]*entity.NormalizedRecord, error)
}

// Service scores stored records and caches the results per record version.
type Service struct {
	scorer  *Scorer
	records Records
	cache   repository.ScoreCache
	log     *slog.Logger
}

// NewService wires a scorer to the store. cache may be nil.
func NewService(scorer *Scorer, records Records, cache repository.ScoreCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{scorer: scorer, records: records, cache: cache, log: logger}
}

// ScoreRecord scores one stored record. A cached score is reused only when
// it was computed for the same profile contents and record version.
func (s *Service) ScoreRecord(ctx context.Context, profile entity.ApplicantProfile, recordID uuid.UUID) (*entity.EligibilityScore, error) {
	rec, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return s.score(ctx, profile, rec), nil
}

// Rank scores up to limit stored records (0 means all) and returns the
// ready and needs-action sets.
func (s *Service) Rank(ctx context.Context, profile entity.ApplicantProfile, limit int) (Ranked, error) {
	recs, err := s.records.ListRecords(ctx, repository.RecordFilter{Limit: limit})
	if err != nil {
		return Ranked{}, err
	}
	out := Ranked{Ready: []*entity.EligibilityScore{}, NeedsAction: []*entity.EligibilityScore{}}
	for _, r := range recs {
		sc := s.score(ctx, profile, r)
		switch sc.Band {
		case entity.BandReady:
			out.Ready = append(out.Ready, sc)
		case entity.BandNeedsAction:
			out.NeedsAction = append(out.NeedsAction, sc)
		}
	}
	sortScores(out.Ready)
	sortScores(out.NeedsAction)
	return out, nil
}

func (s *Service) score(ctx context.Context, profile entity.ApplicantProfile, rec *entity.NormalizedRecord) *entity.EligibilityScore {
	if s.cache == nil || profile.ID == "" {
		return s.scorer.Score(profile, rec)
	}
	key := cacheKey(profile)
	if hit, ok, err := s.cache.GetScore(ctx, key, rec.ID, rec.Version); err != nil {
		s.log.Warn("eligibility.cache_read_failed", "record_id", rec.ID, "err", err)
	} else if ok {
		hit.ProfileID = profile.ID
		return hit
	}

	sc := s.scorer.Score(profile, rec)
	stored := *sc
	stored.ProfileID = key
	if err := s.cache.PutScore(ctx, &stored); err != nil {
		s.log.Warn("eligibility.cache_write_failed", "record_id", rec.ID, "err", err)
	}
	return sc
}

// cacheKey ties cached scores to the profile contents, so editing a profile
// under the same ID never serves a stale score.
func cacheKey(p entity.ApplicantProfile) string {
	b, _ := json.Marshal(p)
	sum := sha1.Sum(b)
	return p.ID + "@" + hex.EncodeToString(sum[:6])
}
