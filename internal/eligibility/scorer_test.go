package eligibility

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/normalize"
)

var testNow = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func newScorer() *Scorer {
	return NewScorer(DefaultConfig(), nil).WithClock(func() time.Time { return testNow })
}

func record(ref string, fields map[string]any) *entity.NormalizedRecord {
	return normalize.New(nil, normalize.DayFirst, nil).NormalizeMap(ref, fields)
}

func baseFields() map[string]any {
	return map[string]any{
		"title":               "Green Farm Grant",
		"agency":              "Région Bretagne",
		"region":              "Bretagne, Pays de la Loire",
		"activity_categories": "Agriculture; Agri-food",
		"amount_max":          "jusqu'à 50 000 €",
		"deadline":            "2025-03-15",
	}
}

func farmer() entity.ApplicantProfile {
	return entity.ApplicantProfile{
		ID:                 "p-1",
		Region:             "Bretagne",
		ActivityCategories: []string{"agriculture"},
		Employees:          12,
		RequestedAmount:    30000,
	}
}

func TestScoreReady(t *testing.T) {
	res := newScorer().Score(farmer(), record("doc://a", baseFields()))
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, entity.BandReady, res.Band)
	assert.Empty(t, res.BlockingReasons)
	require.NotNil(t, res.FundingAmount)
	assert.Equal(t, 50000.0, res.FundingAmount.Amount)
	require.NotNil(t, res.Deadline)
	assert.Equal(t, "2025-03-15", *res.Deadline)
}

func TestScoreOutsideRegionIsZero(t *testing.T) {
	p := farmer()
	p.Region = "Occitanie"
	fields := baseFields()
	fields["required_documents"] = "Kbis"
	p.Documents = []string{"Kbis"}

	res := newScorer().Score(p, record("doc://a", fields))
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, entity.BandNotEligible, res.Band)
	require.NotEmpty(t, res.BlockingReasons)
	assert.Equal(t, CriterionRegion, res.BlockingReasons[0].Criterion)
	assert.True(t, res.BlockingReasons[0].Hard)
}

func TestScoreRegionContainingApplicantRegionIsZero(t *testing.T) {
	cases := []struct{ declared, applicant string }{
		{"Northern Ireland", "Ireland"},
		{"Île-de-France", "France"},
		{"Nord", "Nordrhein-Westfalen"},
	}
	for _, c := range cases {
		t.Run(c.declared+"/"+c.applicant, func(t *testing.T) {
			fields := baseFields()
			fields["region"] = c.declared
			p := farmer()
			p.Region = c.applicant

			res := newScorer().Score(p, record("doc://a", fields))
			assert.Equal(t, 0.0, res.Score)
			assert.Equal(t, entity.BandNotEligible, res.Band)
			require.NotEmpty(t, res.BlockingReasons)
			assert.Equal(t, CriterionRegion, res.BlockingReasons[0].Criterion)
		})
	}
}

func TestScoreRegionIgnoresAdministrativePrefix(t *testing.T) {
	fields := baseFields()
	fields["region"] = "Région Bretagne"
	assert.Equal(t, 1.0, newScorer().Score(farmer(), record("doc://a", fields)).Score)
}

func TestLegalEntityMatchesWholeWords(t *testing.T) {
	assert.True(t, wordMatch("Association", "non-profit association"))
	assert.True(t, wordMatch("SME", "sme"))
	assert.False(t, wordMatch("SMEs", "SME"))
	assert.False(t, wordMatch("Cooperative", "co"))
}

func TestScoreNationwideProgramMatchesAnyRegion(t *testing.T) {
	fields := baseFields()
	fields["region"] = "National"
	p := farmer()
	p.Region = "Occitanie"
	assert.Equal(t, 1.0, newScorer().Score(p, record("doc://a", fields)).Score)
}

func TestScoreSoftCriteria(t *testing.T) {
	p := farmer()
	p.ActivityCategories = []string{"software"}
	res := newScorer().Score(p, record("doc://a", baseFields()))
	assert.InDelta(t, 0.5, res.Score, 1e-9)
	assert.Equal(t, entity.BandNeedsAction, res.Band)
	require.Len(t, res.BlockingReasons, 1)
	assert.Equal(t, CriterionSector, res.BlockingReasons[0].Criterion)
	assert.False(t, res.BlockingReasons[0].Hard)
	assert.NotEmpty(t, res.RequiredActions)

	p = farmer()
	p.RequestedAmount = 80000
	p.Employees = 600
	fields := baseFields()
	fields["company_size_max"] = "250"
	res = newScorer().Score(p, record("doc://a", fields))
	assert.InDelta(t, 0.7*0.8, res.Score, 1e-9)
	assert.Len(t, res.BlockingReasons, 2)
}

func TestScoreMissingDocuments(t *testing.T) {
	fields := baseFields()
	fields["required_documents"] = "Kbis, Business plan, RIB"
	p := farmer()
	p.Documents = []string{"kbis"}

	res := newScorer().Score(p, record("doc://a", fields))
	assert.InDelta(t, 0.8, res.Score, 1e-9)
	assert.Contains(t, res.RequiredActions, "Provide document: Business plan")
	assert.Contains(t, res.RequiredActions, "Provide document: RIB")

	docs := make([]string, 12)
	for i := range docs {
		docs[i] = fmt.Sprintf("Annex %d", i+1)
	}
	fields["required_documents"] = strings.Join(docs, "; ")
	res = newScorer().Score(p, record("doc://a", fields))
	assert.Equal(t, 0.0, res.Score)
}

func TestScoreDeadlinePassed(t *testing.T) {
	s := NewScorer(DefaultConfig(), nil).WithClock(func() time.Time {
		return time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	})
	res := s.Score(farmer(), record("doc://a", baseFields()))
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, CriterionDeadline, res.BlockingReasons[0].Criterion)
}

func TestRank(t *testing.T) {
	late := baseFields()
	late["deadline"] = "2025-05-01"
	early := baseFields()
	early["deadline"] = "2025-03-01"
	partial := baseFields()
	partial["activity_categories"] = "Fisheries"
	elsewhere := baseFields()
	elsewhere["region"] = "Corse"

	recs := []*entity.NormalizedRecord{
		record("doc://late", late),
		record("doc://early", early),
		record("doc://partial", partial),
		record("doc://elsewhere", elsewhere),
	}
	ranked := newScorer().Rank(farmer(), recs)

	require.Len(t, ranked.Ready, 2)
	assert.Equal(t, "2025-03-01", *ranked.Ready[0].Deadline)
	assert.Equal(t, "2025-05-01", *ranked.Ready[1].Deadline)
	require.Len(t, ranked.NeedsAction, 1)
	assert.Equal(t, recs[2].ID, ranked.NeedsAction[0].RecordID)
}

func TestBand(t *testing.T) {
	s := newScorer()
	assert.Equal(t, entity.BandReady, s.Band(0.9))
	assert.Equal(t, entity.BandNeedsAction, s.Band(0.3))
	assert.Equal(t, entity.BandNotEligible, s.Band(0.29))
}
