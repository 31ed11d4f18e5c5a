package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/repository"
)

func TestServiceCachesPerRecordVersion(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	clock := testNow
	scorer := NewScorer(DefaultConfig(), nil).WithClock(func() time.Time { return clock })
	svc := NewService(scorer, store, store, nil)

	rec, err := store.UpsertRecord(ctx, record("doc://cached", baseFields()))
	require.NoError(t, err)

	first, err := svc.ScoreRecord(ctx, farmer(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "p-1", first.ProfileID)
	assert.Equal(t, rec.Version, first.RecordVersion)

	clock = clock.Add(time.Hour)
	again, err := svc.ScoreRecord(ctx, farmer(), rec.ID)
	require.NoError(t, err)
	assert.True(t, again.ComputedAt.Equal(first.ComputedAt), "served from cache")
	assert.Equal(t, "p-1", again.ProfileID)

	edited := farmer()
	edited.Region = "Normandie"
	other, err := svc.ScoreRecord(ctx, edited, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, other.Score, "edited profile is rescored")

	rec, err = store.UpsertRecord(ctx, record("doc://cached", baseFields()))
	require.NoError(t, err)
	fresh, err := svc.ScoreRecord(ctx, farmer(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fresh.RecordVersion)
	assert.True(t, fresh.ComputedAt.After(first.ComputedAt))
}

func TestServiceRank(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := NewService(newScorer(), store, nil, nil)

	_, err := store.UpsertRecord(ctx, record("doc://ready", baseFields()))
	require.NoError(t, err)
	far := baseFields()
	far["region"] = "Alsace"
	_, err = store.UpsertRecord(ctx, record("doc://elsewhere", far))
	require.NoError(t, err)

	ranked, err := svc.Rank(ctx, farmer(), 0)
	require.NoError(t, err)
	require.Len(t, ranked.Ready, 1)
	assert.Empty(t, ranked.NeedsAction)

	_, err = svc.ScoreRecord(ctx, farmer(), uuid.New())
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
