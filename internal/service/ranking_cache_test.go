package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

func countingBuild(calls *int, classID string, bimester int) func() *models.ClassRanking {
	return func() *models.ClassRanking {
		*calls++
		return &models.ClassRanking{ClassID: classID, Bimester: bimester, Entries: []models.RankingEntry{{StudentID: "s1", Rank: 1}}}
	}
}

func TestRankingCacheFetchBuildsOnceUntilInvalidated(t *testing.T) {
	store := newFakeRankingStore()
	metrics := NewMetricsService()
	rankings := NewRankingCache(store, metrics, time.Minute, nil, true)
	ctx := context.Background()
	calls := 0

	ranking, hit := rankings.Fetch(ctx, "c1", 2, countingBuild(&calls, "c1", 2))
	require.NotNil(t, ranking)
	assert.False(t, hit)
	assert.Contains(t, store.data, rankingSlot("c1", 2))

	ranking, hit = rankings.Fetch(ctx, "c1", 2, countingBuild(&calls, "c1", 2))
	assert.True(t, hit)
	assert.Equal(t, "s1", ranking.Entries[0].StudentID)
	assert.Equal(t, 1, calls)

	rankings.InvalidateClasses(ctx, "c1")
	_, hit = rankings.Fetch(ctx, "c1", 2, countingBuild(&calls, "c1", 2))
	assert.False(t, hit)
	assert.Equal(t, 2, calls)

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(2), snapshot.CacheMisses)
}

func TestRankingCacheDegradesOnStoreError(t *testing.T) {
	store := newFakeRankingStore()
	store.err = errors.New("redis down")
	rankings := NewRankingCache(store, nil, time.Minute, nil, true)
	calls := 0

	for i := 0; i < 2; i++ {
		ranking, hit := rankings.Fetch(context.Background(), "c1", 1, countingBuild(&calls, "c1", 1))
		require.NotNil(t, ranking)
		assert.False(t, hit)
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestRankingCacheDisabledSkipsStore(t *testing.T) {
	store := newFakeRankingStore()
	rankings := NewRankingCache(store, nil, 0, nil, false)
	ctx := context.Background()
	calls := 0

	assert.False(t, rankings.Enabled())
	_, hit := rankings.Fetch(ctx, "c1", 1, countingBuild(&calls, "c1", 1))
	assert.False(t, hit)
	rankings.InvalidateClasses(ctx, "c1")
	rankings.InvalidateAll(ctx)

	assert.Empty(t, store.data)
	assert.Empty(t, store.dropped)
	assert.Zero(t, store.droppedAll)

	var unset *RankingCache
	assert.False(t, unset.Enabled())
	assert.Equal(t, defaultRankingTTL, NewRankingCache(nil, nil, 0, nil, true).ttl)
}
