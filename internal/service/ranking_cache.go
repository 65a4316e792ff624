package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
)

const defaultRankingTTL = 5 * time.Minute

// RankingStore persists computed class rankings.
type RankingStore interface {
	Get(ctx context.Context, classID string, bimester int, dest *models.ClassRanking) (bool, error)
	Put(ctx context.Context, ranking *models.ClassRanking, ttl time.Duration) error
	DropClasses(ctx context.Context, classIDs ...string) error
	DropAll(ctx context.Context) error
}

// RankingCache is a read-through cache of class rankings. Store failures degrade to a
// recomputation and are only logged.
type RankingCache struct {
	store   RankingStore
	metrics *MetricsService
	ttl     time.Duration
	logger  *zap.Logger
	enabled bool
}

// NewRankingCache constructs a RankingCache. A nil store disables caching.
func NewRankingCache(store RankingStore, metrics *MetricsService, ttl time.Duration, logger *zap.Logger, enabled bool) *RankingCache {
	if ttl <= 0 {
		ttl = defaultRankingTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingCache{store: store, metrics: metrics, ttl: ttl, logger: logger, enabled: enabled}
}

// Enabled reports whether rankings are cached at all.
func (c *RankingCache) Enabled() bool {
	return c != nil && c.enabled && c.store != nil
}

// Fetch returns the cached ranking of classID for bimester, or computes it with build and
// caches the result. hit is true only when build was not called.
func (c *RankingCache) Fetch(ctx context.Context, classID string, bimester int, build func() *models.ClassRanking) (ranking *models.ClassRanking, hit bool) {
	if !c.Enabled() {
		return build(), false
	}
	start := time.Now()
	var cached models.ClassRanking
	found, err := c.store.Get(ctx, classID, bimester, &cached)
	c.metrics.RecordCacheOperation(found, time.Since(start))
	if err != nil {
		c.logger.Warn("ranking cache read failed",
			zap.String("class_id", classID),
			zap.Int("bimester", bimester),
			zap.Error(err))
	}
	if found {
		return &cached, true
	}

	ranking = build()
	start = time.Now()
	if err := c.store.Put(ctx, ranking, c.ttl); err != nil {
		c.logger.Warn("ranking cache write failed", zap.String("class_id", classID), zap.Error(err))
	}
	c.metrics.ObserveCacheWrite(time.Since(start))
	return ranking, false
}

// InvalidateClasses drops the cached rankings of every bimester of the given classes.
func (c *RankingCache) InvalidateClasses(ctx context.Context, classIDs ...string) {
	if !c.Enabled() || len(classIDs) == 0 {
		return
	}
	if err := c.store.DropClasses(ctx, classIDs...); err != nil {
		c.logger.Warn("ranking cache invalidation failed", zap.Strings("class_ids", classIDs), zap.Error(err))
	}
}

// InvalidateAll drops every cached ranking, e.g. after the whole state was replaced.
func (c *RankingCache) InvalidateAll(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if err := c.store.DropAll(ctx); err != nil {
		c.logger.Warn("ranking cache flush failed", zap.Error(err))
	}
}
