package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/lxc-ledger-api/internal/models"
	"github.com/noah-isme/lxc-ledger-api/pkg/cache"
)

const rankingScanBatch = 200

// RankingCacheRepository keeps class rankings in Redis. Each class owns one hash with a
// field per bimester, so dropping a class is a single DEL.
type RankingCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRankingCacheRepository constructs a RankingCacheRepository. A nil client behaves as
// an always-empty cache.
func NewRankingCacheRepository(client *redis.Client, logger *zap.Logger) *RankingCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingCacheRepository{client: client, logger: logger}
}

func rankingHashKey(classID string) string {
	return cache.Key("ranking", classID)
}

func rankingField(bimester int) string {
	return "b" + strconv.Itoa(bimester)
}

// Get loads the ranking of classID for bimester into dest and reports whether it was cached.
func (r *RankingCacheRepository) Get(ctx context.Context, classID string, bimester int, dest *models.ClassRanking) (bool, error) {
	if r.client == nil {
		return false, nil
	}
	raw, err := r.client.HGet(ctx, rankingHashKey(classID), rankingField(bimester)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis hget ranking %s/%d: %w", classID, bimester, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode ranking %s/%d: %w", classID, bimester, err)
	}
	return true, nil
}

// Put stores ranking under its class and refreshes the hash expiry.
func (r *RankingCacheRepository) Put(ctx context.Context, ranking *models.ClassRanking, ttl time.Duration) error {
	if r.client == nil || ranking == nil {
		return nil
	}
	payload, err := json.Marshal(ranking)
	if err != nil {
		return fmt.Errorf("encode ranking %s/%d: %w", ranking.ClassID, ranking.Bimester, err)
	}
	key := rankingHashKey(ranking.ClassID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, rankingField(ranking.Bimester), payload)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store ranking %s/%d: %w", ranking.ClassID, ranking.Bimester, err)
	}
	return nil
}

// DropClasses forgets every cached bimester of the given classes.
func (r *RankingCacheRepository) DropClasses(ctx context.Context, classIDs ...string) error {
	if r.client == nil || len(classIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(classIDs))
	for _, id := range classIDs {
		keys = append(keys, rankingHashKey(id))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis drop rankings %v: %w", classIDs, err)
	}
	return nil
}

// DropAll forgets every cached ranking.
func (r *RankingCacheRepository) DropAll(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	pattern := rankingHashKey("*")
	iter := r.client.Scan(ctx, 0, pattern, rankingScanBatch).Iterator()
	batch := make([]string, 0, rankingScanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink rankings: %w", err)
		}
		batch = batch[:0]
		return nil
	}
	dropped := 0
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		dropped++
		if len(batch) == rankingScanBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return err
	}
	r.logger.Debug("rankings dropped", zap.Int("classes", dropped))
	return nil
}
