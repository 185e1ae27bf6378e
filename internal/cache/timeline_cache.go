package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"timelineboard/internal/model"
	"timelineboard/pkg/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// TimelineCache 按 (project, query) 缓存后端返回的时间线记录
// Redis 故障只记日志，调用方按未命中处理
type TimelineCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewTimelineCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *TimelineCache {
	return &TimelineCache{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func entryKey(projectID int64, queryKey string) string {
	return fmt.Sprintf("timeline:%d:%s", projectID, queryKey)
}

// indexKey 记录某个项目下所有缓存 key，用于整体失效
func indexKey(projectID int64) string {
	return fmt.Sprintf("timeline:%d:keys", projectID)
}

// Get 命中返回 (records, true)
func (c *TimelineCache) Get(ctx context.Context, projectID int64, queryKey string) ([]model.TimelineRecord, bool) {
	data, err := c.rdb.Get(ctx, entryKey(projectID, queryKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.IncrementTimelineCache("miss")
		return nil, false
	}
	if err != nil {
		metrics.IncrementTimelineCache("error")
		c.logger.Warn("Timeline cache read failed",
			zap.Int64("project_id", projectID),
			zap.Error(err),
		)
		return nil, false
	}

	var records []model.TimelineRecord
	if err := json.Unmarshal(data, &records); err != nil {
		metrics.IncrementTimelineCache("error")
		c.logger.Warn("Timeline cache entry corrupted, dropping",
			zap.Int64("project_id", projectID),
			zap.Error(err),
		)
		_ = c.rdb.Del(ctx, entryKey(projectID, queryKey)).Err()
		return nil, false
	}

	metrics.IncrementTimelineCache("hit")
	return records, true
}

// Set 写入缓存并登记到项目索引
func (c *TimelineCache) Set(ctx context.Context, projectID int64, queryKey string, records []model.TimelineRecord) {
	data, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("Failed to encode timeline cache entry", zap.Error(err))
		return
	}

	key := entryKey(projectID, queryKey)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, c.ttl)
		pipe.SAdd(ctx, indexKey(projectID), key)
		pipe.Expire(ctx, indexKey(projectID), c.ttl*2)
		return nil
	})
	if err != nil {
		c.logger.Warn("Timeline cache write failed",
			zap.Int64("project_id", projectID),
			zap.Error(err),
		)
	}
}

// InvalidateProject 删除项目的全部缓存
func (c *TimelineCache) InvalidateProject(ctx context.Context, projectID int64) {
	idx := indexKey(projectID)
	keys, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		c.logger.Warn("Timeline cache invalidation failed",
			zap.Int64("project_id", projectID),
			zap.Error(err),
		)
		return
	}

	keys = append(keys, idx)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("Timeline cache invalidation failed",
			zap.Int64("project_id", projectID),
			zap.Error(err),
		)
		return
	}
	metrics.IncrementTimelineCache("invalidate")
}
