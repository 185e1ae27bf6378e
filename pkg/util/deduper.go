package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SETNX 的短期去重
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// FormatEditKey 状态编辑的去重 key
// rowID 是持久化 id（detail id 优先），与列表下标无关
func FormatEditKey(projectID, rowID int64, status string) string {
	return fmt.Sprintf("dedup:status:%d:%d:%s", projectID, rowID, status)
}

// AcquireOnce returns true if this is the first time key is seen within ttl.
// Redis 不可用时不阻止处理，返回 true
func (d *Deduper) AcquireOnce(ctx context.Context, key string) bool {
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated request", zap.String("dedup_key", key))
	}
	return ok
}

// Release 删除 key，让失败的请求可以立即重试
func (d *Deduper) Release(ctx context.Context, key string) {
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("Failed to release dedup key", zap.String("dedup_key", key), zap.Error(err))
	}
}
