package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper guards against processing the same message twice: once for
// replayed webhook deliveries on the server side, once for redelivered
// events on the worker side.
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

// AcquireOnce tries to acquire a dedup lock for a given scope + message id.
// Returns true if this is the FIRST time processing, false for a duplicate.
// Redis 不可用时放行（fail-open），宁可重复处理也不丢请求。
func (d *Deduper) AcquireOnce(ctx context.Context, scope, messageID string) bool {
	key := fmt.Sprintf("dedup:%s:%s", scope, messageID)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Redis dedup check failed, allowing processing",
				zap.String("scope", scope),
				zap.String("message_id", messageID),
				zap.Error(err),
			)
		}
		return true
	}

	if !ok && d.logger != nil {
		d.logger.Info("Skipped duplicated message",
			zap.String("scope", scope),
			zap.String("message_id", messageID),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops a previously acquired dedup key so the same message can
// be processed again. Best-effort: on Redis failure the key simply ages
// out with its TTL.
func (d *Deduper) Release(ctx context.Context, scope, messageID string) {
	key := fmt.Sprintf("dedup:%s:%s", scope, messageID)

	if err := d.rdb.Del(ctx, key).Err(); err != nil && d.logger != nil {
		d.logger.Warn("Failed to release dedup key",
			zap.String("scope", scope),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}
}
