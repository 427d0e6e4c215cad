package redis

import (
	"mailtriage/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds the client used by the webhook deduper and the
// worker-side retry counter.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
