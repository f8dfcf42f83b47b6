package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"VirtualDocGateway/pkg/logger"
)

// RedisCache реализация TenantCache поверх Redis
// Используется, когда шлюз работает в нескольких экземплярах и локальный
// TTL-кэш дает слишком много промахов; TTL обеспечивает сам Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewRedisCache создает кэш тенант-контекста поверх Redis
func NewRedisCache(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, logger: log}
}

// cacheKey строит ключ записи для subject
func cacheKey(subject string) string {
	return fmt.Sprintf("tenantctx:%s", subject)
}

// Get возвращает закэшированный тенант для subject
// Ошибки Redis трактуются как промах: кэш не должен ронять запрос
func (c *RedisCache) Get(ctx context.Context, subject string) (string, bool) {
	tenantID, err := c.client.Get(ctx, cacheKey(subject)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("tenant cache read failed", logger.Error(err))
		}
		return "", false
	}
	return tenantID, true
}

// Set сохраняет тенант для subject на время TTL
func (c *RedisCache) Set(ctx context.Context, subject, tenantID string) {
	if err := c.client.Set(ctx, cacheKey(subject), tenantID, c.ttl).Err(); err != nil {
		c.logger.Warn("tenant cache write failed", logger.Error(err))
	}
}

// Invalidate удаляет запись для subject
func (c *RedisCache) Invalidate(ctx context.Context, subject string) {
	if err := c.client.Del(ctx, cacheKey(subject)).Err(); err != nil {
		c.logger.Warn("tenant cache invalidate failed", logger.Error(err))
	}
}
