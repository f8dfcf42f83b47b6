package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter интерфейс для ограничения частоты запросов
type RateLimiter interface {
	// CheckRateLimit проверяет лимит для заданного ключа
	// Возвращает true, если лимит превышен
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RedisRateLimiter реализация RateLimiter с использованием Redis
// Счетчик на ключ с TTL окна; используется при работе в нескольких экземплярах
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter создает новый экземпляр RedisRateLimiter
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// CheckRateLimit проверяет, не превышен ли лимит запросов для заданного ключа
// Алгоритм:
// 1. Получение текущего счетчика из Redis
// 2. Если счетчик >= лимит → возвращает true
// 3. Увеличение счетчика (INCR) и установка TTL
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	redisKey := fmt.Sprintf("rate_limit:%s", key)

	current, err := r.client.Get(ctx, redisKey).Int64()
	if err != nil && err != redis.Nil {
		return true, fmt.Errorf("failed to get rate limit counter: %w", err)
	}

	if int(current) >= limit {
		return true, nil
	}

	// Увеличиваем счетчик и устанавливаем TTL атомарно
	tx := r.client.TxPipeline()
	tx.Incr(ctx, redisKey)
	tx.Expire(ctx, redisKey, window)
	if _, err := tx.Exec(ctx); err != nil {
		return true, fmt.Errorf("failed to execute rate limit transaction: %w", err)
	}

	return false, nil
}

// MemoryRateLimiter реализация RateLimiter в памяти процесса
// Используется, когда Redis не сконфигурирован
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	// now подменяется в тестах
	now func() time.Time
}

type window struct {
	count   int
	resetAt time.Time
}

// NewMemoryRateLimiter создает новый экземпляр MemoryRateLimiter
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// CheckRateLimit проверяет, не превышен ли лимит запросов для заданного ключа
func (m *MemoryRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, windowSize time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.After(w.resetAt) {
		m.windows[key] = &window{count: 1, resetAt: now.Add(windowSize)}
		return false, nil
	}

	if w.count >= limit {
		return true, nil
	}
	w.count++
	return false, nil
}
