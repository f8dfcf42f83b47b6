package cache

import (
	"context"
	"sync"
	"time"
)

// TenantCache интерфейс кэша разрешенного тенант-контекста
// Кэш внедряется в обработчик явно и ускоряет разрешение subject -> activeTenantId
// Попадание может вернуть устаревший activeTenantId в пределах TTL: это
// принятая граница устаревания, а не свойство корректности — решения о
// доступе всегда перечитывают целевой документ
type TenantCache interface {
	Get(ctx context.Context, subject string) (string, bool)
	Set(ctx context.Context, subject, tenantID string)
	Invalidate(ctx context.Context, subject string)
}

// TTLCache реализация TenantCache на карте с ленивым вытеснением по TTL
type TTLCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]ttlEntry
	// now подменяется в тестах
	now func() time.Time
}

type ttlEntry struct {
	tenantID  string
	expiresAt time.Time
}

// NewTTLCache создает кэш с заданным TTL
func NewTTLCache(ttl time.Duration) *TTLCache {
	return &TTLCache{
		ttl:     ttl,
		entries: make(map[string]ttlEntry),
		now:     time.Now,
	}
}

// Get возвращает закэшированный тенант для subject, если запись не истекла
func (c *TTLCache) Get(ctx context.Context, subject string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[subject]
	if !ok {
		return "", false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, subject)
		return "", false
	}
	return entry.tenantID, true
}

// Set сохраняет тенант для subject на время TTL
func (c *TTLCache) Set(ctx context.Context, subject, tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[subject] = ttlEntry{
		tenantID:  tenantID,
		expiresAt: c.now().Add(c.ttl),
	}
}

// Invalidate удаляет запись для subject
func (c *TTLCache) Invalidate(ctx context.Context, subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, subject)
}

// Noop кэш-заглушка, всегда промахивается
type Noop struct{}

// NewNoop создает кэш-заглушку
func NewNoop() *Noop { return &Noop{} }

// Get всегда возвращает промах
func (Noop) Get(ctx context.Context, subject string) (string, bool) { return "", false }

// Set ничего не делает
func (Noop) Set(ctx context.Context, subject, tenantID string) {}

// Invalidate ничего не делает
func (Noop) Invalidate(ctx context.Context, subject string) {}
