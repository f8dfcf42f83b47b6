package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLCache_SetGet(t *testing.T) {
	c := NewTTLCache(5 * time.Minute)
	ctx := context.Background()

	_, ok := c.Get(ctx, "alice")
	assert.False(t, ok)

	c.Set(ctx, "alice", "tenant_1")
	tenantID, ok := c.Get(ctx, "alice")
	assert.True(t, ok)
	assert.Equal(t, "tenant_1", tenantID)
}

func TestTTLCache_Expiry(t *testing.T) {
	c := NewTTLCache(time.Minute)
	current := time.Now()
	c.now = func() time.Time { return current }
	ctx := context.Background()

	c.Set(ctx, "alice", "tenant_1")

	current = current.Add(30 * time.Second)
	_, ok := c.Get(ctx, "alice")
	assert.True(t, ok)

	current = current.Add(31 * time.Second)
	_, ok = c.Get(ctx, "alice")
	assert.False(t, ok)
}

func TestTTLCache_Invalidate(t *testing.T) {
	c := NewTTLCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, "alice", "tenant_1")
	c.Invalidate(ctx, "alice")

	_, ok := c.Get(ctx, "alice")
	assert.False(t, ok)
}

func TestTTLCache_Overwrite(t *testing.T) {
	c := NewTTLCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, "alice", "tenant_1")
	c.Set(ctx, "alice", "tenant_2")

	tenantID, ok := c.Get(ctx, "alice")
	assert.True(t, ok)
	assert.Equal(t, "tenant_2", tenantID)
}

func TestNoop(t *testing.T) {
	c := NewNoop()
	ctx := context.Background()

	c.Set(ctx, "alice", "tenant_1")
	_, ok := c.Get(ctx, "alice")
	assert.False(t, ok)
	c.Invalidate(ctx, "alice")
}
