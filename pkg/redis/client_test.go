package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig_Defaults(t *testing.T) {
	config := NewConfig()

	assert.Equal(t, "localhost:6379", config.Addr)
	assert.Equal(t, 0, config.DB)
	assert.Equal(t, 10, config.PoolSize)
	assert.Equal(t, 2, config.MinIdleConn)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, time.Second, config.RetryInterval)
}

func TestHealthCheck_NotInitialized(t *testing.T) {
	client := &Client{}

	err := client.HealthCheck(context.Background())
	assert.Error(t, err)
}

func TestClose_NilClient(t *testing.T) {
	client := &Client{}
	assert.NoError(t, client.Close())
}

func TestConnect_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	config := NewConfig()
	config.Addr = "127.0.0.1:1"
	config.MaxRetries = 0

	_, err := Connect(ctx, config)
	assert.Error(t, err)
}

func TestConnect_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	config := NewConfig()
	config.Addr = "127.0.0.1:1"
	config.MaxRetries = 5
	config.RetryInterval = time.Hour

	_, err := Connect(ctx, config)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_CancelledDuringRetryWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	config := NewConfig()
	config.Addr = "127.0.0.1:1"
	config.MaxRetries = 3
	config.RetryInterval = time.Hour

	start := time.Now()
	_, err := Connect(ctx, config)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
