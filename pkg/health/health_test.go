package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_NoChecks(t *testing.T) {
	checker := NewChecker("1.0.0")

	status := checker.Check(context.Background())

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.0.0", status.Version)
	assert.Empty(t, status.Services)
}

func TestChecker_AllHealthy(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.Register("postgres", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error { return nil })

	status := checker.Check(context.Background())

	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Services["postgres"].Status)
	assert.Equal(t, "healthy", status.Services["redis"].Status)
}

func TestChecker_DependencyFailure(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.Register("postgres", func(ctx context.Context) error { return nil })
	checker.Register("redis", func(ctx context.Context) error {
		return fmt.Errorf("connection refused")
	})

	status := checker.Check(context.Background())

	assert.Equal(t, "degraded", status.Status)
	assert.Equal(t, "unhealthy", status.Services["redis"].Status)
	assert.Equal(t, "connection refused", status.Services["redis"].Details)
	assert.Equal(t, "healthy", status.Services["postgres"].Status)
}

func TestHandler_Healthy(t *testing.T) {
	checker := NewChecker("1.0.0")

	rec := httptest.NewRecorder()
	Handler(checker)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
}

func TestHandler_Degraded(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.Register("backend", func(ctx context.Context) error {
		return fmt.Errorf("unreachable")
	})

	rec := httptest.NewRecorder()
	Handler(checker)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyAndLiveHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
