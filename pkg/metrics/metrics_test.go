package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New("docgateway_test")

	require.NotNil(t, m.OperationCount)
	require.NotNil(t, m.OperationDuration)
	require.NotNil(t, m.BackendRequests)
	require.NotNil(t, m.CacheLookups)
	require.NotNil(t, m.BootstrapCount)
	require.NotNil(t, m.Tracer)
}

func TestNew_RepeatedRegistrationTolerated(t *testing.T) {
	// Повторная регистрация тех же коллекторов не должна паниковать
	assert.NotPanics(t, func() {
		New("docgateway_test")
		New("docgateway_test")
	})
}

func TestObserveOperation(t *testing.T) {
	m := New("docgateway_test")

	assert.NotPanics(t, func() {
		m.ObserveOperation("users", "get", "ok", time.Now())
		m.ObserveOperation("tenants", "update", "CONFLICT", time.Now().Add(-time.Second))
	})
}

func TestStartSpan(t *testing.T) {
	m := New("docgateway_test")

	ctx, span := m.StartSpan(context.Background(), "users", "get")
	require.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestHandler(t *testing.T) {
	m := New("docgateway_test")
	require.NotNil(t, m.Handler())
}

func TestInitTracerProvider(t *testing.T) {
	tp, err := InitTracerProvider("docgateway_test")
	require.NoError(t, err)
	require.NotNil(t, tp)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, tp.Shutdown(ctx))
}
