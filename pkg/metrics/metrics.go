package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

// Metrics представляет систему метрик шлюза
type Metrics struct {
	// OperationCount счетчик операций по коллекциям
	OperationCount *prometheus.CounterVec
	// OperationDuration длительность операций
	OperationDuration *prometheus.HistogramVec
	// BackendRequests счетчик запросов к бэкенду хранилища
	BackendRequests *prometheus.CounterVec
	// CacheLookups попадания и промахи кэша тенант-контекста
	CacheLookups *prometheus.CounterVec
	// BootstrapCount счетчик bootstrap-переходов
	BootstrapCount prometheus.Counter

	// Tracer OpenTelemetry трассировщик
	Tracer trace.Tracer
}

// New создает и регистрирует систему метрик
func New(serviceName string) *Metrics {
	operationCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "gateway",
			Name:      "operations_total",
			Help:      "Total number of virtual table operations",
		},
		[]string{"collection", "operation", "status"},
	)

	operationDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Duration of virtual table operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection", "operation"},
	)

	backendRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "backend",
			Name:      "requests_total",
			Help:      "Total number of storage backend requests",
		},
		[]string{"method", "status"},
	)

	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Tenant context cache lookups",
		},
		[]string{"result"},
	)

	bootstrapCount := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "gateway",
			Name:      "bootstraps_total",
			Help:      "Total number of first-contact bootstraps",
		},
	)

	for _, c := range []prometheus.Collector{
		operationCount, operationDuration, backendRequests, cacheLookups, bootstrapCount,
	} {
		if err := prometheus.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &Metrics{
		OperationCount:    operationCount,
		OperationDuration: operationDuration,
		BackendRequests:   backendRequests,
		CacheLookups:      cacheLookups,
		BootstrapCount:    bootstrapCount,
		Tracer:            otel.Tracer(serviceName),
	}
}

// Handler возвращает HTTP обработчик для эндпоинта /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOperation фиксирует исход операции виртуальной таблицы
func (m *Metrics) ObserveOperation(collection, operation, status string, started time.Time) {
	m.OperationCount.WithLabelValues(collection, operation, status).Inc()
	m.OperationDuration.WithLabelValues(collection, operation).Observe(time.Since(started).Seconds())
}

// StartSpan открывает спан операции с атрибутами коллекции
func (m *Metrics) StartSpan(ctx context.Context, collection, operation string) (context.Context, trace.Span) {
	ctx, span := m.Tracer.Start(ctx, "gateway."+operation)
	span.SetAttributes(
		attribute.String("gateway.collection", collection),
		attribute.String("gateway.operation", operation),
	)
	return ctx, span
}

// InitTracerProvider инициализирует глобальный провайдер трассировки
func InitTracerProvider(serviceName string) (*tracesdk.TracerProvider, error) {
	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}
