package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// CheckFunc проверяет доступность одной зависимости
type CheckFunc func(ctx context.Context) error

// HealthStatus представляет статус здоровья сервиса
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]Status `json:"services,omitempty"`
	Version   string            `json:"version,omitempty"`
}

// Status представляет статус одной зависимости
type Status struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// Checker агрегирует проверки зависимостей сервиса
type Checker struct {
	mu      sync.RWMutex
	version string
	checks  map[string]CheckFunc
}

// NewChecker создает новый Checker
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		checks:  make(map[string]CheckFunc),
	}
}

// Register добавляет проверку зависимости под именем name
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check выполняет все зарегистрированные проверки
// Отказ любой зависимости переводит общий статус в degraded
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   c.version,
	}
	if len(c.checks) > 0 {
		status.Services = make(map[string]Status, len(c.checks))
	}

	for name, check := range c.checks {
		if err := check(ctx); err != nil {
			status.Status = "degraded"
			status.Services[name] = Status{Status: "unhealthy", Details: err.Error()}
			continue
		}
		status.Services[name] = Status{Status: "healthy"}
	}

	return status
}

// Handler создает HTTP обработчик для health check эндпоинта
func Handler(checker *Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := checker.Check(ctx)

		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(status)
	}
}

// ReadyHandler создает HTTP обработчик для ready check эндпоинта
// Возвращает 200 если сервис готов принимать трафик
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := map[string]string{
			"status": "ready",
		}
		json.NewEncoder(w).Encode(response)
	}
}

// LiveHandler создает HTTP обработчик для live check эндпоинта
// Возвращает 200 если сервис жив
func LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := map[string]string{
			"status": "alive",
		}
		json.NewEncoder(w).Encode(response)
	}
}
