package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/internal/service"
	"VirtualDocGateway/pkg/errors"
	"VirtualDocGateway/pkg/health"
	"VirtualDocGateway/pkg/logger"
	"VirtualDocGateway/pkg/metrics"
	"VirtualDocGateway/pkg/ratelimit"
)

// заголовки, из которых собираются claims запроса
// Проверка подписи токена выполняется внешним слоем аутентификации,
// сюда subject приходит уже проверенным
const (
	headerSubject    = "X-Auth-Subject"
	headerTenantHint = "X-Auth-Tenant"
)

// Server HTTP-сервер виртуальных таблиц
// Поверхность повторяет REST-соглашение документной базы: клиенты репликации
// продолжают говорить на привычном протоколе, не видя реального хранилища
type Server struct {
	gateway   *service.Gateway
	metrics   *metrics.Metrics
	logger    logger.Logger
	limiter   ratelimit.RateLimiter
	rateLimit int
	http      *http.Server
}

// Config представляет конфигурацию HTTP-сервера
type Config struct {
	Host string
	Port int
	// RequestsPerMinute лимит запросов на subject; 0 отключает ограничение
	RequestsPerMinute int
}

// New создает сервер с настроенными маршрутами
func New(cfg Config, gateway *service.Gateway, checker *health.Checker, limiter ratelimit.RateLimiter, m *metrics.Metrics, log logger.Logger) *Server {
	s := &Server{
		gateway:   gateway,
		metrics:   m,
		logger:    log.Named("http"),
		limiter:   limiter,
		rateLimit: cfg.RequestsPerMinute,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /health", health.Handler(checker))
	mux.Handle("GET /health/ready", health.ReadyHandler())
	mux.Handle("GET /health/live", health.LiveHandler())
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("GET /{db}/_changes", s.withClaims(s.handleChanges))
	mux.HandleFunc("POST /{db}/_bulk_docs", s.withClaims(s.handleBulkDocs))
	mux.HandleFunc("POST /tenants", s.withClaims(s.handleCreateTenant))
	mux.HandleFunc("GET /tenants", s.withClaims(s.handleListTenants))
	mux.HandleFunc("POST /tenants/{docID}/members", s.withClaims(s.handleAddMember))
	mux.HandleFunc("DELETE /tenants/{docID}/members/{memberID}", s.withClaims(s.handleRemoveMember))
	mux.HandleFunc("GET /{db}/{docID}", s.withClaims(s.handleGet))
	mux.HandleFunc("PUT /{db}/{docID}", s.withClaims(s.handlePut))
	mux.HandleFunc("DELETE /{db}/{docID}", s.withClaims(s.handleDelete))

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start запускает сервер и блокируется до его остановки
func (s *Server) Start() error {
	s.logger.Info("starting http server", logger.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// withClaims извлекает claims из заголовков запроса и применяет лимит частоты
func (s *Server) withClaims(next func(http.ResponseWriter, *http.Request, domain.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject := r.Header.Get(headerSubject)
		if subject == "" {
			s.writeError(w, errors.New(errors.ErrForbidden, "request subject is missing"))
			return
		}

		if s.limiter != nil && s.rateLimit > 0 {
			exceeded, err := s.limiter.CheckRateLimit(r.Context(), subject, s.rateLimit, time.Minute)
			if err != nil {
				s.logger.Warn("rate limit check failed", logger.Error(err))
			} else if exceeded {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":  "too_many_requests",
					"reason": "rate limit exceeded",
				})
				return
			}
		}

		next(w, r, domain.Claims{
			Subject:    subject,
			TenantHint: r.Header.Get(headerTenantHint),
		})
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	db := r.PathValue("db")
	docID := r.PathValue("docID")

	switch db {
	case domain.UsersDB:
		user, err := s.gateway.GetUser(r.Context(), claims, docID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, user)
	case domain.TenantsDB:
		tenant, err := s.gateway.GetTenant(r.Context(), claims, docID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tenant)
	default:
		s.writeError(w, errors.New(errors.ErrNotFound, "unknown collection").WithDetails(db))
	}
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	db := r.PathValue("db")
	docID := r.PathValue("docID")

	var patch map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.writeError(w, errors.New(errors.ErrValidation, "request body is not a JSON object"))
		return
	}

	switch db {
	case domain.UsersDB:
		user, err := s.gateway.UpdateUser(r.Context(), claims, docID, patch)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, user)
	case domain.TenantsDB:
		tenant, err := s.gateway.UpdateTenant(r.Context(), claims, docID, patch)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, tenant)
	default:
		s.writeError(w, errors.New(errors.ErrNotFound, "unknown collection").WithDetails(db))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	db := r.PathValue("db")
	docID := r.PathValue("docID")

	var err error
	switch db {
	case domain.UsersDB:
		err = s.gateway.DeleteUser(r.Context(), claims, docID)
	case domain.TenantsDB:
		err = s.gateway.DeleteTenant(r.Context(), claims, docID)
	default:
		err = errors.New(errors.ErrNotFound, "unknown collection").WithDetails(db)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	db := r.PathValue("db")

	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, errors.New(errors.ErrValidation, "invalid since parameter").WithDetails(raw))
			return
		}
		since = parsed
	}

	page, err := s.gateway.Changes(r.Context(), claims, db, since)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// bulkDocRequest представляет один элемент тела _bulk_docs
type bulkDocRequest struct {
	ID      string                 `json:"_id"`
	Deleted bool                   `json:"_deleted,omitempty"`
	Patch   map[string]interface{} `json:"patch"`
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	db := r.PathValue("db")

	var body struct {
		Docs []bulkDocRequest `json:"docs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.New(errors.ErrValidation, "request body is not a valid bulk request"))
		return
	}

	ops := make([]service.BulkOp, len(body.Docs))
	for i, doc := range body.Docs {
		ops[i] = service.BulkOp{ID: doc.ID, Patch: doc.Patch, Delete: doc.Deleted}
	}

	results, err := s.gateway.BulkWrite(r.Context(), claims, db, ops)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]map[string]interface{}, len(results))
	for i, res := range results {
		row := map[string]interface{}{"id": res.ID}
		if res.Err != nil {
			row["error"] = string(res.Err.Code)
			row["reason"] = res.Err.Message
		} else {
			row["ok"] = true
			row["rev"] = res.Rev
		}
		out[i] = row
	}
	s.writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	var body struct {
		Name     string                 `json:"name"`
		Metadata map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.New(errors.ErrValidation, "request body is not a JSON object"))
		return
	}

	tenant, err := s.gateway.CreateTenant(r.Context(), claims, body.Name, body.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	tenants, err := s.gateway.ListTenants(r.Context(), claims)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tenants)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	var body struct {
		MemberID string `json:"memberId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errors.New(errors.ErrValidation, "request body is not a JSON object"))
		return
	}

	tenant, err := s.gateway.AddMember(r.Context(), claims, r.PathValue("docID"), body.MemberID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request, claims domain.Claims) {
	tenant, err := s.gateway.RemoveMember(r.Context(), claims, r.PathValue("docID"), r.PathValue("memberID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", logger.Error(err))
	}
}

// writeError переводит типизированную ошибку в HTTP-ответ
func (s *Server) writeError(w http.ResponseWriter, err error) {
	typed, ok := err.(*errors.Error)
	if !ok {
		typed = errors.Wrap(err, errors.ErrInternal, "internal error")
	}

	if typed.Code == errors.ErrInternal || typed.Code == errors.ErrBackendUnavailable {
		s.logger.Error("request failed", logger.String("code", string(typed.Code)), logger.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(typed.HTTPStatus())
	_ = json.NewEncoder(w).Encode(typed)
}
