package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"VirtualDocGateway/internal/storage"
	"VirtualDocGateway/pkg/errors"
	"VirtualDocGateway/pkg/metrics"
)

// Store реализация DocumentStore поверх storage.Backend
type Store struct {
	backend storage.Backend
	metrics *metrics.Metrics
}

// NewStore создает новый экземпляр Store
// Метрики опциональны: при nil запросы к бэкенду не учитываются
func NewStore(backend storage.Backend, m *metrics.Metrics) DocumentStore {
	return &Store{backend: backend, metrics: m}
}

// GetDocument возвращает последнюю версию документа
func (s *Store) GetDocument(ctx context.Context, db, docID string) (map[string]interface{}, error) {
	resp, err := s.do(ctx, &storage.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/%s", db, url.PathEscape(docID)),
	})
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := resp.DecodeJSON(&doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to decode document")
	}
	return doc, nil
}

// PutDocument создает или обновляет документ
func (s *Store) PutDocument(ctx context.Context, db, docID string, doc map[string]interface{}) (string, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrInternal, "failed to marshal document")
	}

	resp, err := s.do(ctx, &storage.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/%s/%s", db, url.PathEscape(docID)),
		Body:   body,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Rev string `json:"rev"`
	}
	if err := resp.DecodeJSON(&result); err != nil {
		return "", errors.Wrap(err, errors.ErrInternal, "failed to decode write result")
	}
	return result.Rev, nil
}

// BulkDocs применяет документы в порядке массива
func (s *Store) BulkDocs(ctx context.Context, db string, docs []map[string]interface{}) ([]storage.BulkDocResult, error) {
	body, err := json.Marshal(storage.BulkDocsRequest{Docs: docs})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to marshal bulk request")
	}

	resp, err := s.do(ctx, &storage.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/%s/_bulk_docs", db),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	var results []storage.BulkDocResult
	if err := resp.DecodeJSON(&results); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to decode bulk results")
	}
	return results, nil
}

// Changes возвращает ленту изменений с seq > since
func (s *Store) Changes(ctx context.Context, db string, since int64) (*storage.ChangesResponse, error) {
	resp, err := s.do(ctx, &storage.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/_changes?since=%d", db, since),
	})
	if err != nil {
		return nil, err
	}

	var changes storage.ChangesResponse
	if err := resp.DecodeJSON(&changes); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to decode changes")
	}
	return &changes, nil
}

// Find выполняет селекторный запрос
func (s *Store) Find(ctx context.Context, db string, selector map[string]interface{}) ([]map[string]interface{}, error) {
	body, err := json.Marshal(storage.FindRequest{Selector: selector})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to marshal find request")
	}

	resp, err := s.do(ctx, &storage.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/%s/_find", db),
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	var result storage.FindResponse
	if err := resp.DecodeJSON(&result); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to decode find result")
	}
	return result.Docs, nil
}

// GetCheckpoint возвращает локальный чекпоинт
func (s *Store) GetCheckpoint(ctx context.Context, db, id string) (map[string]interface{}, error) {
	resp, err := s.do(ctx, &storage.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/_local/%s", db, url.PathEscape(id)),
	})
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := resp.DecodeJSON(&doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrInternal, "failed to decode checkpoint")
	}
	return doc, nil
}

// PutCheckpoint сохраняет локальный чекпоинт
func (s *Store) PutCheckpoint(ctx context.Context, db, id string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrInternal, "failed to marshal checkpoint")
	}

	_, err = s.do(ctx, &storage.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/%s/_local/%s", db, url.PathEscape(id)),
		Body:   body,
	})
	return err
}

// do выполняет запрос и переводит неуспешные статусы в типизированные ошибки
func (s *Store) do(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	resp, err := s.backend.Do(ctx, req)
	if err != nil {
		s.observe(req.Method, "error")
		// Транспортные ошибки уже типизированы бэкендом
		return nil, err
	}
	s.observe(req.Method, strconv.Itoa(resp.Status))
	if resp.OK() {
		return resp, nil
	}
	return nil, statusError(resp, req)
}

// observe учитывает запрос к бэкенду в метриках
func (s *Store) observe(method, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.BackendRequests.WithLabelValues(method, status).Inc()
}

// statusError переводит статус бэкенда в типизированную ошибку
func statusError(resp *storage.Response, req *storage.Request) error {
	var backendErr struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(resp.Body, &backendErr)

	detail := fmt.Sprintf("%s %s: %s", req.Method, req.Path, backendErr.Reason)

	switch resp.Status {
	case http.StatusNotFound:
		return errors.New(errors.ErrNotFound, "document not found").WithDetails(detail)
	case http.StatusConflict:
		return errors.New(errors.ErrConflict, "document update conflict").WithDetails(detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.New(errors.ErrForbidden, "backend rejected credentials").WithDetails(detail)
	case http.StatusBadRequest:
		return errors.New(errors.ErrValidation, "backend rejected request").WithDetails(detail)
	default:
		return errors.New(errors.ErrInternal,
			fmt.Sprintf("unexpected backend status %d", resp.Status)).WithDetails(detail)
	}
}
