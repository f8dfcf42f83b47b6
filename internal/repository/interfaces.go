package repository

import (
	"context"

	"VirtualDocGateway/internal/storage"
)

// DocumentStore интерфейс для работы с документами поверх бэкенда
// Все методы переводят статусы бэкенда в типизированные ошибки шлюза
type DocumentStore interface {
	// GetDocument возвращает последнюю версию документа
	GetDocument(ctx context.Context, db, docID string) (map[string]interface{}, error)
	// PutDocument создает или обновляет документ; для создания документ не должен
	// содержать _rev, для обновления _rev обязателен
	PutDocument(ctx context.Context, db, docID string, doc map[string]interface{}) (string, error)
	// BulkDocs применяет документы в порядке массива, по одному результату на документ
	BulkDocs(ctx context.Context, db string, docs []map[string]interface{}) ([]storage.BulkDocResult, error)
	// Changes возвращает ленту изменений с seq > since
	Changes(ctx context.Context, db string, since int64) (*storage.ChangesResponse, error)
	// Find выполняет селекторный запрос
	Find(ctx context.Context, db string, selector map[string]interface{}) ([]map[string]interface{}, error)
	// GetCheckpoint возвращает локальный чекпоинт
	GetCheckpoint(ctx context.Context, db, id string) (map[string]interface{}, error)
	// PutCheckpoint сохраняет локальный чекпоинт
	PutCheckpoint(ctx context.Context, db, id string, doc map[string]interface{}) error
}
