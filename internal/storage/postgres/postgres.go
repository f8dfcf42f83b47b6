package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"VirtualDocGateway/internal/storage"
	"VirtualDocGateway/pkg/errors"
)

// Backend реализует контракт хранилища поверх PostgreSQL
// Документы лежат в jsonb, лента изменений в отдельной append-only таблице
// с bigserial seq, чекпоинты отдельно и не попадают в ленту
// Запись документа сериализуется advisory-блокировкой пары (db, doc_id)
// плюс блокировкой строки, поэтому семантика create-if-absent и конфликтов
// совпадает с остальными бэкендами даже при конкурентном создании
type Backend struct {
	pool *pgxpool.Pool
}

// NewBackend создает бэкенд поверх готового пула подключений
func NewBackend(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// EnsureSchema создает таблицы хранилища, если их еще нет
func (b *Backend) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS documents (
	db      text NOT NULL,
	doc_id  text NOT NULL,
	rev     text NOT NULL,
	body    jsonb NOT NULL,
	deleted boolean NOT NULL DEFAULT false,
	PRIMARY KEY (db, doc_id)
);
CREATE TABLE IF NOT EXISTS changes (
	seq     bigserial PRIMARY KEY,
	db      text NOT NULL,
	doc_id  text NOT NULL,
	deleted boolean NOT NULL DEFAULT false,
	rev     text NOT NULL
);
CREATE INDEX IF NOT EXISTS changes_db_seq_idx ON changes (db, seq);
CREATE TABLE IF NOT EXISTS local_checkpoints (
	db     text NOT NULL,
	ckp_id text NOT NULL,
	body   jsonb NOT NULL,
	PRIMARY KEY (db, ckp_id)
);`
	if _, err := b.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure storage schema: %w", err)
	}
	return nil
}

// Do выполняет запрос по REST-соглашению бэкенда
func (b *Backend) Do(ctx context.Context, req *storage.Request) (*storage.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := storage.ParsePath(req.Path)
	if err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", err.Error()), nil
	}

	switch parsed.Op {
	case "_bulk_docs":
		return b.bulkDocs(ctx, parsed.DB, req)
	case "_changes":
		return b.changes(ctx, parsed.DB, parsed.Since)
	case "_find":
		return b.find(ctx, parsed.DB, req)
	case "_local":
		return b.local(ctx, parsed.DB, parsed.DocID, req)
	}

	if parsed.DocID == "" {
		return errorResponse(http.StatusBadRequest, "bad_request", "document id is required"), nil
	}

	switch req.Method {
	case http.MethodGet:
		return b.getDoc(ctx, parsed.DB, parsed.DocID)
	case http.MethodPut:
		return b.putDoc(ctx, parsed.DB, parsed.DocID, req.Body)
	default:
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", req.Method), nil
	}
}

// getDoc возвращает последнюю версию документа
func (b *Backend) getDoc(ctx context.Context, db, docID string) (*storage.Response, error) {
	var body []byte
	err := b.pool.QueryRow(ctx,
		`SELECT body FROM documents WHERE db = $1 AND doc_id = $2`, db, docID).Scan(&body)
	if err == pgx.ErrNoRows {
		return errorResponse(http.StatusNotFound, "not_found", "missing"), nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &storage.Response{Status: http.StatusOK, Body: body}, nil
}

// putDoc создает или обновляет документ с оптимистической проверкой ревизии
// Создание без _rev при существующем документе и обновление с устаревшим _rev
// завершаются конфликтом, как и в остальных бэкендах
func (b *Backend) putDoc(ctx context.Context, db, docID string, body []byte) (*storage.Response, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", "invalid document body"), nil
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, unavailable(err)
	}
	defer tx.Rollback(ctx)

	rev, resp, err := b.writeDocTx(ctx, tx, db, docID, doc)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		return resp, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable(err)
	}
	return jsonResponse(http.StatusCreated, map[string]interface{}{
		"ok":  true,
		"id":  docID,
		"rev": rev,
	})
}

// writeDocTx выполняет запись документа внутри транзакции
// FOR UPDATE не блокирует отсутствующую строку, поэтому конкурентное
// создание одного документа сериализуется advisory-блокировкой пары
// (db, doc_id): проигравший увидит строку победителя и получит конфликт
func (b *Backend) writeDocTx(ctx context.Context, tx pgx.Tx, db, docID string, doc map[string]interface{}) (string, *storage.Response, error) {
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || '/' || $2, 0))`, db, docID); err != nil {
		return "", nil, unavailable(err)
	}

	var currentRev string
	err := tx.QueryRow(ctx,
		`SELECT rev FROM documents WHERE db = $1 AND doc_id = $2 FOR UPDATE`, db, docID).Scan(&currentRev)

	exists := err == nil
	if err != nil && err != pgx.ErrNoRows {
		return "", nil, unavailable(err)
	}

	givenRev, _ := doc["_rev"].(string)
	if resp := revConflict(exists, currentRev, givenRev); resp != nil {
		return "", resp, nil
	}

	deleted, _ := doc["deleted"].(bool)

	var seq int64
	err = tx.QueryRow(ctx,
		`INSERT INTO changes (db, doc_id, deleted, rev) VALUES ($1, $2, $3, '') RETURNING seq`,
		db, docID, deleted).Scan(&seq)
	if err != nil {
		return "", nil, unavailable(err)
	}

	newRev := nextRev(givenRev, seq)
	if _, err := tx.Exec(ctx,
		`UPDATE changes SET rev = $1 WHERE seq = $2`, newRev, seq); err != nil {
		return "", nil, unavailable(err)
	}

	stored := make(map[string]interface{}, len(doc)+2)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = docID
	stored["_rev"] = newRev

	storedBody, err := json.Marshal(stored)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO documents (db, doc_id, rev, body, deleted) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (db, doc_id) DO UPDATE SET rev = $3, body = $4, deleted = $5`,
		db, docID, newRev, storedBody, deleted); err != nil {
		return "", nil, unavailable(err)
	}

	return newRev, nil, nil
}

// bulkDocs применяет документы в порядке массива, по одному результату на документ
// Каждый документ пишется отдельной транзакцией: отказ одного не трогает остальные
func (b *Backend) bulkDocs(ctx context.Context, db string, req *storage.Request) (*storage.Response, error) {
	var bulk storage.BulkDocsRequest
	if err := json.Unmarshal(req.Body, &bulk); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", "invalid bulk body"), nil
	}

	results := make([]storage.BulkDocResult, 0, len(bulk.Docs))
	for _, doc := range bulk.Docs {
		docID, _ := doc["_id"].(string)
		if docID == "" {
			results = append(results, storage.BulkDocResult{
				Error:  "bad_request",
				Reason: "document is missing _id",
			})
			continue
		}

		rev, errResp, err := b.writeDoc(ctx, db, docID, doc)
		if err != nil {
			return nil, err
		}
		if errResp != nil {
			results = append(results, storage.BulkDocResult{
				ID:     docID,
				Error:  "conflict",
				Reason: "document update conflict",
			})
			continue
		}
		results = append(results, storage.BulkDocResult{ID: docID, OK: true, Rev: rev})
	}

	return jsonResponse(http.StatusCreated, results)
}

// writeDoc оборачивает writeDocTx в собственную транзакцию
func (b *Backend) writeDoc(ctx context.Context, db, docID string, doc map[string]interface{}) (string, *storage.Response, error) {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return "", nil, unavailable(err)
	}
	defer tx.Rollback(ctx)

	rev, resp, err := b.writeDocTx(ctx, tx, db, docID, doc)
	if err != nil || resp != nil {
		return "", resp, err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", nil, unavailable(err)
	}
	return rev, nil, nil
}

// changes возвращает записи ленты изменений с seq > since
func (b *Backend) changes(ctx context.Context, db string, since int64) (*storage.Response, error) {
	rows, err := b.pool.Query(ctx, `
SELECT seq, doc_id, deleted, rev FROM changes
WHERE db = $1 AND seq > $2 ORDER BY seq`, db, since)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	resp := storage.ChangesResponse{
		Results: []storage.ChangeRow{},
		LastSeq: since,
	}
	for rows.Next() {
		var row storage.ChangeRow
		var rev string
		if err := rows.Scan(&row.Seq, &row.ID, &row.Deleted, &rev); err != nil {
			return nil, unavailable(err)
		}
		row.Changes = []storage.RevChange{{Rev: rev}}
		resp.Results = append(resp.Results, row)
		if row.Seq > resp.LastSeq {
			resp.LastSeq = row.Seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	return jsonResponse(http.StatusOK, resp)
}

// find выполняет селекторный запрос
// Селектор применяется на стороне Go теми же правилами, что и в эмуляции,
// чтобы поведение не расходилось между бэкендами
func (b *Backend) find(ctx context.Context, db string, req *storage.Request) (*storage.Response, error) {
	var findReq storage.FindRequest
	if err := json.Unmarshal(req.Body, &findReq); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", "invalid find body"), nil
	}

	rows, err := b.pool.Query(ctx, `SELECT body FROM documents WHERE db = $1`, db)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	docs := []map[string]interface{}{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, unavailable(err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			continue
		}
		if storage.MatchSelector(doc, findReq.Selector) {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}

	return jsonResponse(http.StatusOK, storage.FindResponse{Docs: docs})
}

// local читает и пишет локальные чекпоинты
// Чекпоинты не версионируются и не попадают в ленту изменений
func (b *Backend) local(ctx context.Context, db, id string, req *storage.Request) (*storage.Response, error) {
	switch req.Method {
	case http.MethodGet:
		var body []byte
		err := b.pool.QueryRow(ctx,
			`SELECT body FROM local_checkpoints WHERE db = $1 AND ckp_id = $2`, db, id).Scan(&body)
		if err == pgx.ErrNoRows {
			return errorResponse(http.StatusNotFound, "not_found", "missing"), nil
		}
		if err != nil {
			return nil, unavailable(err)
		}
		return &storage.Response{Status: http.StatusOK, Body: body}, nil
	case http.MethodPut:
		var doc map[string]interface{}
		if err := json.Unmarshal(req.Body, &doc); err != nil {
			return errorResponse(http.StatusBadRequest, "bad_request", "invalid checkpoint body"), nil
		}
		if _, err := b.pool.Exec(ctx, `
INSERT INTO local_checkpoints (db, ckp_id, body) VALUES ($1, $2, $3)
ON CONFLICT (db, ckp_id) DO UPDATE SET body = $3`, db, id, req.Body); err != nil {
			return nil, unavailable(err)
		}
		return jsonResponse(http.StatusCreated, map[string]interface{}{"ok": true, "id": id})
	default:
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", req.Method), nil
	}
}

// revConflict проверяет ревизию запроса против текущего состояния документа
// Создание без _rev при существующем документе и обновление с устаревшим _rev
// отклоняются конфликтом; nil означает, что запись разрешена
func revConflict(exists bool, currentRev, givenRev string) *storage.Response {
	if exists {
		if givenRev != currentRev {
			return errorResponse(http.StatusConflict, "conflict", "document update conflict")
		}
		return nil
	}
	if givenRev != "" {
		return errorResponse(http.StatusConflict, "conflict", "document does not exist")
	}
	return nil
}

// nextRev строит следующую ревизию в формате <версия>-<seq>
func nextRev(prevRev string, seq int64) string {
	version := 1
	if prevRev != "" {
		if idx := strings.IndexByte(prevRev, '-'); idx > 0 {
			if v, err := strconv.Atoi(prevRev[:idx]); err == nil {
				version = v + 1
			}
		}
	}
	return fmt.Sprintf("%d-%012x", version, seq)
}

// unavailable переводит ошибку подключения в типизированную ошибку шлюза
func unavailable(err error) error {
	return errors.Wrap(err, errors.ErrBackendUnavailable, "storage backend unavailable")
}

func jsonResponse(status int, v interface{}) (*storage.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return &storage.Response{Status: status, Body: body}, nil
}

func errorResponse(status int, code, reason string) *storage.Response {
	body, _ := json.Marshal(map[string]string{"error": code, "reason": reason})
	return &storage.Response{Status: status, Body: body}
}
