package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"VirtualDocGateway/internal/storage"
)

// Backend представляет эмуляцию документной базы в памяти
// Держит документы, append-only лог изменений и локальные чекпоинты по базам
// Все мутации и чтения сериализуются одним мьютексом: снятие текущего seq и
// фильтрация изменений происходят под той же блокировкой, что и записи,
// поэтому лента изменений всегда консистентна
type Backend struct {
	mu sync.RWMutex
	// documents хранит последнюю версию документа по ключу база/документ
	documents map[string]map[string]map[string]interface{}
	// changeLog append-only список изменений по базам
	changeLog map[string][]changeEntry
	// checkpoints локальные документы _local, не попадают в лог изменений
	checkpoints map[string]map[string]map[string]interface{}
	// seq глобальный счетчик, растет на каждую запись документа
	seq int64
}

type changeEntry struct {
	Seq     int64
	DocID   string
	Deleted bool
	Rev     string
}

// NewBackend создает пустую эмуляцию
func NewBackend() *Backend {
	return &Backend{
		documents:   make(map[string]map[string]map[string]interface{}),
		changeLog:   make(map[string][]changeEntry),
		checkpoints: make(map[string]map[string]map[string]interface{}),
	}
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
		return b.bulkDocs(parsed.DB, req)
	case "_changes":
		return b.changes(parsed.DB, parsed.Since)
	case "_find":
		return b.find(parsed.DB, req)
	case "_local":
		return b.local(parsed.DB, parsed.DocID, req)
	}

	if parsed.DocID == "" {
		return errorResponse(http.StatusBadRequest, "bad_request", "document id is required"), nil
	}

	switch req.Method {
	case http.MethodGet:
		return b.getDoc(parsed.DB, parsed.DocID)
	case http.MethodPut:
		return b.putDoc(parsed.DB, parsed.DocID, req.Body)
	default:
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", req.Method), nil
	}
}

// getDoc возвращает последнюю версию документа
func (b *Backend) getDoc(db, docID string) (*storage.Response, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.documents[db][docID]
	if !ok {
		return errorResponse(http.StatusNotFound, "not_found", "missing"), nil
	}
	return jsonResponse(http.StatusOK, doc)
}

// putDoc создает или обновляет документ с оптимистической проверкой ревизии
// Создание без _rev при существующем документе и обновление с устаревшим _rev
// завершаются конфликтом; это единственный примитив create-if-absent,
// на который опирается bootstrap
func (b *Backend) putDoc(db, docID string, body []byte) (*storage.Response, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", "invalid document body"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	rev, resp := b.writeDocLocked(db, docID, doc)
	if resp != nil {
		return resp, nil
	}
	return jsonResponse(http.StatusCreated, map[string]interface{}{
		"ok":  true,
		"id":  docID,
		"rev": rev,
	})
}

// writeDocLocked выполняет запись документа; вызывается под b.mu
// Возвращает новую ревизию либо готовый ответ с ошибкой
func (b *Backend) writeDocLocked(db, docID string, doc map[string]interface{}) (string, *storage.Response) {
	current, exists := b.documents[db][docID]

	givenRev, _ := doc["_rev"].(string)
	if exists {
		currentRev, _ := current["_rev"].(string)
		if givenRev != currentRev {
			return "", errorResponse(http.StatusConflict, "conflict", "document update conflict")
		}
	} else if givenRev != "" {
		return "", errorResponse(http.StatusConflict, "conflict", "document does not exist")
	}

	b.seq++
	newRev := nextRev(givenRev, b.seq)

	stored := make(map[string]interface{}, len(doc)+2)
	for k, v := range doc {
		stored[k] = v
	}
	stored["_id"] = docID
	stored["_rev"] = newRev

	if b.documents[db] == nil {
		b.documents[db] = make(map[string]map[string]interface{})
	}
	b.documents[db][docID] = stored

	deleted, _ := stored["deleted"].(bool)
	b.changeLog[db] = append(b.changeLog[db], changeEntry{
		Seq:     b.seq,
		DocID:   docID,
		Deleted: deleted,
		Rev:     newRev,
	})

	return newRev, nil
}

// bulkDocs применяет документы в порядке массива, продвигая seq на каждый документ
// Возвращает по одному результату на входной документ
func (b *Backend) bulkDocs(db string, req *storage.Request) (*storage.Response, error) {
	var bulk storage.BulkDocsRequest
	if err := json.Unmarshal(req.Body, &bulk); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", "invalid bulk body"), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

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

		rev, errResp := b.writeDocLocked(db, docID, doc)
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

// changes возвращает записи ленты изменений с seq > since
// Снимок seq и фильтрация выполняются под одной блокировкой
func (b *Backend) changes(db string, since int64) (*storage.Response, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	resp := storage.ChangesResponse{
		Results: []storage.ChangeRow{},
		LastSeq: since,
	}

	for _, entry := range b.changeLog[db] {
		if entry.Seq <= since {
			continue
		}
		resp.Results = append(resp.Results, storage.ChangeRow{
			Seq:     entry.Seq,
			ID:      entry.DocID,
			Deleted: entry.Deleted,
			Changes: []storage.RevChange{{Rev: entry.Rev}},
		})
		if entry.Seq > resp.LastSeq {
			resp.LastSeq = entry.Seq
		}
	}

	return jsonResponse(http.StatusOK, resp)
}

// find выполняет селекторный запрос полным сканом базы
// Индексов нет: объемы рассчитаны на тестовый масштаб
func (b *Backend) find(db string, req *storage.Request) (*storage.Response, error) {
	var findReq storage.FindRequest
	if err := json.Unmarshal(req.Body, &findReq); err != nil {
		return errorResponse(http.StatusBadRequest, "bad_request", "invalid find body"), nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	docs := []map[string]interface{}{}
	for _, doc := range b.documents[db] {
		if storage.MatchSelector(doc, findReq.Selector) {
			docs = append(docs, doc)
		}
	}

	return jsonResponse(http.StatusOK, storage.FindResponse{Docs: docs})
}

// local читает и пишет локальные чекпоинты
// Чекпоинты не версионируются и не продвигают seq
func (b *Backend) local(db, id string, req *storage.Request) (*storage.Response, error) {
	switch req.Method {
	case http.MethodGet:
		b.mu.RLock()
		defer b.mu.RUnlock()
		doc, ok := b.checkpoints[db][id]
		if !ok {
			return errorResponse(http.StatusNotFound, "not_found", "missing"), nil
		}
		return jsonResponse(http.StatusOK, doc)
	case http.MethodPut:
		var doc map[string]interface{}
		if err := json.Unmarshal(req.Body, &doc); err != nil {
			return errorResponse(http.StatusBadRequest, "bad_request", "invalid checkpoint body"), nil
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.checkpoints[db] == nil {
			b.checkpoints[db] = make(map[string]map[string]interface{})
		}
		b.checkpoints[db][id] = doc
		return jsonResponse(http.StatusCreated, map[string]interface{}{"ok": true, "id": id})
	default:
		return errorResponse(http.StatusMethodNotAllowed, "method_not_allowed", req.Method), nil
	}
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
