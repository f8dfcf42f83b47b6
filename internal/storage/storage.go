package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Backend представляет контракт хранилища документов
// Путь следует REST-соглашению документной базы: /{db}/{docId}, /{db}/_bulk_docs,
// /{db}/_changes?since=N, /{db}/_find, /{db}/_local/{id}
// Контракт одинаков для живого бэкенда, эмуляции в памяти и Postgres,
// поэтому вышележащий слой не знает, с кем говорит
type Backend interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request представляет запрос к бэкенду
type Request struct {
	Method string
	Path   string
	Body   []byte
}

// Response представляет ответ бэкенда
type Response struct {
	Status int
	Body   []byte
}

// OK сообщает, что ответ успешен (2xx)
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// DecodeJSON декодирует тело ответа в указанное значение
func (r *Response) DecodeJSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// ParsedPath представляет разобранный путь запроса к бэкенду
type ParsedPath struct {
	DB    string
	DocID string
	// Op служебная операция (_bulk_docs, _changes, _find, _local), пустая для документов
	Op    string
	Since int64
}

// ParsePath разбирает путь запроса по REST-соглашению бэкенда
func ParsePath(rawPath string) (*ParsedPath, error) {
	u, err := url.Parse(rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request path: %w", err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("request path is missing database name")
	}

	parsed := &ParsedPath{DB: parts[0]}

	if len(parts) == 1 {
		return parsed, nil
	}

	switch parts[1] {
	case "_bulk_docs", "_find":
		parsed.Op = parts[1]
	case "_changes":
		parsed.Op = parts[1]
		if since := u.Query().Get("since"); since != "" {
			if _, err := fmt.Sscanf(since, "%d", &parsed.Since); err != nil {
				return nil, fmt.Errorf("invalid since parameter %q", since)
			}
		}
	case "_local":
		if len(parts) < 3 {
			return nil, fmt.Errorf("local document path is missing id")
		}
		parsed.Op = parts[1]
		parsed.DocID = parts[2]
	default:
		parsed.DocID = parts[1]
	}

	return parsed, nil
}

// BulkDocsRequest представляет тело запроса _bulk_docs
type BulkDocsRequest struct {
	Docs []map[string]interface{} `json:"docs"`
}

// BulkDocResult представляет результат записи одного документа в _bulk_docs
type BulkDocResult struct {
	ID     string `json:"id"`
	OK     bool   `json:"ok,omitempty"`
	Rev    string `json:"rev,omitempty"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ChangesResponse представляет тело ответа _changes
type ChangesResponse struct {
	Results []ChangeRow `json:"results"`
	LastSeq int64       `json:"last_seq"`
}

// ChangeRow представляет одну строку ленты изменений
type ChangeRow struct {
	Seq     int64       `json:"seq"`
	ID      string      `json:"id"`
	Deleted bool        `json:"deleted,omitempty"`
	Changes []RevChange `json:"changes"`
}

// RevChange представляет ревизию в строке ленты изменений
type RevChange struct {
	Rev string `json:"rev"`
}

// FindRequest представляет тело запроса _find
type FindRequest struct {
	Selector map[string]interface{} `json:"selector"`
}

// FindResponse представляет тело ответа _find
type FindResponse struct {
	Docs []map[string]interface{} `json:"docs"`
}
