package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VirtualDocGateway/internal/storage"
)

func putDoc(t *testing.T, b *Backend, db, id string, doc map[string]interface{}) string {
	t.Helper()
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/%s/%s", db, id),
		Body:   body,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status, string(resp.Body))

	var result struct {
		Rev string `json:"rev"`
	}
	require.NoError(t, resp.DecodeJSON(&result))
	return result.Rev
}

func getDoc(t *testing.T, b *Backend, db, id string) (map[string]interface{}, int) {
	t.Helper()
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/%s", db, id),
	})
	require.NoError(t, err)

	var doc map[string]interface{}
	if resp.OK() {
		require.NoError(t, resp.DecodeJSON(&doc))
	}
	return doc, resp.Status
}

func TestPutAndGet(t *testing.T) {
	b := NewBackend()

	rev := putDoc(t, b, "users", "user_abc", map[string]interface{}{"type": "user"})
	assert.NotEmpty(t, rev)

	doc, status := getDoc(t, b, "users", "user_abc")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user_abc", doc["_id"])
	assert.Equal(t, rev, doc["_rev"])
}

func TestGet_Missing(t *testing.T) {
	b := NewBackend()

	_, status := getDoc(t, b, "users", "user_missing")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestPut_CreateIfAbsent(t *testing.T) {
	b := NewBackend()
	putDoc(t, b, "users", "user_abc", map[string]interface{}{"type": "user"})

	// Повторное создание без ревизии конфликтует
	body, _ := json.Marshal(map[string]interface{}{"type": "user"})
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPut,
		Path:   "/users/user_abc",
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestPut_StaleRevision(t *testing.T) {
	b := NewBackend()
	rev := putDoc(t, b, "users", "user_abc", map[string]interface{}{"type": "user"})

	// Обновление с актуальной ревизией проходит
	newRev := putDoc(t, b, "users", "user_abc", map[string]interface{}{
		"type": "user",
		"_rev": rev,
	})
	assert.NotEqual(t, rev, newRev)

	// Со старой ревизией конфликтует
	body, _ := json.Marshal(map[string]interface{}{"type": "user", "_rev": rev})
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPut,
		Path:   "/users/user_abc",
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func TestPut_RevisionOnMissingDocument(t *testing.T) {
	b := NewBackend()

	body, _ := json.Marshal(map[string]interface{}{"type": "user", "_rev": "1-abc"})
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPut,
		Path:   "/users/user_abc",
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
}

func changesSince(t *testing.T, b *Backend, db string, since int64) storage.ChangesResponse {
	t.Helper()
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprintf("/%s/_changes?since=%d", db, since),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	var changes storage.ChangesResponse
	require.NoError(t, resp.DecodeJSON(&changes))
	return changes
}

func TestChanges_OrderAndCursor(t *testing.T) {
	b := NewBackend()
	putDoc(t, b, "users", "user_a", map[string]interface{}{"type": "user"})
	putDoc(t, b, "users", "user_b", map[string]interface{}{"type": "user"})
	putDoc(t, b, "users", "user_c", map[string]interface{}{"type": "user"})

	changes := changesSince(t, b, "users", 0)
	require.Len(t, changes.Results, 3)

	// seq строго растет
	for i := 1; i < len(changes.Results); i++ {
		assert.Greater(t, changes.Results[i].Seq, changes.Results[i-1].Seq)
	}
	assert.Equal(t, changes.Results[2].Seq, changes.LastSeq)

	// Повторный запрос с возвращенным курсором пуст
	next := changesSince(t, b, "users", changes.LastSeq)
	assert.Empty(t, next.Results)
	assert.Equal(t, changes.LastSeq, next.LastSeq)
}

func TestChanges_DeletedFlag(t *testing.T) {
	b := NewBackend()
	rev := putDoc(t, b, "tenants", "tenant_1", map[string]interface{}{"type": "tenant"})
	putDoc(t, b, "tenants", "tenant_1", map[string]interface{}{
		"type":    "tenant",
		"deleted": true,
		"_rev":    rev,
	})

	changes := changesSince(t, b, "tenants", 0)
	require.Len(t, changes.Results, 2)
	assert.False(t, changes.Results[0].Deleted)
	assert.True(t, changes.Results[1].Deleted)
}

func TestBulkDocs(t *testing.T) {
	b := NewBackend()
	rev := putDoc(t, b, "users", "user_a", map[string]interface{}{"type": "user"})

	body, _ := json.Marshal(storage.BulkDocsRequest{Docs: []map[string]interface{}{
		{"_id": "user_a", "_rev": rev, "type": "user", "displayName": "A"},
		{"_id": "user_b", "_rev": "1-stale", "type": "user"},
		{"_id": "user_c", "type": "user"},
	}})
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPost,
		Path:   "/users/_bulk_docs",
		Body:   body,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	var results []storage.BulkDocResult
	require.NoError(t, resp.DecodeJSON(&results))
	require.Len(t, results, 3)

	assert.True(t, results[0].OK)
	assert.Equal(t, "conflict", results[1].Error)
	assert.True(t, results[2].OK)

	// Успешные записи видны, конфликтная не прошла
	doc, _ := getDoc(t, b, "users", "user_a")
	assert.Equal(t, "A", doc["displayName"])
	_, status := getDoc(t, b, "users", "user_b")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestFind(t *testing.T) {
	b := NewBackend()
	putDoc(t, b, "tenants", "tenant_1", map[string]interface{}{"type": "tenant", "name": "A"})
	putDoc(t, b, "tenants", "tenant_2", map[string]interface{}{"type": "tenant", "name": "B"})

	body, _ := json.Marshal(storage.FindRequest{Selector: map[string]interface{}{"name": "A"}})
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPost,
		Path:   "/tenants/_find",
		Body:   body,
	})
	require.NoError(t, err)

	var result storage.FindResponse
	require.NoError(t, resp.DecodeJSON(&result))
	require.Len(t, result.Docs, 1)
	assert.Equal(t, "tenant_1", result.Docs[0]["_id"])
}

func TestLocalCheckpoints(t *testing.T) {
	b := NewBackend()

	body, _ := json.Marshal(map[string]interface{}{"last_seq": 17})
	resp, err := b.Do(context.Background(), &storage.Request{
		Method: http.MethodPut,
		Path:   "/users/_local/replicator",
		Body:   body,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)

	resp, err = b.Do(context.Background(), &storage.Request{
		Method: http.MethodGet,
		Path:   "/users/_local/replicator",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)

	var doc map[string]interface{}
	require.NoError(t, resp.DecodeJSON(&doc))
	assert.Equal(t, float64(17), doc["last_seq"])

	// Чекпоинты не попадают в ленту изменений
	changes := changesSince(t, b, "users", 0)
	assert.Empty(t, changes.Results)
}

func TestConcurrentCreate_OneWinner(t *testing.T) {
	b := NewBackend()

	const workers = 16
	var wg sync.WaitGroup
	created := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body, _ := json.Marshal(map[string]interface{}{"type": "user"})
			resp, err := b.Do(context.Background(), &storage.Request{
				Method: http.MethodPut,
				Path:   "/users/user_contended",
				Body:   body,
			})
			if err == nil && resp.Status == http.StatusCreated {
				created <- true
			}
		}()
	}
	wg.Wait()
	close(created)

	wins := 0
	for range created {
		wins++
	}
	assert.Equal(t, 1, wins)
}

func TestContextCancelled(t *testing.T) {
	b := NewBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Do(ctx, &storage.Request{Method: http.MethodGet, Path: "/users/user_abc"})
	assert.Error(t, err)
}
