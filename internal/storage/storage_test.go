package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath_Document(t *testing.T) {
	parsed, err := ParsePath("/users/user_abc")
	require.NoError(t, err)

	assert.Equal(t, "users", parsed.DB)
	assert.Equal(t, "user_abc", parsed.DocID)
	assert.Empty(t, parsed.Op)
}

func TestParsePath_DatabaseOnly(t *testing.T) {
	parsed, err := ParsePath("/users")
	require.NoError(t, err)

	assert.Equal(t, "users", parsed.DB)
	assert.Empty(t, parsed.DocID)
}

func TestParsePath_BulkDocs(t *testing.T) {
	parsed, err := ParsePath("/tenants/_bulk_docs")
	require.NoError(t, err)

	assert.Equal(t, "tenants", parsed.DB)
	assert.Equal(t, "_bulk_docs", parsed.Op)
}

func TestParsePath_ChangesWithSince(t *testing.T) {
	parsed, err := ParsePath("/users/_changes?since=42")
	require.NoError(t, err)

	assert.Equal(t, "_changes", parsed.Op)
	assert.Equal(t, int64(42), parsed.Since)
}

func TestParsePath_ChangesWithoutSince(t *testing.T) {
	parsed, err := ParsePath("/users/_changes")
	require.NoError(t, err)

	assert.Equal(t, int64(0), parsed.Since)
}

func TestParsePath_ChangesInvalidSince(t *testing.T) {
	_, err := ParsePath("/users/_changes?since=abc")
	assert.Error(t, err)
}

func TestParsePath_Local(t *testing.T) {
	parsed, err := ParsePath("/users/_local/replication-checkpoint")
	require.NoError(t, err)

	assert.Equal(t, "_local", parsed.Op)
	assert.Equal(t, "replication-checkpoint", parsed.DocID)
}

func TestParsePath_LocalWithoutID(t *testing.T) {
	_, err := ParsePath("/users/_local")
	assert.Error(t, err)
}

func TestParsePath_EmptyPath(t *testing.T) {
	_, err := ParsePath("/")
	assert.Error(t, err)
}

func TestResponse_OK(t *testing.T) {
	assert.True(t, (&Response{Status: 200}).OK())
	assert.True(t, (&Response{Status: 201}).OK())
	assert.False(t, (&Response{Status: 404}).OK())
	assert.False(t, (&Response{Status: 500}).OK())
}

func TestResponse_DecodeJSON(t *testing.T) {
	resp := &Response{Status: 200, Body: []byte(`{"ok":true,"rev":"1-abc"}`)}

	var result struct {
		OK  bool   `json:"ok"`
		Rev string `json:"rev"`
	}
	require.NoError(t, resp.DecodeJSON(&result))
	assert.True(t, result.OK)
	assert.Equal(t, "1-abc", result.Rev)

	bad := &Response{Status: 200, Body: []byte(`{`)}
	assert.Error(t, bad.DecodeJSON(&result))
}
