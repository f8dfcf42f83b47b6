package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/internal/identifier"
	"VirtualDocGateway/pkg/errors"
)

func TestGetUser_Self(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	user, err := env.gateway.GetUser(ctx, claimsFor("alice"), "alice")
	require.NoError(t, err)
	assert.Equal(t, identifier.UserInternalID("alice"), user.ID)
	assert.Equal(t, "alice", user.Subject)
}

func TestGetUser_Stranger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")
	env.mustBootstrap(t, "bob")

	// Существующий чужой документ дает Forbidden, а не NotFound
	_, err := env.gateway.GetUser(ctx, claimsFor("bob"), "alice")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrForbidden))
}

func TestGetUser_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.gateway.GetUser(context.Background(), claimsFor("alice"), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestGetUser_EmptyID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.gateway.GetUser(context.Background(), claimsFor("alice"), "")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrMalformedID))
}

func TestUpdateUser_Self(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	before := env.mustBootstrap(t, "alice")

	user, err := env.gateway.UpdateUser(ctx, claimsFor("alice"), "alice", map[string]interface{}{
		"displayName": "Alice",
		"email":       "alice@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, before.Rev, user.Rev)
	assert.Equal(t, 1, env.publisher.count())
}

func TestUpdateUser_ImmutableFieldRejectsWholePatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	// Патч отклоняется целиком: изменяемое поле из него тоже не применяется
	_, err := env.gateway.UpdateUser(ctx, claimsFor("alice"), "alice", map[string]interface{}{
		"displayName": "Alice",
		"subject":     "mallory",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrImmutableField))

	typed := err.(*errors.Error)
	assert.Equal(t, []string{"subject"}, typed.Fields)

	user, err := env.gateway.GetUser(ctx, claimsFor("alice"), "alice")
	require.NoError(t, err)
	assert.Empty(t, user.DisplayName)
	assert.Equal(t, "alice", user.Subject)
}

func TestUpdateUser_Stranger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")
	env.mustBootstrap(t, "bob")

	_, err := env.gateway.UpdateUser(ctx, claimsFor("bob"), "alice", map[string]interface{}{
		"displayName": "Hacked",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrForbidden))
}

func TestUpdateUser_ActiveTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	workspace, err := env.gateway.CreateTenant(ctx, claimsFor("alice"), "Team", nil)
	require.NoError(t, err)

	user, err := env.gateway.UpdateUser(ctx, claimsFor("alice"), "alice", map[string]interface{}{
		"activeTenantId": workspace.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, workspace.ID, user.ActiveTenantID)

	// Смена активного тенанта сбрасывает закэшированный контекст
	_, ok := env.cache.Get(ctx, "alice")
	assert.False(t, ok)
}

func TestUpdateUser_MalformedActiveTenant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	_, err := env.gateway.UpdateUser(ctx, claimsFor("alice"), "alice", map[string]interface{}{
		"activeTenantId": "not-a-tenant",
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrMalformedID))
}

func TestUpdateUser_NonStringValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	_, err := env.gateway.UpdateUser(ctx, claimsFor("alice"), "alice", map[string]interface{}{
		"displayName": 42,
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
}

func TestDeleteUser_SelfForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	err := env.gateway.DeleteUser(ctx, claimsFor("alice"), "alice")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrForbidden))

	// Документ остается на месте
	_, err = env.gateway.GetUser(ctx, claimsFor("alice"), "alice")
	assert.NoError(t, err)
}

func TestDeleteUser_StrangerForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")
	env.mustBootstrap(t, "bob")

	err := env.gateway.DeleteUser(ctx, claimsFor("bob"), "alice")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrForbidden))
}

func TestDeleteUser_NotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.gateway.DeleteUser(context.Background(), claimsFor("alice"), "ghost")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestUpdateUser_DeletedIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.mustBootstrap(t, "alice")

	// Помечаем документ удаленным напрямую в хранилище
	doc, err := env.store.GetDocument(ctx, domain.UsersDB, alice.ID)
	require.NoError(t, err)
	doc["deleted"] = true
	_, err = env.store.PutDocument(ctx, domain.UsersDB, alice.ID, doc)
	require.NoError(t, err)

	_, err = env.gateway.GetUser(ctx, claimsFor("alice"), "alice")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}
