package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VirtualDocGateway/internal/domain"
	"VirtualDocGateway/pkg/errors"
)

func TestBulkWrite_BestEffort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	first, err := env.gateway.CreateTenant(ctx, claimsFor("alice"), "First", nil)
	require.NoError(t, err)
	second, err := env.gateway.CreateTenant(ctx, claimsFor("alice"), "Second", nil)
	require.NoError(t, err)
	third, err := env.gateway.CreateTenant(ctx, claimsFor("alice"), "Third", nil)
	require.NoError(t, err)

	results, err := env.gateway.BulkWrite(ctx, claimsFor("alice"), domain.TenantsDB, []BulkOp{
		{ID: first.ID, Patch: map[string]interface{}{"name": "First renamed"}},
		{ID: second.ID, Patch: map[string]interface{}{"ownerId": "user_evil"}},
		{ID: third.ID, Patch: map[string]interface{}{"name": "Third renamed"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Результаты идут в порядке входного массива
	assert.Equal(t, first.ID, results[0].ID)
	assert.True(t, results[0].OK)
	assert.NotEmpty(t, results[0].Rev)

	require.NotNil(t, results[1].Err)
	assert.Equal(t, errors.ErrImmutableField, results[1].Err.Code)
	assert.False(t, results[1].OK)

	assert.True(t, results[2].OK)

	// Отказ одной операции не откатывает остальные
	got, err := env.gateway.GetTenant(ctx, claimsFor("alice"), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "First renamed", got.Name)

	got, err = env.gateway.GetTenant(ctx, claimsFor("alice"), second.ID)
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Name)

	got, err = env.gateway.GetTenant(ctx, claimsFor("alice"), third.ID)
	require.NoError(t, err)
	assert.Equal(t, "Third renamed", got.Name)
}

func TestBulkWrite_UserPatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	results, err := env.gateway.BulkWrite(ctx, claimsFor("alice"), domain.UsersDB, []BulkOp{
		{ID: "alice", Patch: map[string]interface{}{"displayName": "Alice"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	user, err := env.gateway.GetUser(ctx, claimsFor("alice"), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.DisplayName)
}

func TestBulkWrite_UserDeleteForbidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")
	env.mustBootstrap(t, "bob")

	results, err := env.gateway.BulkWrite(ctx, claimsFor("alice"), domain.UsersDB, []BulkOp{
		{ID: "alice", Delete: true},
		{ID: "bob", Delete: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.NotNil(t, results[0].Err)
	assert.Equal(t, errors.ErrForbidden, results[0].Err.Code)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, errors.ErrForbidden, results[1].Err.Code)
}

func TestBulkWrite_TenantDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	workspace, err := env.gateway.CreateTenant(ctx, claimsFor("alice"), "Team", nil)
	require.NoError(t, err)

	results, err := env.gateway.BulkWrite(ctx, claimsFor("alice"), domain.TenantsDB, []BulkOp{
		{ID: workspace.ID, Delete: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)

	_, err = env.gateway.GetTenant(ctx, claimsFor("alice"), workspace.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}

func TestBulkWrite_StrangerOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")
	env.mustBootstrap(t, "bob")

	results, err := env.gateway.BulkWrite(ctx, claimsFor("bob"), domain.UsersDB, []BulkOp{
		{ID: "alice", Patch: map[string]interface{}{"displayName": "Hacked"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, errors.ErrForbidden, results[0].Err.Code)
}

func TestBulkWrite_UnknownDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	results, err := env.gateway.BulkWrite(ctx, claimsFor("alice"), domain.UsersDB, []BulkOp{
		{ID: "ghost", Patch: map[string]interface{}{"displayName": "Ghost"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, errors.ErrNotFound, results[0].Err.Code)
}

func TestBulkWrite_UnknownCollection(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.gateway.BulkWrite(context.Background(), claimsFor("alice"), "projects", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
}

func TestBulkWrite_PublishesOnlySuccesses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBootstrap(t, "alice")

	workspace, err := env.gateway.CreateTenant(ctx, claimsFor("alice"), "Team", nil)
	require.NoError(t, err)
	published := env.publisher.count()

	_, err = env.gateway.BulkWrite(ctx, claimsFor("alice"), domain.TenantsDB, []BulkOp{
		{ID: workspace.ID, Patch: map[string]interface{}{"name": "Renamed"}},
		{ID: workspace.ID, Patch: map[string]interface{}{"ownerId": "user_evil"}},
	})
	require.NoError(t, err)

	assert.Equal(t, published+1, env.publisher.count())
}
