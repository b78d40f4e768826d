package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

func TestValidateScopes(t *testing.T) {
	approved := []string{"a", "b", "c"}

	assert.True(t, ValidateScopes(approved, nil))
	assert.True(t, ValidateScopes(approved, []string{}))
	assert.True(t, ValidateScopes(approved, []string{"a", "b", "c"}))
	assert.True(t, ValidateScopes(approved, []string{"b"}))
	assert.False(t, ValidateScopes(approved, []string{"a", "b", "c", "d"}))
	assert.False(t, ValidateScopes(nil, []string{"a"}))
}

func TestCheckClientScopes(t *testing.T) {
	client := &storage.Client{Scopes: types.ScopesOf("read")}

	assert.NoError(t, CheckClientScopes(client, types.ScopesOf("read")))
	assert.NoError(t, CheckClientScopes(client, nil))

	err := CheckClientScopes(client, types.ScopesOf("read", "admin"))
	assert.ErrorIs(t, err, errorx.ErrInvalidScope)
	assert.Contains(t, err.Error(), "admin")
}

func TestApprovals(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	ok, err := ApprovedFor(ctx, store, "alice", "my-client-1", types.ScopesOf("read"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, Approve(ctx, store, "alice", "my-client-1", types.ScopesOf("read")))
	require.NoError(t, Approve(ctx, store, "alice", "my-client-1", types.ScopesOf("write", "read")))

	ok, err = ApprovedFor(ctx, store, "alice", "my-client-1", types.ScopesOf("read", "write"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ApprovedFor(ctx, store, "alice", "my-client-1", types.ScopesOf("admin"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ApprovedFor(ctx, store, "bob", "my-client-1", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}
