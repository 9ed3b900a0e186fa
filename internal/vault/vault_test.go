package vault

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumlabs/quorum/internal/store"
)

func newTestVault(t *testing.T) (*Vault, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	v, err := Open(context.Background(), st)
	require.NoError(t, err)
	return v, st
}

func TestVaultLifecycle(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	assert.True(t, v.IsLocked())
	_, err := v.Get("anthropic")
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, v.Unlock(ctx, []byte("correct horse battery")))
	assert.False(t, v.IsLocked())

	require.NoError(t, v.Set(ctx, "anthropic", "sk-ant-secret"))
	got, err := v.Get("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-secret", got)

	v.Lock()
	assert.True(t, v.IsLocked())
	_, err = v.Get("anthropic")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestVaultPersistsAcrossOpens(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Unlock(ctx, []byte("correct horse battery")))
	require.NoError(t, v.Set(ctx, "openai", "sk-oai-secret"))

	reopened, err := Open(ctx, st)
	require.NoError(t, err)
	require.NoError(t, reopened.Unlock(ctx, []byte("correct horse battery")))

	got, err := reopened.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-oai-secret", got)
}

func TestVaultRejectsWrongPassword(t *testing.T) {
	v, st := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Unlock(ctx, []byte("correct horse battery")))
	require.NoError(t, v.Set(ctx, "anthropic", "sk-ant-secret"))

	reopened, err := Open(ctx, st)
	require.NoError(t, err)
	err = reopened.Unlock(ctx, []byte("totally wrong pw"))
	assert.ErrorIs(t, err, ErrBadPassword)
	assert.True(t, reopened.IsLocked())
}

func TestVaultShortPasswordRejected(t *testing.T) {
	v, _ := newTestVault(t)
	assert.Error(t, v.Unlock(context.Background(), []byte("short")))
}

func TestVaultKeysOmitSentinel(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Unlock(ctx, []byte("correct horse battery")))
	require.NoError(t, v.Set(ctx, "anthropic", "a"))
	require.NoError(t, v.Set(ctx, "openai", "b"))

	keys := v.Keys()
	assert.ElementsMatch(t, []string{"anthropic", "openai"}, keys)
}

func TestVaultDelete(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Unlock(ctx, []byte("correct horse battery")))
	require.NoError(t, v.Set(ctx, "vllm", "token"))
	require.NoError(t, v.Delete(ctx, "vllm"))

	_, err := v.Get("vllm")
	assert.ErrorIs(t, err, ErrNotFound)
}
