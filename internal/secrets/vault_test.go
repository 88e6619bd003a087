package secrets

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "12345678901234567890123456789012"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	dir := t.TempDir()
	v, err := NewVault(filepath.Join(dir, "vault.db"), testEncryptionKey)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestSetAndGetRoundTrip(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "user-1", KeyOpenAIAPIKey, []byte("sk-test-abc")))

	value, err := v.Get(ctx, "user-1", KeyOpenAIAPIKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("sk-test-abc"), value)
}

func TestSetOverwritesExisting(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "user-1", KeyOpenAIAPIKey, []byte("old")))
	require.NoError(t, v.Set(ctx, "user-1", KeyOpenAIAPIKey, []byte("new")))

	value, err := v.Get(ctx, "user-1", KeyOpenAIAPIKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), value)
}

func TestGetMissingSecret(t *testing.T) {
	v := newTestVault(t)

	_, err := v.Get(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestSecretsAreUserScoped(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "alice", KeyOpenAIAPIKey, []byte("alices-key")))

	_, err := v.Get(ctx, "bob", KeyOpenAIAPIKey)
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestGetWithWrongKeyFailsDecryption(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "vault.db")

	v1, err := NewVault(dbPath, testEncryptionKey)
	require.NoError(t, err)
	require.NoError(t, v1.Set(context.Background(), "user-1", KeyOpenAIAPIKey, []byte("sk-test")))
	require.NoError(t, v1.Close())

	v2, err := NewVault(dbPath, "abcdefghijklmnopqrstuvwxyz012345")
	require.NoError(t, err)
	defer v2.Close()

	_, err = v2.Get(context.Background(), "user-1", KeyOpenAIAPIKey)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestDelete(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "user-1", KeyOpenAIAPIKey, []byte("sk-test")))
	require.NoError(t, v.Delete(ctx, "user-1", KeyOpenAIAPIKey))

	_, err := v.Get(ctx, "user-1", KeyOpenAIAPIKey)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	assert.ErrorIs(t, v.Delete(ctx, "user-1", KeyOpenAIAPIKey), ErrSecretNotFound)
}

func TestListMetadataCountsAccess(t *testing.T) {
	v := newTestVault(t)
	ctx := context.Background()

	require.NoError(t, v.Set(ctx, "user-1", KeyOpenAIAPIKey, []byte("sk-test")))
	for i := 0; i < 3; i++ {
		_, err := v.Get(ctx, "user-1", KeyOpenAIAPIKey)
		require.NoError(t, err)
	}

	metas, err := v.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, KeyOpenAIAPIKey, metas[0].Name)
	assert.Equal(t, 3, metas[0].AccessCount)
	assert.False(t, metas[0].AccessedAt.IsZero())
}

func TestNewVaultRejectsBadKey(t *testing.T) {
	dir := t.TempDir()

	_, err := NewVault(filepath.Join(dir, "vault.db"), "short")
	assert.ErrorIs(t, err, ErrInvalidEncryptionKey)
}

func TestNewVaultAcceptsHexKey(t *testing.T) {
	dir := t.TempDir()

	hexKey := "000102030405060708090a0b0c0d0e0f000102030405060708090a0b0c0d0e0f"
	v, err := NewVault(filepath.Join(dir, "vault.db"), hexKey)
	require.NoError(t, err)
	defer v.Close()

	ctx := context.Background()
	require.NoError(t, v.Set(ctx, "user-1", "k", []byte("v")))
	value, err := v.Get(ctx, "user-1", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
}
