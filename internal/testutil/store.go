package testutil

import (
	"path/filepath"
	"testing"

	"github.com/andyfreed/kiddos/internal/secrets"
	"github.com/andyfreed/kiddos/internal/store"
)

// Test signing and encryption keys for use in tests only.
// 32 bytes for secretbox / HMAC key material.
const (
	TestEncryptionKey = "12345678901234567890123456789012"
	TestSigningKey    = "test-signing-key-1234567890123456"
	TestUserID        = "user-1"
)

// NewTestStore creates a store in a temp dir and registers t.Cleanup to
// close it.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "kiddos.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestVault creates a credential vault in a temp dir and registers
// t.Cleanup to close it. Uses TestEncryptionKey.
func NewTestVault(t *testing.T) *secrets.Vault {
	t.Helper()
	dir := t.TempDir()
	vault, err := secrets.NewVault(filepath.Join(dir, "vault.db"), TestEncryptionKey)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vault.Close() })
	return vault
}
