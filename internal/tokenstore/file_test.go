package tokenstore_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apptemplate/clientkit/internal/encryption"
	"github.com/apptemplate/clientkit/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "tokens.yaml")

	store, err := tokenstore.NewFile(path, nil)
	require.NoError(t, err)

	assertTokens(t, store, "", "", "")

	require.NoError(t, store.SetTokens(ctx, tokenstore.Pair{Access: "a1", Refresh: "r1"}))
	require.NoError(t, store.SetToken(ctx, tokenstore.BasicAccess, "b1"))
	assertTokens(t, store, "a1", "r1", "b1")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// a second store on the same file sees the same session
	reopened, err := tokenstore.NewFile(path, nil)
	require.NoError(t, err)
	assertTokens(t, reopened, "a1", "r1", "b1")

	require.NoError(t, reopened.RemoveTokens(ctx))
	assertTokens(t, store, "", "", "")

	// removing twice is not an error
	require.NoError(t, store.RemoveTokens(ctx))
}

func TestFile_Encrypted(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.yaml")

	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	store, err := tokenstore.NewFile(path, tokenstore.NewTinkEncryptionStrategy(aead))
	require.NoError(t, err)

	require.NoError(t, store.SetTokens(ctx, tokenstore.Pair{Access: "secret-access", Refresh: "secret-refresh"}))
	assertTokens(t, store, "secret-access", "secret-refresh", "")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "secret-access")
	assert.Contains(t, string(content), "enc:access")
	assert.Contains(t, string(content), "ck-enc:")
}

func TestFile_PlaintextUnderEncryptedKeyFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("enc:access: not-encrypted\n"), 0o600))

	aead, err := encryption.NewTestAEAD()
	require.NoError(t, err)

	store, err := tokenstore.NewFile(path, tokenstore.NewTinkEncryptionStrategy(aead))
	require.NoError(t, err)

	_, err = store.Token(ctx, tokenstore.Access)
	assert.ErrorContains(t, err, "token decryption failure")
}

func TestFile_CorruptDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	require.NoError(t, os.WriteFile(path, []byte("access: [unterminated\n"), 0o600))

	store, err := tokenstore.NewFile(path, nil)
	require.NoError(t, err)

	_, err = store.Token(context.Background(), tokenstore.Access)
	assert.ErrorContains(t, err, "parsing token file")

	err = store.SetToken(context.Background(), tokenstore.Access, "a1")
	assert.ErrorContains(t, err, "parsing token file")
}

func TestFile_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := tokenstore.NewFile(filepath.Join(dir, "tokens.yaml"), nil)
	require.NoError(t, err)

	for range 5 {
		require.NoError(t, store.SetTokens(ctx, tokenstore.Pair{Access: "a", Refresh: "r"}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".tokens-"), "left over %s", entry.Name())
	}
	assert.Len(t, entries, 1)
}
