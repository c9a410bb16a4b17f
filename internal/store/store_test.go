package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")

	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set(KeyWalletsEnvelope, "X1W:v3:abc"))
	require.NoError(t, fs.Set(KeyActiveWalletID, "w1"))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	v, ok, err := reopened.Get(KeyWalletsEnvelope)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "X1W:v3:abc", v)

	require.NoError(t, reopened.Remove(KeyActiveWalletID, "absent-key"))
	_, ok, err = reopened.Get(KeyActiveWalletID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, fs.Set("k", "v"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestMemoryStore(t *testing.T) {
	ms := NewMemoryStore()
	_, ok, err := ms.Get(KeySessionPassword)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ms.Set(KeySessionPassword, "pw"))
	v, ok, err := ms.Get(KeySessionPassword)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "pw", v)

	require.NoError(t, ms.Remove(KeySessionPassword))
	_, ok, _ = ms.Get(KeySessionPassword)
	assert.False(t, ok)
}
