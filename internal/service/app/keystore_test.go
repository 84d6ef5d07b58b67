package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeystore_ReloadsSameKeys(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()

	first, created, err := LoadOrCreateKeystore(dir, "@Alice")
	req.NoError(err)
	req.True(created)

	info, err := os.Stat(filepath.Join(dir, "@alice.json"))
	req.NoError(err)
	req.Equal(os.FileMode(0o600), info.Mode().Perm())

	second, created, err := LoadOrCreateKeystore(dir, "@alice")
	req.NoError(err)
	req.False(created)
	req.Equal(first.PublicKey, second.PublicKey)
	req.Equal(first.priv, second.priv)
}

func TestKeystore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "@bob.json"), []byte(`{"privateKey":"AAAA"}`), 0o600))

	_, _, err := LoadOrCreateKeystore(dir, "@bob")
	require.Error(t, err)
}
