package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wallets", "gallery.json")

	require.NoError(t, SaveToKeystore(path, key, "correct horse", WithLightKDF()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())
	require.Equal(t, key.PubKey().Address().String(), loaded.PubKey().Address().String())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestSaveToKeystoreValidatesInput(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	dir := t.TempDir()

	require.ErrorIs(t, SaveToKeystore(filepath.Join(dir, "k.json"), nil, "pw"), ErrNilKey)
	require.ErrorIs(t, SaveToKeystore("", key, "pw"), ErrEmptyKeystorePath)
	require.ErrorIs(t, SaveToKeystore(filepath.Join(dir, "k.json"), key, ""), ErrEmptyPassphrase)

	_, err = LoadFromKeystore("", "pw")
	require.ErrorIs(t, err, ErrEmptyKeystorePath)
}
