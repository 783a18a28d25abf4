package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDigest(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "nested", "b.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(b), 0o755))
	require.NoError(t, os.WriteFile(a, []byte("lodash@4.17.21\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("lodash@4.17.21\n"), 0o644))

	da, err := FileDigest(a)
	require.NoError(t, err)
	db, err := FileDigest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
	assert.Equal(t, BytesDigest([]byte("lodash@4.17.21\n")), da)

	require.NoError(t, os.WriteFile(b, []byte("lodash@4.17.20\n"), 0o644))
	db, err = FileDigest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestBytesDigestKnownValue(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", BytesDigest(nil))
}

func TestFileDigestMissing(t *testing.T) {
	_, err := FileDigest(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}
