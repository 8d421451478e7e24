package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic_CreatesFileWithExactContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")

	require.NoError(t, writeAtomic(path, []byte(`{"a":1}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no leftover temp file after a successful write")
}

func TestWriteAtomic_RotatesPriorFileToBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.json")

	require.NoError(t, writeAtomic(path, []byte("v1")))
	require.NoError(t, writeAtomic(path, []byte("v2")))

	cur, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(cur))

	backup, err := os.ReadFile(path + ".backup")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(backup))
}

func TestHDF5Writer_WriteAnatomical_ProducesValidNpyHeader(t *testing.T) {
	dir := t.TempDir()
	w := NewHDF5Writer(4)

	data := make([]byte, 4*3)
	require.NoError(t, w.WriteAnatomical(dir, data, 4, 3, 8))

	raw, err := os.ReadFile(filepath.Join(dir, "anatomical.npy"))
	require.NoError(t, err)
	assert.Equal(t, npyMagic, raw[:6])
	assert.Equal(t, byte(1), raw[6], "major version")
}

func TestHDF5Writer_WriteAnatomical_RejectsUnsupportedBitDepth(t *testing.T) {
	dir := t.TempDir()
	w := NewHDF5Writer(4)
	err := w.WriteAnatomical(dir, []byte{1, 2}, 1, 2, 32)
	assert.Error(t, err)
}
