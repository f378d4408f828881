package backup

import (
	"archive/tar"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateArchive_IncludesEveryNamedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.db"), []byte("db-a-contents"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.db"), []byte("db-b-contents"), 0o644))

	archivePath := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, CreateArchive(archivePath, dir, []string{"a.db", "b.db"}))

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	names := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names[hdr.Name] = true
	}
	require.True(t, names["a.db"])
	require.True(t, names["b.db"])
}

func TestChecksum_DiffersForDifferentContent(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.db")
	pathB := filepath.Join(dir, "b.db")
	require.NoError(t, os.WriteFile(pathA, []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("two"), 0o644))

	sumA, err := Checksum(pathA)
	require.NoError(t, err)
	sumB, err := Checksum(pathB)
	require.NoError(t, err)
	require.NotEqual(t, sumA, sumB)
}
