package backup

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateArchivesDocumentsAndSkipsLocks(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "roster.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "roster.json.lock"), nil, 0o644))

	a, err := New(dataDir, t.TempDir())
	require.NoError(t, err)

	path, err := a.Create()
	require.NoError(t, err)

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.File, 1)
	require.Equal(t, "roster.json", r.File[0].Name)
}
