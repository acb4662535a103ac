package ops_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeTree creates the files below root with the given contents and a fixed
// modification time so fingerprints are predictable.
func writeTree(t *testing.T, root string, files map[string]string) time.Time {
	t.Helper()

	mtime := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)
	for rel, content := range files {
		fpath := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(fpath), 0755))
		require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))
		require.NoError(t, os.Chtimes(fpath, mtime, mtime))
	}
	return mtime
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
