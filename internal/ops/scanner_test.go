package ops_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/sshsync/internal/manifest"
	"github.com/studio1767/sshsync/internal/ops"
)

func TestScanNestedTree(t *testing.T) {
	root := t.TempDir()
	mtime := writeTree(t, root, map[string]string{
		"a.txt":              "0123456789",
		"dir/b.txt":          "01234",
		"dir/sub/deep/c.bin": "",
		".hidden":            "h",
	})

	found, err := ops.ScanTree(context.Background(), root, nil, 4)
	require.NoError(t, err)

	require.Len(t, found, 4)
	require.Equal(t, manifest.Entry{RelPath: "a.txt", ModTicks: manifest.Ticks(mtime), Size: 10}, found["a.txt"])
	require.Equal(t, int64(5), found["dir/b.txt"].Size)
	require.Equal(t, int64(0), found["dir/sub/deep/c.bin"].Size)
	require.Contains(t, found, ".hidden")
}

func TestScanRelativeRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".hidden":   "h",
		"dir/x.txt": "x",
	})

	chdir(t, root)

	found, err := ops.ScanTree(context.Background(), ".", nil, 1)
	require.NoError(t, err)
	require.Contains(t, found, ".hidden")
	require.Contains(t, found, "dir/x.txt")
}

func TestScanDeepTree(t *testing.T) {
	root := t.TempDir()

	parts := make([]string, 100)
	for i := range parts {
		parts[i] = "d"
	}
	deep := strings.Join(parts, "/") + "/leaf.txt"
	writeTree(t, root, map[string]string{deep: "leaf"})

	found, err := ops.ScanTree(context.Background(), root, nil, 0)
	require.NoError(t, err)
	require.Contains(t, found, deep)
}

func TestScanMissingSource(t *testing.T) {
	_, err := ops.ScanTree(context.Background(), filepath.Join(t.TempDir(), "absent"), nil, 1)

	var notfound *ops.ErrSourceNotFound
	require.True(t, errors.As(err, &notfound))
}

func TestScanSourceIsFile(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"file": "x"})

	_, err := ops.ScanTree(context.Background(), filepath.Join(root, "file"), nil, 1)

	var notfound *ops.ErrSourceNotFound
	require.True(t, errors.As(err, &notfound))
}

func TestScanSkipsUnreadableDirectory(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"ok.txt":         "ok",
		"locked/no.txt":  "no",
		"open/sub/y.txt": "y",
	})

	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0))
	defer os.Chmod(locked, 0755)

	found, err := ops.ScanTree(context.Background(), root, nil, 2)
	require.NoError(t, err)
	require.Contains(t, found, "ok.txt")
	require.Contains(t, found, "open/sub/y.txt")
	require.NotContains(t, found, "locked/no.txt")
}

func TestScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ops.ScanTree(ctx, root, nil, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScanWithFilter(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"keep/a.go":            "a",
		"keep/a.TXT":           "a",
		"keep/node_modules/x":  "x",
		"keep/cache/.nosync":   "",
		"keep/cache/blob.go":   "b",
		"keep/build/out.go":    "o",
		"other/skip.go":        "s",
		"keep/deep/tmp/log.go": "l",
	})

	filter, err := ops.NewFilter(ops.FilterOptions{
		IncludeTopDirs:    []string{"keep"},
		SkipDirs:          []string{"node_modules"},
		SkipDirItems:      []string{".nosync"},
		ExcludeExtensions: []string{"txt"},
		ExcludePatterns:   []string{"keep/build", "**/tmp/**"},
	})
	require.NoError(t, err)

	found, err := ops.ScanTree(context.Background(), root, filter, 2)
	require.NoError(t, err)

	require.Len(t, found, 1)
	require.Contains(t, found, "keep/a.go")
}
