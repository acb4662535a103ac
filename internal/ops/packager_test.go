package ops_test

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/sshsync/internal/manifest"
	"github.com/studio1767/sshsync/internal/ops"
)

// readArchive decompresses and untars an archive into a map of name to content.
func readArchive(t *testing.T, data []byte, compression ops.Compression) map[string]string {
	t.Helper()

	var r io.Reader
	switch compression {
	case ops.CompressionZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer zr.Close()
		r = zr
	default:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	}

	files := make(map[string]string)
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.Equal(t, 0, hdr.Uid)
		require.Empty(t, hdr.Uname)

		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(content)
	}
	return files
}

func TestWritePackage(t *testing.T) {
	for _, compression := range []ops.Compression{ops.CompressionGzip, ops.CompressionZstd} {
		t.Run(string(compression), func(t *testing.T) {
			root := t.TempDir()
			writeTree(t, root, map[string]string{
				"a.txt":         "unchanged",
				"b.txt":         "changed",
				"dir/sub/c.txt": "new",
			})

			ctx := context.Background()
			local, err := ops.ScanTree(ctx, root, nil, 2)
			require.NoError(t, err)

			prior := manifest.Snapshot{
				local["a.txt"],
				{RelPath: "b.txt", ModTicks: 1, Size: 1},
				{RelPath: "gone.txt", ModTicks: 1, Size: 1},
			}
			diff := ops.Compare(local, prior)

			archive := bytes.NewBuffer(nil)
			pkg, err := ops.WritePackage(ctx, root, local, diff, archive, compression)
			require.NoError(t, err)

			require.Equal(t, 2, pkg.Archived)
			require.Equal(t, int64(len("changed")+len("new")), pkg.ArchivedBytes)
			require.Empty(t, pkg.Failed)
			require.Equal(t, local.Snapshot(), pkg.Snapshot)

			files := readArchive(t, archive.Bytes(), compression)
			require.Equal(t, map[string]string{
				"b.txt":         "changed",
				"dir/sub/c.txt": "new",
			}, files)
		})
	}
}

func TestWritePackageEmptyDelta(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})

	ctx := context.Background()
	local, err := ops.ScanTree(ctx, root, nil, 1)
	require.NoError(t, err)

	diff := ops.Compare(local, local.Snapshot())

	archive := bytes.NewBuffer(nil)
	pkg, err := ops.WritePackage(ctx, root, local, diff, archive, ops.CompressionGzip)
	require.NoError(t, err)
	require.Equal(t, 0, pkg.Archived)
	require.Empty(t, readArchive(t, archive.Bytes(), ops.CompressionGzip))
}

func TestWritePackageUnreadableFileIsRetried(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":    "a",
		"gone.txt": "vanishes",
	})

	ctx := context.Background()
	local, err := ops.ScanTree(ctx, root, nil, 1)
	require.NoError(t, err)
	diff := ops.Compare(local, nil)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))

	archive := bytes.NewBuffer(nil)
	pkg, err := ops.WritePackage(ctx, root, local, diff, archive, ops.CompressionGzip)
	require.NoError(t, err)

	require.Equal(t, 1, pkg.Archived)
	require.Equal(t, []string{"gone.txt"}, pkg.Failed)
	require.Equal(t, map[string]string{"a.txt": "a"}, readArchive(t, archive.Bytes(), ops.CompressionGzip))

	// every local path is still recorded, the failed one with zero ticks
	require.Len(t, pkg.Snapshot, 2)
	for _, entry := range pkg.Snapshot {
		if entry.RelPath == "gone.txt" {
			require.Equal(t, int64(0), entry.ModTicks)
		} else {
			require.Equal(t, local[entry.RelPath], entry)
		}
	}

	// which means the next comparison uploads it again
	next := ops.Compare(local, pkg.Snapshot)
	require.True(t, next.ToUpload.Contains("gone.txt"))
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestWritePackageArchiveFailure(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": string(bytes.Repeat([]byte("x"), 1<<20))})

	ctx := context.Background()
	local, err := ops.ScanTree(ctx, root, nil, 1)
	require.NoError(t, err)

	_, err = ops.WritePackage(ctx, root, local, ops.Compare(local, nil), failingWriter{}, ops.CompressionGzip)
	require.Error(t, err)
}

func TestCompressionNames(t *testing.T) {
	c, err := ops.ParseCompression("")
	require.NoError(t, err)
	require.Equal(t, ops.CompressionGzip, c)
	require.Equal(t, "compressedUploadDiffContent.tar.gz", c.ArchiveName())
	require.Equal(t, "tar -xzf compressedUploadDiffContent.tar.gz", c.ExtractCommand())

	c, err = ops.ParseCompression("zstd")
	require.NoError(t, err)
	require.Equal(t, "compressedUploadDiffContent.tar.zst", c.ArchiveName())

	_, err = ops.ParseCompression("bzip2")
	require.Error(t, err)
}
