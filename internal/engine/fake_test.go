package engine_test

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"

	"github.com/studio1767/sshsync/internal/engine"
	"github.com/studio1767/sshsync/internal/manifest"
	"github.com/studio1767/sshsync/internal/transport"
)

// fakeRemote is an in-memory destination. Run understands the commands the applier
// composes and applies them to the file map.
type fakeRemote struct {
	dir         string
	files       map[string][]byte
	uploads     []string
	commands    []string
	deleteLists [][]byte

	failRun bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files: make(map[string][]byte),
	}
}

func (f *fakeRemote) Upload(ctx context.Context, source io.Reader, path string) (int64, error) {
	data, err := io.ReadAll(source)
	if err != nil {
		return 0, err
	}
	f.files[path] = data
	f.uploads = append(f.uploads, path)
	if path == engine.DeleteListName {
		f.deleteLists = append(f.deleteLists, data)
	}
	return int64(len(data)), nil
}

func (f *fakeRemote) Download(ctx context.Context, path string, sink io.Writer) (int64, error) {
	data, ok := f.files[path]
	if !ok {
		return 0, &transport.ErrNoSuchFile{Path: path}
	}
	n, err := sink.Write(data)
	return int64(n), err
}

func (f *fakeRemote) EnsureDirectory(ctx context.Context, dir string) error {
	f.dir = dir
	return nil
}

func (f *fakeRemote) Close() error {
	return nil
}

func (f *fakeRemote) Run(ctx context.Context, command string) (int, string, error) {
	f.commands = append(f.commands, command)
	if f.failRun {
		return 2, "tar: unexpected end of file\n", nil
	}

	steps := strings.Split(command, " && ")
	if steps[0] != "cd "+transport.Quote(f.dir) {
		return 1, "wrong directory: " + steps[0], nil
	}

	for _, step := range steps[1:] {
		fields := strings.Fields(step)
		switch {
		case strings.HasPrefix(step, "tar -xzf "):
			if err := f.extract(fields[2], false); err != nil {
				return 2, err.Error(), nil
			}
		case strings.HasPrefix(step, "tar --zstd -xf "):
			if err := f.extract(fields[3], true); err != nil {
				return 2, err.Error(), nil
			}
		case strings.HasPrefix(step, "rm -rf -- "):
			for _, quoted := range fields[3:] {
				target := strings.Trim(quoted, "'")
				for name := range f.files {
					if name == target || strings.HasPrefix(name, target+"/") {
						delete(f.files, name)
					}
				}
			}
		case strings.HasPrefix(step, "rm -f "):
			delete(f.files, fields[2])
		case strings.HasPrefix(step, "mv -f "):
			data, ok := f.files[fields[2]]
			if !ok {
				return 1, "mv: cannot stat " + fields[2], nil
			}
			f.files[fields[3]] = data
			delete(f.files, fields[2])
		case strings.HasPrefix(step, "while IFS= read -r file"):
			list := fields[len(fields)-1]
			scanner := bufio.NewScanner(bytes.NewReader(f.files[list]))
			for scanner.Scan() {
				delete(f.files, scanner.Text())
			}
		default:
			return 127, "unknown command: " + step, nil
		}
	}
	return 0, "", nil
}

func (f *fakeRemote) extract(name string, zst bool) error {
	var r io.Reader
	if zst {
		zr, err := zstd.NewReader(bytes.NewReader(f.files[name]))
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	} else {
		gr, err := gzip.NewReader(bytes.NewReader(f.files[name]))
		if err != nil {
			return err
		}
		defer gr.Close()
		r = gr
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		f.files[hdr.Name] = data
	}
}

func (f *fakeRemote) cache(t *testing.T) manifest.Snapshot {
	t.Helper()

	data, ok := f.files[manifest.LiveName]
	require.True(t, ok, "no live cache")

	snap, err := manifest.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return snap
}

func (f *fakeRemote) setCache(t *testing.T, snap manifest.Snapshot) {
	t.Helper()

	data := bytes.NewBuffer(nil)
	require.NoError(t, manifest.Encode(data, snap))
	f.files[manifest.LiveName] = data.Bytes()
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	mtime := time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)
	for rel, content := range files {
		fpath := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(fpath), 0755))
		require.NoError(t, os.WriteFile(fpath, []byte(content), 0644))
		require.NoError(t, os.Chtimes(fpath, mtime, mtime))
	}
}

func zstdArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	data := bytes.NewBuffer(nil)
	zw, err := zstd.NewWriter(data)
	require.NoError(t, err)

	tw := tar.NewWriter(zw)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	return data.Bytes()
}
