package ops

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/studio1767/sshsync/internal/manifest"
)

type Compression string

const (
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionGzip:
		return CompressionGzip, nil
	case CompressionZstd:
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unknown compression: %s", name)
}

// ArchiveName is the fixed remote name of the delta archive.
func (c Compression) ArchiveName() string {
	if c == CompressionZstd {
		return "compressedUploadDiffContent.tar.zst"
	}
	return "compressedUploadDiffContent.tar.gz"
}

// ExtractCommand is the remote shell command that unpacks the archive into the current
// directory.
func (c Compression) ExtractCommand() string {
	if c == CompressionZstd {
		return "tar --zstd -xf " + c.ArchiveName()
	}
	return "tar -xzf " + c.ArchiveName()
}

func (c Compression) writer(w io.Writer) (io.WriteCloser, error) {
	if c == CompressionZstd {
		return zstd.NewWriter(w)
	}
	return gzip.NewWriter(w), nil
}

// Package is the outcome of packaging a delta.
type Package struct {
	// Snapshot is the new cache: every local path with its current fingerprint, except
	// that files which could not be archived are recorded with zero ticks so the next
	// run retries them.
	Snapshot manifest.Snapshot

	Archived      int
	ArchivedBytes int64
	Failed        []string
}

// WritePackage streams the content of every path in diff.ToUpload into a single
// compressed tar archive written to archive, and builds the new cache snapshot from all
// local fingerprints.
//
// A file that cannot be read is logged and left out (or, if it fails part way, padded to
// its announced size) without stopping the rest. Errors writing the archive itself are
// returned.
func WritePackage(ctx context.Context, root string, local Fingerprints, diff *DiffResult, archive io.Writer, compression Compression) (*Package, error) {
	cw, err := compression.writer(archive)
	if err != nil {
		return nil, err
	}

	pkg := Package{}
	failed := make(map[string]bool)

	sink := &errWriter{w: cw}
	tw := tar.NewWriter(sink)

	for _, rpath := range Sorted(diff.ToUpload) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		nbytes, err := addFile(tw, root, rpath)
		if sink.err != nil {
			return nil, fmt.Errorf("failed writing archive: %w", sink.err)
		}
		if err != nil {
			slog.Error("failed to archive file", "path", rpath, "error", err)
			failed[rpath] = true
			pkg.Failed = append(pkg.Failed, rpath)
			continue
		}

		pkg.Archived++
		pkg.ArchivedBytes += nbytes
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed writing archive: %w", err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("failed writing archive: %w", err)
	}

	pkg.Snapshot = local.Snapshot()
	for i := range pkg.Snapshot {
		if failed[pkg.Snapshot[i].RelPath] {
			pkg.Snapshot[i].ModTicks = 0
		}
	}

	return &pkg, nil
}

// addFile writes one file entry. Once the header is written the entry is always
// completed so the archive stays readable.
func addFile(tw *tar.Writer, root, rpath string) (int64, error) {
	source, err := os.Open(filepath.Join(root, filepath.FromSlash(rpath)))
	if err != nil {
		return 0, err
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("not a regular file")
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}

	// ownership is not carried over
	hdr.Name = rpath
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return 0, err
	}

	nbytes, err := io.Copy(tw, io.LimitReader(source, hdr.Size))
	if err == nil && nbytes < hdr.Size {
		err = fmt.Errorf("file shrank while archiving: %d of %d bytes", nbytes, hdr.Size)
	}
	if err != nil {
		if _, perr := io.CopyN(tw, zeros{}, hdr.Size-nbytes); perr != nil {
			return nbytes, perr
		}
		return nbytes, err
	}

	return nbytes, nil
}

// errWriter remembers the first write error so archive failures can be told apart from
// failures reading a source file.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) Write(p []byte) (int, error) {
	if ew.err != nil {
		return 0, ew.err
	}
	n, err := ew.w.Write(p)
	if err != nil {
		ew.err = err
	}
	return n, err
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
