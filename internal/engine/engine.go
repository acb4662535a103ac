// Package engine runs one incremental sync of a local directory tree to a destination
// directory reached through a transport.
//
// The remote side keeps a cache of the fingerprints it was last synced with. Each run
// compares the local tree against that cache, ships only the difference as one archive
// plus a list of stale paths, and applies both with a single remote command that also
// promotes the new cache.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"

	"github.com/studio1767/sshsync/internal/manifest"
	"github.com/studio1767/sshsync/internal/ops"
	"github.com/studio1767/sshsync/internal/transport"
)

type Options struct {
	// RemoveOldFiles deletes remote files that no longer exist locally.
	RemoveOldFiles bool
	// RemoveTempFiles removes the archive and delete-list once applied.
	RemoveTempFiles bool
	// PrintTimings adds step and elapsed durations to the progress log.
	PrintTimings bool

	Compression ops.Compression
	Workers     int
}

func DefaultOptions() Options {
	return Options{
		RemoveOldFiles:  true,
		RemoveTempFiles: true,
		PrintTimings:    true,
		Compression:     ops.CompressionGzip,
	}
}

// Summary describes what a sync found and did.
type Summary struct {
	Total      int
	TotalBytes int64

	UpToDate int
	New      int
	Modified int
	Stale    int
	Deleted  int

	Archived      int
	ArchivedBytes int64
	Transferred   int64
	Failed        []string

	Elapsed time.Duration
}

// Sync brings destination in line with the tree below source.
//
// The source is scanned before the remote side is touched, so an invalid source has no
// remote effects. An absent or unreadable remote cache means everything is uploaded.
// Uploads happen strictly in order: delete-list, archive, temporary cache. The changes
// are applied by one remote command; if it fails nothing is rolled back.
func Sync(ctx context.Context, t transport.Transport, source, destination string, filter *ops.Filter, opts Options) (*Summary, error) {
	destination = transport.HomeRelative(destination)
	if opts.Compression == "" {
		opts.Compression = ops.CompressionGzip
	}

	tm := newTimer(opts.PrintTimings)
	summary := Summary{}

	// fingerprint the local tree
	local, err := ops.ScanTree(ctx, source, filter, opts.Workers)
	if err != nil {
		return nil, err
	}
	summary.Total = len(local)
	summary.TotalBytes = local.TotalSize()
	tm.step("scanned source", "path", source, "files", summary.Total, "size", humanize.Bytes(uint64(summary.TotalBytes)))

	// prepare the destination and fetch what it was last synced with
	if err := t.EnsureDirectory(ctx, destination); err != nil {
		return nil, fmt.Errorf("failed to create destination %s: %w", destination, err)
	}

	prior, err := manifest.Download(ctx, t)
	if err != nil {
		var nomanifest *manifest.ErrNoSuchManifest
		var corrupt *manifest.ErrCorruptManifest
		switch {
		case errors.As(err, &nomanifest):
			slog.Info("no remote cache, syncing everything", "destination", destination)
		case errors.As(err, &corrupt):
			slog.Warn("remote cache is unreadable, syncing everything", "destination", destination, "error", err)
		default:
			return nil, err
		}
		prior = nil
	}
	tm.step("read remote cache", "entries", len(prior))

	// work out the difference
	diff := ops.Compare(local, prior)

	summary.UpToDate = diff.UpToDate.Cardinality()
	summary.New = diff.New()
	summary.Modified = diff.Modified()
	summary.Stale = diff.ToDelete.Cardinality()

	// paths that switched between file and directory are cleared before extraction,
	// whether or not old files are removed, and are left out of the delete-list
	replaced := diff.Replaced()

	var toDelete []string
	cleared := 0
	for _, stale := range ops.Sorted(diff.ToDelete) {
		if ops.Under(stale, replaced) {
			cleared++
			continue
		}
		if opts.RemoveOldFiles {
			toDelete = append(toDelete, stale)
		}
	}
	toDelete = deletable(toDelete)

	for _, p := range ops.Sorted(diff.ToUpload) {
		status, _ := diff.Status(p)
		slog.Debug("upload", "path", p, "status", status)
	}
	for _, p := range toDelete {
		slog.Debug("delete", "path", p)
	}
	for _, p := range replaced {
		slog.Debug("replace", "path", p)
	}

	tm.step("compared",
		"unchanged", summary.UpToDate,
		"new", summary.New,
		"modified", summary.Modified,
		"stale", summary.Stale,
		"upload", humanize.Bytes(uint64(local.SizeOf(ops.Sorted(diff.ToUpload)))),
	)

	if diff.ToUpload.IsEmpty() && len(toDelete) == 0 {
		slog.Info("destination is up to date", "destination", destination)
		summary.Elapsed = tm.elapsed()
		return &summary, nil
	}

	applier := NewApplier(destination, opts.Compression, opts.RemoveTempFiles)
	applier.ClearBeforeExtract(replaced)

	// package the delta locally before anything is uploaded
	var archive *os.File
	var pkg *ops.Package
	if !diff.ToUpload.IsEmpty() {
		archive, err = os.CreateTemp("", "sshsync-*-"+opts.Compression.ArchiveName())
		if err != nil {
			return nil, err
		}
		defer os.Remove(archive.Name())
		defer archive.Close()

		pkg, err = ops.WritePackage(ctx, source, local, diff, archive, opts.Compression)
		if err != nil {
			return nil, err
		}
		if _, err := archive.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}

		summary.Archived = pkg.Archived
		summary.ArchivedBytes = pkg.ArchivedBytes
		summary.Failed = pkg.Failed
		tm.step("packaged changes", "files", pkg.Archived, "size", humanize.Bytes(uint64(pkg.ArchivedBytes)), "failed", len(pkg.Failed))
	}

	// upload: delete-list, archive, then the new cache
	if len(toDelete) > 0 {
		nbytes, err := t.Upload(ctx, deleteList(toDelete), DeleteListName)
		if err != nil {
			return nil, fmt.Errorf("failed to upload delete-list: %w", err)
		}
		applier.MarkUploaded(FlagDeleteList)
		summary.Transferred += nbytes
		tm.step("uploaded delete-list", "paths", len(toDelete))
	}

	if pkg != nil {
		nbytes, err := t.Upload(ctx, archive, opts.Compression.ArchiveName())
		if err != nil {
			return nil, fmt.Errorf("failed to upload archive: %w", err)
		}
		summary.Transferred += nbytes
		tm.step("uploaded archive", "size", humanize.Bytes(uint64(nbytes)))

		nbytes, err = manifest.UploadTemp(ctx, t, pkg.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("failed to upload cache: %w", err)
		}
		applier.MarkUploaded(FlagArchive)
		summary.Transferred += nbytes
		tm.step("uploaded cache", "entries", len(pkg.Snapshot))
	}

	// apply the changes remotely
	if err := applier.Apply(ctx, t); err != nil {
		return nil, err
	}
	summary.Deleted = len(toDelete) + cleared
	tm.step("applied changes", "destination", destination)

	summary.Elapsed = tm.elapsed()
	return &summary, nil
}

// deletable drops paths the newline-separated delete-list cannot carry.
func deletable(paths []string) []string {
	kept := paths[:0]
	for _, p := range paths {
		if strings.Contains(p, "\n") {
			slog.Warn("cannot delete path containing a line break", "path", p)
			continue
		}
		kept = append(kept, p)
	}
	return kept
}

func deleteList(paths []string) *bytes.Buffer {
	list := bytes.NewBuffer(nil)
	for _, p := range paths {
		list.WriteString(p)
		list.WriteByte('\n')
	}
	return list
}
