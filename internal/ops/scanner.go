package ops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/studio1767/sshsync/internal/manifest"
)

type ErrSourceNotFound struct {
	path string
	msg  string
}

func (e *ErrSourceNotFound) Error() string {
	return fmt.Sprintf("source directory %s: %s", e.path, e.msg)
}

// ScanTree fingerprints every regular file below root.
//
// Directories are visited breadth first through a queue, so the depth of the tree does
// not matter. Directories are read one at a time; the stat of each file found runs on a
// pool of at most workers goroutines (NumCPU when workers <= 0). Unreadable directories
// and files are logged and skipped.
func ScanTree(ctx context.Context, root string, filter *Filter, workers int) (Fingerprints, error) {
	root = filepath.Clean(root)

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ErrSourceNotFound{path: root, msg: "does not exist"}
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, &ErrSourceNotFound{path: root, msg: "is not a directory"}
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	sc := scanner{
		root:  root,
		found: make(Fingerprints),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	type queued struct {
		dir   string
		level int
	}
	queue := []queued{{dir: root, level: 0}}

	for len(queue) > 0 {
		if gctx.Err() != nil {
			break
		}

		next := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(next.dir)
		if err != nil {
			slog.Warn("failed to read directory", "path", next.dir, "error", err)
			// ReadDir may still have returned the entries read before the failure
		}

		for _, entry := range entries {
			entry := entry
			fpath := filepath.Join(next.dir, entry.Name())
			rpath := sc.relPath(fpath)

			if entry.Type().IsRegular() {
				if !filter.IncludeFile(rpath) {
					continue
				}
				g.Go(func() error {
					sc.stat(entry, rpath)
					return nil
				})

			} else if entry.IsDir() {
				if filter.SkipDir(fpath, rpath, next.level) {
					continue
				}
				queue = append(queue, queued{dir: fpath, level: next.level + 1})
			}
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return sc.found, nil
}

type scanner struct {
	root string

	mu    sync.Mutex
	found Fingerprints
}

// relPath strips the root and normalizes to '/' separators without a leading '/'.
func (sc *scanner) relPath(fpath string) string {
	rpath, err := filepath.Rel(sc.root, fpath)
	if err != nil {
		rpath = strings.TrimPrefix(fpath, sc.root)
	}
	rpath = filepath.ToSlash(rpath)
	return strings.TrimLeft(rpath, "/")
}

func (sc *scanner) stat(entry fs.DirEntry, rpath string) {
	info, err := entry.Info()
	if err != nil {
		slog.Warn("failed to stat file", "path", rpath, "error", err)
		return
	}

	fp := manifest.Entry{
		RelPath:  rpath,
		ModTicks: manifest.Ticks(info.ModTime()),
		Size:     info.Size(),
	}

	sc.mu.Lock()
	sc.found[rpath] = fp
	sc.mu.Unlock()
}
