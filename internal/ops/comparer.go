package ops

import (
	"path"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/studio1767/sshsync/internal/manifest"
)

// DiffResult partitions the union of the local and the cached paths. Every local path
// is in exactly one of UpToDate and ToUpload, every cached path in exactly one of
// UpToDate and ToDelete.
type DiffResult struct {
	ToDelete mapset.Set[string]
	UpToDate mapset.Set[string]
	ToUpload mapset.Set[string]

	// the subset of ToUpload that was cached with a different fingerprint
	modified mapset.Set[string]
}

// Compare diffs the local fingerprints against the previous cache snapshot, which is nil
// when there is no usable remote cache.
//
// The snapshot is walked once. Each cached entry is looked up in the local map: missing
// means the remote copy is stale, an identical fingerprint means it is up to date. All
// local paths not found up to date need to be uploaded, whether they are new or changed.
func Compare(local Fingerprints, prior manifest.Snapshot) *DiffResult {
	diff := DiffResult{
		ToDelete: mapset.NewThreadUnsafeSet[string](),
		UpToDate: mapset.NewThreadUnsafeSet[string](),
		ToUpload: mapset.NewThreadUnsafeSetWithSize[string](len(local)),
		modified: mapset.NewThreadUnsafeSet[string](),
	}

	seen := mapset.NewThreadUnsafeSetWithSize[string](len(prior))
	for _, cached := range prior {
		// a repeated path in a damaged cache only counts once
		if !seen.Add(cached.RelPath) {
			continue
		}

		fp, ok := local[cached.RelPath]
		switch {
		case !ok:
			diff.ToDelete.Add(cached.RelPath)
		case fp.Same(cached):
			diff.UpToDate.Add(cached.RelPath)
		default:
			diff.modified.Add(cached.RelPath)
		}
	}

	for path := range local {
		if !diff.UpToDate.Contains(path) {
			diff.ToUpload.Add(path)
		}
	}

	return &diff
}

// Status returns the status of a path known to the diff.
func (d *DiffResult) Status(path string) (EntryStatus, bool) {
	switch {
	case d.UpToDate.Contains(path):
		return StatusOk, true
	case d.ToDelete.Contains(path):
		return StatusNotFound, true
	case d.modified.Contains(path):
		return StatusModified, true
	case d.ToUpload.Contains(path):
		return StatusNew, true
	}
	return StatusOk, false
}

// Modified is the number of uploads that replace an older remote copy.
func (d *DiffResult) Modified() int {
	return d.modified.Cardinality()
}

// New is the number of uploads with no remote copy.
func (d *DiffResult) New() int {
	return d.ToUpload.Cardinality() - d.modified.Cardinality()
}

// NoChanges reports whether there is nothing to upload and nothing to delete.
func (d *DiffResult) NoChanges() bool {
	return d.ToUpload.IsEmpty() && d.ToDelete.IsEmpty()
}

// Replaced returns the paths that changed kind between file and directory: a stale file
// that is now a directory holding uploads, or an upload that replaces a directory of
// stale files. They must be cleared before the archive is extracted over them.
func (d *DiffResult) Replaced() []string {
	uploadDirs := mapset.NewThreadUnsafeSet[string]()
	for _, upload := range d.ToUpload.ToSlice() {
		for dir := path.Dir(upload); dir != "."; dir = path.Dir(dir) {
			uploadDirs.Add(dir)
		}
	}

	replaced := mapset.NewThreadUnsafeSet[string]()
	for _, stale := range d.ToDelete.ToSlice() {
		if uploadDirs.Contains(stale) {
			replaced.Add(stale)
		}
		for dir := path.Dir(stale); dir != "."; dir = path.Dir(dir) {
			if d.ToUpload.Contains(dir) {
				replaced.Add(dir)
			}
		}
	}

	return Sorted(replaced)
}

// Under reports whether p is one of the paths or lies below one of them.
func Under(p string, paths []string) bool {
	for _, prefix := range paths {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// Sorted returns the members of set in lexical order.
func Sorted(set mapset.Set[string]) []string {
	items := set.ToSlice()
	sort.Strings(items)
	return items
}
