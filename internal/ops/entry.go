package ops

import (
	"sort"

	"github.com/studio1767/sshsync/internal/manifest"
)

// EntryStatus represents the state of a file compared to the last time it was recorded
// in the remote cache. This is determined by Compare from the fingerprints alone.
type EntryStatus int

const (
	StatusOk EntryStatus = iota
	StatusNew
	StatusModified
	StatusNotFound
)

func (s EntryStatus) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusNew:
		return "new"
	case StatusModified:
		return "modified"
	case StatusNotFound:
		return "not found"
	}
	return "unknown"
}

// Fingerprints maps the normalized relative path of every scanned file to its
// fingerprint.
type Fingerprints map[string]manifest.Entry

// Snapshot returns the fingerprints as a cache snapshot, ordered by path.
func (f Fingerprints) Snapshot() manifest.Snapshot {
	snap := make(manifest.Snapshot, 0, len(f))
	for _, entry := range f {
		snap = append(snap, entry)
	}
	sort.Slice(snap, func(i, j int) bool {
		return snap[i].RelPath < snap[j].RelPath
	})
	return snap
}

func (f Fingerprints) TotalSize() int64 {
	var total int64
	for _, entry := range f {
		total += entry.Size
	}
	return total
}

// SizeOf sums the sizes of the given paths; unknown paths count as zero.
func (f Fingerprints) SizeOf(paths []string) int64 {
	var total int64
	for _, p := range paths {
		total += f[p].Size
	}
	return total
}
