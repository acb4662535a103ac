package manifest

import (
	"time"
)

// Fixed names of the remote cache files, relative to the destination directory.
const (
	LiveName = ".uploadCache.cache"
	TempName = LiveName + ".tmp"
)

// Ticks are 100ns intervals since 0001-01-01 UTC. The epoch is kept so caches written by
// earlier releases of the tool remain readable.
const (
	ticksPerSecond   = 10_000_000
	nanosPerTick     = 100
	unixEpochInTicks = 621_355_968_000_000_000
)

// Entry is the fingerprint of a single file: its relative path, last modified time and
// size. Two entries describe the same file content when both the time and the size match;
// the contents are never hashed.
type Entry struct {
	RelPath  string
	ModTicks int64
	Size     int64
}

// Same reports whether the two entries have identical fingerprints.
func (e Entry) Same(other Entry) bool {
	return e.ModTicks == other.ModTicks && e.Size == other.Size
}

// Snapshot is the remembered state of the remote tree, in the order it was written.
type Snapshot []Entry

// TotalSize is the sum of the sizes of all entries.
func (s Snapshot) TotalSize() int64 {
	var total int64
	for _, e := range s {
		total += e.Size
	}
	return total
}

// Ticks converts a time to ticks.
func Ticks(t time.Time) int64 {
	t = t.UTC()
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond()/nanosPerTick) + unixEpochInTicks
}

// Time converts ticks back to a UTC time.
func Time(ticks int64) time.Time {
	ticks -= unixEpochInTicks
	secs := ticks / ticksPerSecond
	rem := ticks % ticksPerSecond
	if rem < 0 {
		secs--
		rem += ticksPerSecond
	}
	return time.Unix(secs, rem*nanosPerTick).UTC()
}
