package manifest

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// paths longer than this are treated as corruption rather than allocated
const maxPathLength = 1 << 20

// Encode writes the snapshot in the cache format: an int32 record count followed by, for
// each record, a varint length-prefixed UTF-8 path, the int64 ticks and the int64 size.
// All integers are little-endian.
func Encode(w io.Writer, snap Snapshot) error {
	if len(snap) > math.MaxInt32 {
		return fmt.Errorf("too many entries for a cache file: %d", len(snap))
	}

	bw := bufio.NewWriter(w)

	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(snap)))
	if _, err := bw.Write(buf); err != nil {
		return err
	}

	for _, e := range snap {
		buf = buf[:0]
		buf = binary.AppendUvarint(buf, uint64(len(e.RelPath)))
		buf = append(buf, e.RelPath...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ModTicks))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Size))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Decode reads a snapshot written by Encode. Truncated or malformed input returns an
// ErrCorruptManifest.
func Decode(r io.Reader) (Snapshot, error) {
	br := bufio.NewReader(r)

	var count int32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, corrupt("record count", err)
	}
	if count < 0 {
		return nil, &ErrCorruptManifest{msg: fmt.Sprintf("negative record count %d", count)}
	}

	// don't trust the count for the allocation
	snap := make(Snapshot, 0, min(int(count), 1<<16))

	for i := 0; i < int(count); i++ {
		plen, err := binary.ReadUvarint(br)
		if err != nil {
			return nil, corrupt(fmt.Sprintf("path length of record %d", i), err)
		}
		if plen > maxPathLength {
			return nil, &ErrCorruptManifest{msg: fmt.Sprintf("path length %d of record %d is too large", plen, i)}
		}

		path := make([]byte, plen)
		if _, err := io.ReadFull(br, path); err != nil {
			return nil, corrupt(fmt.Sprintf("path of record %d", i), err)
		}

		var fields [2]int64
		if err := binary.Read(br, binary.LittleEndian, &fields); err != nil {
			return nil, corrupt(fmt.Sprintf("fingerprint of record %d", i), err)
		}
		if fields[1] < 0 {
			return nil, &ErrCorruptManifest{msg: fmt.Sprintf("negative size for %q", path)}
		}

		snap = append(snap, Entry{
			RelPath:  string(path),
			ModTicks: fields[0],
			Size:     fields[1],
		})
	}

	return snap, nil
}

func corrupt(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &ErrCorruptManifest{
		msg: fmt.Sprintf("reading %s", what),
		err: err,
	}
}
