package manifest_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/sshsync/internal/manifest"
	"github.com/studio1767/sshsync/internal/transport"
)

func TestRoundTripPreservesOrder(t *testing.T) {
	snap := manifest.Snapshot{
		{RelPath: "z/last.txt", ModTicks: 638000000000000000, Size: 10},
		{RelPath: "a.txt", ModTicks: 1, Size: 0},
		{RelPath: "dir/ünïcode ☃.bin", ModTicks: -5, Size: 1 << 40},
	}

	data := bytes.NewBuffer(nil)
	require.NoError(t, manifest.Encode(data, snap))

	decoded, err := manifest.Decode(data)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)
}

func TestRoundTripEmpty(t *testing.T) {
	data := bytes.NewBuffer(nil)
	require.NoError(t, manifest.Encode(data, manifest.Snapshot{}))
	require.Equal(t, []byte{0, 0, 0, 0}, data.Bytes())

	decoded, err := manifest.Decode(data)
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestEncodingLayout(t *testing.T) {
	snap := manifest.Snapshot{
		{RelPath: "a.txt", ModTicks: 0x0102030405060708, Size: 10},
	}

	data := bytes.NewBuffer(nil)
	require.NoError(t, manifest.Encode(data, snap))

	expected := []byte{
		1, 0, 0, 0, // count
		5, 'a', '.', 't', 'x', 't', // length-prefixed path
		8, 7, 6, 5, 4, 3, 2, 1, // ticks
		10, 0, 0, 0, 0, 0, 0, 0, // size
	}
	require.Equal(t, expected, data.Bytes())
}

func TestLongPathUsesMultiByteLength(t *testing.T) {
	long := string(bytes.Repeat([]byte("x"), 200))
	snap := manifest.Snapshot{{RelPath: long, ModTicks: 1, Size: 2}}

	data := bytes.NewBuffer(nil)
	require.NoError(t, manifest.Encode(data, snap))

	// 200 = 0xc8 -> 0xc8 0x01 as a 7-bit encoded length
	require.Equal(t, []byte{0xc8, 0x01}, data.Bytes()[4:6])

	decoded, err := manifest.Decode(data)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)
}

func TestTruncatedInputIsCorrupt(t *testing.T) {
	snap := manifest.Snapshot{
		{RelPath: "a.txt", ModTicks: 100, Size: 10},
		{RelPath: "b.txt", ModTicks: 200, Size: 5},
	}

	data := bytes.NewBuffer(nil)
	require.NoError(t, manifest.Encode(data, snap))
	full := data.Bytes()

	for _, cut := range []int{0, 2, 4, 7, len(full) - 1} {
		_, err := manifest.Decode(bytes.NewReader(full[:cut]))

		var corrupt *manifest.ErrCorruptManifest
		require.True(t, errors.As(err, &corrupt), "cut at %d", cut)
	}
}

func TestNegativeCountIsCorrupt(t *testing.T) {
	_, err := manifest.Decode(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))

	var corrupt *manifest.ErrCorruptManifest
	require.True(t, errors.As(err, &corrupt))
}

func TestTicksMatchDotNetEpoch(t *testing.T) {
	unix := time.Unix(0, 0).UTC()
	require.Equal(t, int64(621355968000000000), manifest.Ticks(unix))

	stamp := time.Date(2024, 3, 1, 12, 30, 45, 123456700, time.UTC)
	require.Equal(t, stamp, manifest.Time(manifest.Ticks(stamp)))

	// sub-tick precision is dropped
	fine := stamp.Add(99 * time.Nanosecond)
	require.Equal(t, manifest.Ticks(stamp), manifest.Ticks(fine))
}

func TestSame(t *testing.T) {
	a := manifest.Entry{RelPath: "a", ModTicks: 1, Size: 2}

	require.True(t, a.Same(manifest.Entry{RelPath: "b", ModTicks: 1, Size: 2}))
	require.False(t, a.Same(manifest.Entry{RelPath: "a", ModTicks: 2, Size: 2}))
	require.False(t, a.Same(manifest.Entry{RelPath: "a", ModTicks: 1, Size: 3}))
}

func TestDownloadMissingCache(t *testing.T) {
	remote := transport.NewLocal(t.TempDir())
	defer remote.Close()

	_, err := manifest.Download(context.Background(), remote)

	var nomanifest *manifest.ErrNoSuchManifest
	require.True(t, errors.As(err, &nomanifest))
}

func TestUploadTempThenDownload(t *testing.T) {
	root := t.TempDir()
	remote := transport.NewLocal(root)
	defer remote.Close()

	ctx := context.Background()
	snap := manifest.Snapshot{{RelPath: "a.txt", ModTicks: 42, Size: 7}}

	_, err := manifest.UploadTemp(ctx, remote, snap)
	require.NoError(t, err)

	// the temp file is not the live cache until it is renamed
	_, err = manifest.Download(ctx, remote)
	var nomanifest *manifest.ErrNoSuchManifest
	require.True(t, errors.As(err, &nomanifest))

	require.NoError(t, os.Rename(filepath.Join(root, manifest.TempName), filepath.Join(root, manifest.LiveName)))

	decoded, err := manifest.Download(ctx, remote)
	require.NoError(t, err)
	require.Equal(t, snap, decoded)
}
