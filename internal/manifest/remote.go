package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/studio1767/sshsync/internal/transport"
)

// Download fetches and decodes the live cache from the remote working directory. A missing
// cache is reported as an ErrNoSuchManifest, an unreadable one as an ErrCorruptManifest;
// callers treat both as "no prior state".
func Download(ctx context.Context, t transport.Transport) (Snapshot, error) {
	data := bytes.NewBuffer(nil)

	_, err := t.Download(ctx, LiveName, data)
	if err != nil {
		var nosuchfile *transport.ErrNoSuchFile
		if errors.As(err, &nosuchfile) {
			return nil, &ErrNoSuchManifest{
				msg: fmt.Sprintf("no remote cache file: %s", LiveName),
			}
		}
		return nil, err
	}

	return Decode(data)
}

// UploadTemp encodes the snapshot and uploads it under the temporary name. It only becomes
// the live cache when the remote side renames it.
func UploadTemp(ctx context.Context, t transport.Transport, snap Snapshot) (int64, error) {
	data := bytes.NewBuffer(nil)
	if err := Encode(data, snap); err != nil {
		return 0, err
	}

	return t.Upload(ctx, data, TempName)
}
