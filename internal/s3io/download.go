package s3io

import (
	"context"
	"errors"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/studio1767/sshsync/internal/secrets"
)

var downloadable = map[string]bool{
	"":                                 true,
	string(types.StorageClassStandard): true,
	string(types.StorageClassReducedRedundancy): true,
	string(types.StorageClassStandardIa):        true,
	string(types.StorageClassOnezoneIa):         true,
}

func (cl *client) checkDownloadable(ctx context.Context, key string) error {
	hoo, err := cl.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: cl.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		var notfound *types.NotFound
		var nosuchkey *types.NoSuchKey
		if errors.As(err, &notfound) || errors.As(err, &nosuchkey) {
			return &ErrNoSuchObject{
				key: key,
			}
		}
		return err
	}

	sclass := string(hoo.StorageClass)
	if downloadable[sclass] {
		return nil
	}

	return &ErrNotDownloadable{
		key:          key,
		storageClass: sclass,
	}
}

func (cl *client) Download(ctx context.Context, key string, sink io.Writer) (int64, error) {
	// verify we can download the object
	if err := cl.checkDownloadable(ctx, key); err != nil {
		return 0, err
	}

	// the sink is not an io.WriterAt so the parallel downloader can't be used
	resp, err := cl.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: cl.bucket,
		Key:    aws.String(key),
	})
	if err != nil {
		var nosuchkey *types.NoSuchKey
		if errors.As(err, &nosuchkey) {
			return 0, &ErrNoSuchObject{
				key: key,
			}
		}
		return 0, err
	}
	defer resp.Body.Close()

	reader, err := decodeStream(resp.Body, resp.Metadata, cl.secrets)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	return io.Copy(sink, reader)
}

// decodeStream reverses encodeStream using the metadata stored with the object.
func decodeStream(source io.Reader, meta map[string]string, sec *secrets.Secrets) (io.ReadCloser, error) {
	compressed := false
	passkey := ""
	for k, v := range meta {
		switch strings.ToLower(k) {
		case metaCompress:
			compressed = true
		case metaScryptId:
			passkey = v
		}
	}

	reader := source

	// decrypt first
	if passkey != "" {
		passphrase, err := sec.Passphrase(passkey)
		if err != nil {
			return nil, &ErrPassphraseNotFound{
				operation: "download",
			}
		}

		identity, err := age.NewScryptIdentity(passphrase)
		if err != nil {
			return nil, err
		}
		reader, err = age.Decrypt(reader, identity)
		if err != nil {
			return nil, err
		}
	}

	// then decompress
	if compressed {
		gzreader, err := gzip.NewReader(reader)
		if err != nil {
			return nil, err
		}
		return gzreader, nil
	}
	return io.NopCloser(reader), nil
}
