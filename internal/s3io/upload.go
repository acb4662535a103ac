package s3io

import (
	"context"
	"io"

	"filippo.io/age"
	"github.com/klauspost/compress/gzip"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	metaCompress = "sshsync-compress"
	metaScrypt   = "sshsync-scrypt"
	metaScryptId = "sshsync-scrypt-id"
)

// UploadPassphrase compresses source and encrypts it with the latest passphrase from the
// secrets file. The id of the passphrase is stored in the object metadata.
func (cl *client) UploadPassphrase(ctx context.Context, key string, source io.Reader) (int64, error) {
	passkey, passphrase, ok := cl.secrets.Latest()
	if !ok {
		return 0, &ErrPassphraseNotFound{
			operation: "upload",
		}
	}

	reader, err := encodeStream(source, passphrase)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	mdata := map[string]string{
		metaCompress: "gzip",
		metaScrypt:   "age",
		metaScryptId: passkey,
	}

	// count how many bytes actually get uploaded after compression and encryption
	counter := NewReadCounter(reader)
	defer counter.Close()

	// the content length is not known in advance so use an Uploader
	uploader := manager.NewUploader(cl.client)

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   cl.bucket,
		Key:      aws.String(key),
		Body:     counter,
		Metadata: mdata,
	})

	return counter.TotalBytes(), err
}

// encodeStream returns a reader producing source compressed and then encrypted. The
// compressor and encrypter are writers, so they run in a goroutine behind a pipe.
func encodeStream(source io.Reader, passphrase string) (io.ReadCloser, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, err
	}

	reader, writer := io.Pipe()

	go func() {
		ewriter, err := age.Encrypt(writer, recipient)
		if err != nil {
			writer.CloseWithError(err)
			return
		}
		gzwriter := gzip.NewWriter(ewriter)

		_, err = io.Copy(gzwriter, source)
		if cerr := gzwriter.Close(); err == nil {
			err = cerr
		}
		if cerr := ewriter.Close(); err == nil {
			err = cerr
		}
		writer.CloseWithError(err)
	}()

	return reader, nil
}
