// Package s3io stores job definitions in an S3 bucket, compressed and encrypted with a
// passphrase from the secrets file.
package s3io

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/studio1767/sshsync/internal/secrets"
)

type Client interface {
	LatestMatching(ctx context.Context, prefix string) (string, int64, error)

	UploadPassphrase(ctx context.Context, key string, source io.Reader) (int64, error)
	Download(ctx context.Context, key string, sink io.Writer) (int64, error)
}

type client struct {
	client  *s3.Client
	bucket  *string
	secrets *secrets.Secrets
}

func NewClient(ctx context.Context, profile, bucket string, sec *secrets.Secrets) (Client, error) {
	// load the profile
	cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile))
	if err != nil {
		return nil, err
	}

	cl := client{
		client:  s3.NewFromConfig(cfg),
		bucket:  aws.String(bucket),
		secrets: sec,
	}

	return &cl, nil
}
