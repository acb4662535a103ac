package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/studio1767/sshsync/internal/s3io"
)

// Download fetches and parses the latest version of a job kept in the bucket.
func Download(ctx context.Context, client s3io.Client, jobname string) (*Job, string, error) {
	// the prefix path
	prefix := fmt.Sprintf("jobs/%s/", jobname)

	// get the key for the latest job configuration
	jobkey, _, err := client.LatestMatching(ctx, prefix)
	if err != nil {
		var nomatch *s3io.ErrNoMatch
		if errors.As(err, &nomatch) {
			return nil, "", &ErrNoSuchJob{
				msg: fmt.Sprintf("no such job: %s", jobname),
			}
		}
		return nil, "", err
	}

	// download the job into a buffer
	data := bytes.NewBuffer(nil)

	_, err = client.Download(ctx, jobkey, data)
	if err != nil {
		return nil, jobkey, err
	}

	job, err := Parse(data.Bytes(), jobname)
	if err != nil {
		return nil, jobkey, err
	}
	job.Name = jobname

	return job, jobkey, nil
}

// Upload stores the job as the next version: jobs/<name>/<name>-NNN.yml.
func Upload(ctx context.Context, client s3io.Client, source io.Reader, jobname string) (string, error) {
	// the prefix path
	prefix := fmt.Sprintf("jobs/%s/", jobname)

	// get the key for the latest job configuration
	jobkey, _, err := client.LatestMatching(ctx, prefix)
	if err != nil {
		var nomatch *s3io.ErrNoMatch
		if !errors.As(err, &nomatch) {
			return "", err
		}

		// if this is the first time uploading, fake the jobkey
		jobkey = fmt.Sprintf("jobs/%s/%s-000.yml", jobname, jobname)
	}

	key, err := nextKey(jobkey, jobname)
	if err != nil {
		return "", err
	}

	_, err = client.UploadPassphrase(ctx, key, source)

	return key, err
}

// nextKey increments the version number in a job key.
func nextKey(jobkey, jobname string) (string, error) {
	re := regexp.MustCompile(fmt.Sprintf(`^(.*/%s-)(\d+)(.*)`, regexp.QuoteMeta(jobname)))

	matches := re.FindStringSubmatch(jobkey)
	if len(matches) != 4 {
		return "", fmt.Errorf("unexpected job key: %s", jobkey)
	}

	id, err := strconv.Atoi(matches[2])
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s%03d%s", matches[1], id+1, matches[3]), nil
}
