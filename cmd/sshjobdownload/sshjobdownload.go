package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/studio1767/sshsync/internal/s3io"
	"github.com/studio1767/sshsync/internal/secrets"
)

func main() {
	// process the command line
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-p <profile>] [-s secrets-file] <bucket> <jobname>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	profile := flag.String("p", "default", "aws s3 credentials profile")
	secretsFile := flag.String("s", "default", "yaml file containing secret passphrases to decrypt the job")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "Error: incorrect arguments provided\n")
		flag.Usage()
		os.Exit(1)
	}

	bucket := flag.Arg(0)
	jobname := flag.Arg(1)

	ctx := context.Background()

	// create the client
	sec, err := secrets.Load(*secretsFile)
	if err != nil {
		log.Fatal(err)
	}
	client, err := s3io.NewClient(ctx, *profile, bucket, sec)
	if err != nil {
		log.Fatal(err)
	}

	fname, err := download(ctx, client, jobname)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("downloaded to %s\n", fname)
}

func download(ctx context.Context, client s3io.Client, jobname string) (string, error) {
	// create the key prefix for the job
	prefix := fmt.Sprintf("jobs/%s/", jobname)

	// get the latest job config
	key, _, err := client.LatestMatching(ctx, prefix)
	if err != nil {
		return "", err
	}

	// save under the file name part of the key
	fname := path.Base(key)
	sink, err := os.Create(fname)
	if err != nil {
		return "", err
	}
	defer sink.Close()

	_, err = client.Download(ctx, key, sink)
	if err != nil {
		os.Remove(fname)
		return "", fmt.Errorf("download failed: %w", err)
	}

	return fname, nil
}
