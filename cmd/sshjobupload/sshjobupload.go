package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/studio1767/sshsync/internal/job"
	"github.com/studio1767/sshsync/internal/s3io"
	"github.com/studio1767/sshsync/internal/secrets"
)

func main() {
	// process the command line
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-p <profile>] [-s secrets-file] <bucket> <jobname> <jobfile>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}

	profile := flag.String("p", "default", "aws s3 credentials profile")
	secretsFile := flag.String("s", "default", "yaml file containing secret passphrases to encrypt the job")
	flag.Parse()

	if flag.NArg() != 3 {
		fmt.Fprintf(os.Stderr, "Error: incorrect arguments provided\n")
		flag.Usage()
		os.Exit(1)
	}

	bucket := flag.Arg(0)
	jobname := flag.Arg(1)
	jobfile := flag.Arg(2)

	// refuse to store a job that would not run
	if _, err := job.Load(jobfile); err != nil {
		log.Fatal(err)
	}

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

	// upload the jobfile
	key, err := upload(ctx, client, jobname, jobfile)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("uploaded to %s\n", key)
}

func upload(ctx context.Context, client s3io.Client, jobname, jobfile string) (string, error) {
	source, err := os.Open(jobfile)
	if err != nil {
		return "", err
	}
	defer source.Close()

	return job.Upload(ctx, client, source, jobname)
}
