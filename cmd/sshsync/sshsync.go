package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/studio1767/sshsync/internal/engine"
	"github.com/studio1767/sshsync/internal/job"
	"github.com/studio1767/sshsync/internal/ops"
	"github.com/studio1767/sshsync/internal/s3io"
	"github.com/studio1767/sshsync/internal/secrets"
	"github.com/studio1767/sshsync/internal/transport"
)

const (
	exitOk      = 0
	exitParams  = -1
	exitRuntime = -2

	defaultBatchFile = "sshsync.batch"
)

func main() {
	os.Exit(run())
}

func run() int {
	// process the command line
	flag.Usage = func() {
		name := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <host> <port> <user> <password> <source> <destination>\n", name)
		fmt.Fprintf(os.Stderr, "       %s [flags] -batch <file>\n", name)
		fmt.Fprintf(os.Stderr, "       %s [flags] -job <file.yml>\n", name)
		fmt.Fprintf(os.Stderr, "       %s [flags] -bucket <bucket> -job <jobname>\n", name)
		fmt.Fprintf(os.Stderr, "With no arguments, %s is read if present.\n", defaultBatchFile)
		flag.PrintDefaults()
	}

	verbose := flag.Bool("v", false, "verbose logging")
	batchFile := flag.String("batch", "", "file with one set of positional arguments per line")
	jobArg := flag.String("job", "", "yaml job file, or the job name with -bucket")
	bucket := flag.String("bucket", "", "s3 bucket holding the job definition")
	profile := flag.String("p", "default", "aws profile for credentials and configuration")
	secretsFile := flag.String("s", "default", "yaml file containing secret passphrases")
	label := flag.String("l", "", "only sync the job sources with this label")
	insecure := flag.Bool("insecure", false, "do not verify host keys")
	flag.Parse()

	setupLogging(*verbose)

	// context to cancel the operation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sec *secrets.Secrets
	loadSecrets := func() (*secrets.Secrets, error) {
		if sec != nil {
			return sec, nil
		}
		var err error
		sec, err = secrets.Load(*secretsFile)
		return sec, err
	}

	jobs, err := loadJobs(ctx, *batchFile, *jobArg, *bucket, *profile, loadSecrets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if errors.Is(err, errUsage) {
			flag.Usage()
		}
		return exitParams
	}

	code := exitOk
	for _, j := range jobs {
		if *insecure {
			j.Connection.InsecureIgnoreHostKey = true
		}

		err := syncJob(ctx, j, *label, loadSecrets)
		if err == nil {
			continue
		}

		slog.Error("sync failed", "job", j.Name, "error", err)
		code = exitCode(code, err)

		if ctx.Err() != nil {
			break
		}
	}

	return code
}

// exitCode folds a failed job into the exit code so far. A runtime failure outranks a
// parameter failure regardless of the order the jobs ran in.
func exitCode(code int, err error) int {
	var notfound *ops.ErrSourceNotFound
	if !errors.As(err, &notfound) {
		return exitRuntime
	}
	if code == exitOk {
		return exitParams
	}
	return code
}

var errUsage = errors.New("incorrect arguments provided")

func loadJobs(ctx context.Context, batchFile, jobArg, bucket, profile string, loadSecrets func() (*secrets.Secrets, error)) ([]*job.Job, error) {
	switch {
	case bucket != "":
		if jobArg == "" || flag.NArg() != 0 {
			return nil, errUsage
		}
		sec, err := loadSecrets()
		if err != nil {
			return nil, err
		}
		client, err := s3io.NewClient(ctx, profile, bucket, sec)
		if err != nil {
			return nil, err
		}
		j, key, err := job.Download(ctx, client, jobArg)
		if err != nil {
			return nil, err
		}
		slog.Info("loaded job", "job", j.Name, "key", key)
		return []*job.Job{j}, nil

	case jobArg != "":
		if flag.NArg() != 0 {
			return nil, errUsage
		}
		j, err := job.Load(jobArg)
		if err != nil {
			return nil, err
		}
		return []*job.Job{j}, nil

	case batchFile != "":
		if flag.NArg() != 0 {
			return nil, errUsage
		}
		return readBatch(batchFile)

	case flag.NArg() == job.ArgCount:
		j, err := job.FromArgs(flag.Args())
		if err != nil {
			return nil, err
		}
		return []*job.Job{j}, nil

	case flag.NArg() == 0:
		jobs, err := readBatch(defaultBatchFile)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errUsage
		}
		return jobs, err
	}

	return nil, errUsage
}

func readBatch(file string) ([]*job.Job, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	jobs, err := job.ReadBatch(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	return jobs, nil
}

func syncJob(ctx context.Context, j *job.Job, label string, loadSecrets func() (*secrets.Secrets, error)) error {
	var sec *secrets.Secrets
	if j.Connection.PasswordId != "" {
		var err error
		if sec, err = loadSecrets(); err != nil {
			return err
		}
	}

	cfg, err := j.TransportConfig(sec)
	if err != nil {
		return err
	}
	filter, err := j.Filter()
	if err != nil {
		return err
	}
	opts, err := j.EngineOptions()
	if err != nil {
		return err
	}

	t, err := transport.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer t.Close()

	var failed error
	for _, source := range j.Sources {
		fmt.Printf("--------------------------------------------------------------\n")

		if label != "" && label != source.Label {
			fmt.Printf("Skipping %s/%s\n", j.Name, source.Label)
			continue
		}
		fmt.Printf("Syncing %s -> %s:%s\n", source.Path, j.Connection.Host, source.Destination)

		summary, err := engine.Sync(ctx, t, source.Path, source.Destination, filter, opts)
		if err != nil {
			slog.Error("failed to sync source", "source", source.Path, "error", err)
			if failed == nil {
				failed = err
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		printSummary(summary)
	}

	return failed
}

func printSummary(summary *engine.Summary) {
	fmt.Println()
	fmt.Printf("Sync Summary\n")
	fmt.Printf(" files:\n")
	fmt.Printf("        total: %d (%s bytes)\n", summary.Total, humanize.Comma(summary.TotalBytes))
	fmt.Printf("   unmodified: %d\n", summary.UpToDate)
	fmt.Printf("          new: %d\n", summary.New)
	fmt.Printf("     modified: %d\n", summary.Modified)
	fmt.Printf("        stale: %d\n", summary.Stale)
	fmt.Printf(" actions:\n")
	fmt.Printf("     uploaded: %d (%s bytes)\n", summary.Archived, humanize.Comma(summary.ArchivedBytes))
	fmt.Printf("      deleted: %d\n", summary.Deleted)
	fmt.Printf("       failed: %d\n", len(summary.Failed))
	fmt.Printf("  transferred: %s bytes\n", humanize.Comma(summary.Transferred))
	fmt.Printf("      elapsed: %s\n", summary.Elapsed.Round(time.Millisecond))
	fmt.Println()

	for _, path := range summary.Failed {
		fmt.Printf("-   failed: %s\n", path)
	}
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}
