package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

// Local is a Transport for a destination on this machine. Relative paths resolve against
// root the same way remote paths resolve against the login directory of an SSH session,
// and commands run through sh with root as their working directory.
type Local struct {
	root    string
	workdir string
}

func NewLocal(root string) *Local {
	return &Local{
		root:    root,
		workdir: root,
	}
}

func (l *Local) resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, filepath.FromSlash(path))
}

func (l *Local) Upload(ctx context.Context, source io.Reader, path string) (int64, error) {
	sink, err := os.Create(l.resolve(l.workdir, path))
	if err != nil {
		return 0, err
	}

	nbytes, err := io.Copy(sink, &ctxReader{ctx: ctx, r: source})
	if err != nil {
		sink.Close()
		return nbytes, err
	}

	return nbytes, sink.Close()
}

func (l *Local) Download(ctx context.Context, path string, sink io.Writer) (int64, error) {
	fpath := l.resolve(l.workdir, path)

	source, err := os.Open(fpath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &ErrNoSuchFile{Path: path}
		}
		return 0, err
	}
	defer source.Close()

	return io.Copy(sink, &ctxReader{ctx: ctx, r: source})
}

func (l *Local) Run(ctx context.Context, command string) (int, string, error) {
	stderr := bytes.NewBuffer(nil)

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = l.root
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil {
		var exiterr *exec.ExitError
		if errors.As(err, &exiterr) && ctx.Err() == nil {
			return exiterr.ExitCode(), stderr.String(), nil
		}
		return -1, stderr.String(), err
	}

	return 0, stderr.String(), nil
}

func (l *Local) EnsureDirectory(ctx context.Context, dir string) error {
	fpath := l.resolve(l.root, HomeRelative(dir))
	if err := os.MkdirAll(fpath, 0755); err != nil {
		return err
	}

	l.workdir = fpath
	return nil
}

func (l *Local) Close() error {
	return nil
}

// ctxReader stops a copy once the context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
