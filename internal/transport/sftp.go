package transport

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// SFTP transfers files through the SSH file transfer subsystem.
type SFTP struct {
	*shell
	client  *sftp.Client
	workdir string
}

func newSFTP(sh *shell) (*SFTP, error) {
	client, err := sftp.NewClient(sh.client)
	if err != nil {
		return nil, err
	}

	return &SFTP{
		shell:  sh,
		client: client,
	}, nil
}

func (s *SFTP) resolve(p string) string {
	if s.workdir == "" || path.IsAbs(p) {
		return p
	}
	return path.Join(s.workdir, p)
}

func (s *SFTP) Upload(ctx context.Context, source io.Reader, p string) (int64, error) {
	sink, err := s.client.OpenFile(s.resolve(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return 0, err
	}

	nbytes, err := sink.ReadFrom(&ctxReader{ctx: ctx, r: source})
	if err != nil {
		sink.Close()
		return nbytes, err
	}

	return nbytes, sink.Close()
}

func (s *SFTP) Download(ctx context.Context, p string, sink io.Writer) (int64, error) {
	source, err := s.client.Open(s.resolve(p))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, &ErrNoSuchFile{Path: p}
		}
		return 0, err
	}
	defer source.Close()

	return io.Copy(sink, &ctxReader{ctx: ctx, r: source})
}

func (s *SFTP) EnsureDirectory(ctx context.Context, dir string) error {
	if err := s.mkdir(ctx, dir); err != nil {
		return err
	}

	s.workdir = HomeRelative(dir)
	return nil
}

func (s *SFTP) Close() error {
	s.client.Close()
	return s.shell.Close()
}
