package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
)

// SCP transfers files by running scp in sink or source mode on the remote side. It is the
// fallback for servers without an SFTP subsystem.
type SCP struct {
	*shell
	workdir string
}

func newSCP(sh *shell) *SCP {
	return &SCP{shell: sh}
}

func (s *SCP) resolve(p string) string {
	if s.workdir == "" || path.IsAbs(p) {
		return p
	}
	return path.Join(s.workdir, p)
}

func (s *SCP) Upload(ctx context.Context, source io.Reader, p string) (int64, error) {
	body, size, err := sized(source)
	if err != nil {
		return 0, err
	}

	target := s.resolve(p)
	err = s.session(ctx, "scp -t "+Quote(target), func(w io.Writer, r *bufio.Reader) error {
		return scpSend(w, r, path.Base(target), size, &ctxReader{ctx: ctx, r: body})
	})
	if err != nil {
		return 0, err
	}

	return size, nil
}

func (s *SCP) Download(ctx context.Context, p string, sink io.Writer) (int64, error) {
	var nbytes int64

	target := s.resolve(p)
	err := s.session(ctx, "scp -f "+Quote(target), func(w io.Writer, r *bufio.Reader) error {
		n, err := scpReceive(w, r, sink, p)
		nbytes = n
		return err
	})

	return nbytes, err
}

func (s *SCP) EnsureDirectory(ctx context.Context, dir string) error {
	if err := s.mkdir(ctx, dir); err != nil {
		return err
	}

	s.workdir = HomeRelative(dir)
	return nil
}

// session starts the remote scp and runs the protocol exchange against its stdin and
// stdout. A protocol error takes precedence over the exit status of the remote process.
func (s *SCP) session(ctx context.Context, command string, exchange func(io.Writer, *bufio.Reader) error) error {
	session, err := s.client.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return err
	}
	stderr := bytes.NewBuffer(nil)
	session.Stderr = stderr

	stop := closeOnDone(ctx, session)
	defer stop()

	if err := session.Start(command); err != nil {
		return err
	}

	perr := exchange(stdin, bufio.NewReader(stdout))
	stdin.Close()

	status, msg, werr := exitStatus(ctx, session.Wait(), stderr.String())
	if perr != nil {
		return perr
	}
	if werr != nil {
		return werr
	}
	if status != 0 {
		return &ErrRemoteCommand{
			Command:    command,
			ExitStatus: status,
			Stderr:     msg,
		}
	}
	return nil
}

// scpSend pushes a single file to an scp sink.
func scpSend(w io.Writer, r *bufio.Reader, name string, size int64, body io.Reader) error {
	if err := scpAck(r); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "C0644 %d %s\n", size, name); err != nil {
		return err
	}
	if err := scpAck(r); err != nil {
		return err
	}

	if _, err := io.CopyN(w, body, size); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}

	return scpAck(r)
}

// scpReceive pulls a single file from an scp source.
func scpReceive(w io.Writer, r *bufio.Reader, sink io.Writer, p string) (int64, error) {
	if _, err := w.Write([]byte{0}); err != nil {
		return 0, err
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return 0, &ErrProtocol{msg: "source closed without sending a file"}
			}
			return 0, err
		}

		switch line[0] {
		case 1, 2:
			msg := strings.TrimSpace(line[1:])
			if strings.Contains(msg, "No such file") {
				return 0, &ErrNoSuchFile{Path: p}
			}
			return 0, &ErrProtocol{msg: msg}

		case 'T':
			// modification times; not used
			if _, err := w.Write([]byte{0}); err != nil {
				return 0, err
			}

		case 'C':
			fields := strings.SplitN(strings.TrimSpace(line[1:]), " ", 3)
			if len(fields) != 3 {
				return 0, &ErrProtocol{msg: fmt.Sprintf("malformed file header: %q", line)}
			}
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || size < 0 {
				return 0, &ErrProtocol{msg: fmt.Sprintf("malformed file size: %q", fields[1])}
			}

			if _, err := w.Write([]byte{0}); err != nil {
				return 0, err
			}
			nbytes, err := io.CopyN(sink, r, size)
			if err != nil {
				return nbytes, err
			}
			if err := scpAck(r); err != nil {
				return nbytes, err
			}
			if _, err := w.Write([]byte{0}); err != nil {
				return nbytes, err
			}
			return nbytes, nil

		default:
			return 0, &ErrProtocol{msg: fmt.Sprintf("unexpected message: %q", line)}
		}
	}
}

func scpAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}

	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, _ := r.ReadString('\n')
		return &ErrProtocol{msg: strings.TrimSpace(msg)}
	}
	return &ErrProtocol{msg: fmt.Sprintf("unexpected response byte %d", b)}
}

// sized returns the source and the number of bytes it will produce. scp announces the
// size before the content, so sources of unknown length are buffered first.
func sized(source io.Reader) (io.Reader, int64, error) {
	switch v := source.(type) {
	case *os.File:
		info, err := v.Stat()
		if err != nil {
			return nil, 0, err
		}
		pos, err := v.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, 0, err
		}
		return v, info.Size() - pos, nil

	case interface{ Len() int }:
		return source, int64(v.Len()), nil
	}

	buffer := bytes.NewBuffer(nil)
	if _, err := io.Copy(buffer, source); err != nil {
		return nil, 0, err
	}
	return buffer, int64(buffer.Len()), nil
}
