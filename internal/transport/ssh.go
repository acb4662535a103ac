package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

type Protocol string

const (
	ProtocolAuto Protocol = "auto"
	ProtocolSFTP Protocol = "sftp"
	ProtocolSCP  Protocol = "scp"

	// ProtocolLocal skips SSH; the destination is a path on this machine.
	ProtocolLocal Protocol = "local"
)

func ParseProtocol(name string) (Protocol, error) {
	switch Protocol(name) {
	case "", ProtocolAuto:
		return ProtocolAuto, nil
	case ProtocolSFTP, ProtocolSCP, ProtocolLocal:
		return Protocol(name), nil
	}
	return "", &ErrUnknownProtocol{protocol: name}
}

// Config holds everything needed to open an SSH session.
type Config struct {
	Host string
	Port int
	User string

	// Credentials; at least one must be usable.
	Password      string
	KeyFile       string
	KeyPassphrase string
	UseAgent      bool

	// Host key verification. KnownHostsFile defaults to ~/.ssh/known_hosts.
	KnownHostsFile        string
	InsecureIgnoreHostKey bool

	Protocol Protocol
	Timeout  time.Duration
}

func (cfg *Config) address() string {
	port := cfg.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Dial opens the SSH session and selects the file transfer implementation. With
// ProtocolAuto SFTP is tried first and SCP is used when the server has no SFTP subsystem.
// ProtocolLocal returns a Local transport rooted at the working directory.
func Dial(ctx context.Context, cfg *Config) (Transport, error) {
	if cfg.Protocol == ProtocolLocal {
		slog.Info("using local destination")
		return NewLocal("."), nil
	}

	addr := cfg.address()

	slog.Info("connecting", "user", cfg.User, "address", addr)

	auth, closers, err := cfg.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := cfg.hostKeyCallback()
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}

	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	sconn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig)
	if err != nil {
		conn.Close()
		closeAll(closers)
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}

	sh := &shell{
		client:  ssh.NewClient(sconn, chans, reqs),
		closers: closers,
	}

	protocol := cfg.Protocol
	if protocol == "" {
		protocol = ProtocolAuto
	}

	switch protocol {
	case ProtocolSCP:
		slog.Info("connected", "user", cfg.User, "address", addr, "transfer", "scp")
		return newSCP(sh), nil

	case ProtocolSFTP, ProtocolAuto:
		sf, err := newSFTP(sh)
		if err == nil {
			slog.Info("connected", "user", cfg.User, "address", addr, "transfer", "sftp")
			return sf, nil
		}
		if protocol == ProtocolSFTP {
			sh.Close()
			return nil, fmt.Errorf("failed to start sftp: %w", err)
		}
		slog.Warn("sftp not available, using scp instead", "address", addr, "error", err)
		return newSCP(sh), nil
	}

	sh.Close()
	return nil, &ErrUnknownProtocol{protocol: string(protocol)}
}

func (cfg *Config) authMethods() ([]ssh.AuthMethod, []io.Closer, error) {
	var methods []ssh.AuthMethod
	var closers []io.Closer

	if cfg.UseAgent {
		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			conn, err := net.Dial("unix", sock)
			if err != nil {
				slog.Warn("failed to connect to ssh agent", "socket", sock, "error", err)
			} else {
				closers = append(closers, conn)
				methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
			}
		}
	}

	if cfg.KeyFile != "" {
		data, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(data)
		}
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("failed to parse private key %s: %w", cfg.KeyFile, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		password := cfg.Password
		methods = append(methods,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		closeAll(closers)
		return nil, nil, errors.New("no SSH credentials configured")
	}

	return methods, closers, nil
}

func (cfg *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		slog.Warn("host key verification disabled", "host", cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}

	file := cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		file = filepath.Join(home, ".ssh", "known_hosts")
	}

	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, fmt.Errorf("failed to load known hosts: %w", err)
	}
	return callback, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// shell runs commands over the SSH session. It is shared by the SFTP and SCP transports.
type shell struct {
	client  *ssh.Client
	closers []io.Closer
}

func (sh *shell) Run(ctx context.Context, command string) (int, string, error) {
	session, err := sh.client.NewSession()
	if err != nil {
		return -1, "", err
	}
	defer session.Close()

	stderr := bytes.NewBuffer(nil)
	session.Stderr = stderr

	stop := closeOnDone(ctx, session)
	defer stop()

	err = session.Run(command)
	return exitStatus(ctx, err, stderr.String())
}

func (sh *shell) mkdir(ctx context.Context, dir string) error {
	command := mkdirCommand(dir)

	status, stderr, err := sh.Run(ctx, command)
	if err != nil {
		return err
	}
	if status != 0 {
		return &ErrRemoteCommand{
			Command:    command,
			ExitStatus: status,
			Stderr:     stderr,
		}
	}
	return nil
}

func (sh *shell) Close() error {
	err := sh.client.Close()
	closeAll(sh.closers)
	return err
}

// closeOnDone closes the session when the context is cancelled, which unblocks any call
// waiting on it. The returned function stops the watcher.
func closeOnDone(ctx context.Context, session *ssh.Session) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			session.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

func exitStatus(ctx context.Context, err error, stderr string) (int, string, error) {
	if err == nil {
		return 0, stderr, nil
	}
	if ctx.Err() != nil {
		return -1, stderr, ctx.Err()
	}

	var exiterr *ssh.ExitError
	if errors.As(err, &exiterr) {
		return exiterr.ExitStatus(), stderr, nil
	}
	return -1, stderr, err
}
