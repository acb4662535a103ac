// Package transport moves files to and from the remote side and runs commands there.
//
// Every implementation works relative to a working directory established by
// EnsureDirectory. The sync engine only sees the Transport interface; which file transfer
// mechanism sits behind it is decided once, when the session is set up.
package transport

import (
	"context"
	"io"
	"strings"
)

type Transport interface {
	// Upload writes everything read from source to the remote path, replacing any
	// existing file, and returns the number of bytes transferred.
	Upload(ctx context.Context, source io.Reader, path string) (int64, error)

	// Download copies the remote file into sink. A missing remote file is reported
	// as an ErrNoSuchFile.
	Download(ctx context.Context, path string, sink io.Writer) (int64, error)

	// Run executes a shell command and returns its exit status and error output. The
	// error is only set when the command could not be run at all.
	Run(ctx context.Context, command string) (int, string, error)

	// EnsureDirectory creates the directory if needed and makes it the working
	// directory for relative upload and download paths.
	EnsureDirectory(ctx context.Context, dir string) error

	Close() error
}

// Quote returns s quoted for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// HomeRelative rewrites a leading "~" as a path relative to the login directory, which is
// where relative paths resolve. Paths are quoted in remote commands so the shell never
// expands "~" itself.
func HomeRelative(dir string) string {
	switch {
	case dir == "~":
		return "."
	case strings.HasPrefix(dir, "~/"):
		rel := strings.TrimLeft(dir[2:], "/")
		if rel == "" {
			return "."
		}
		return rel
	}
	return dir
}

// mkdirCommand is shared by the remote implementations of EnsureDirectory.
func mkdirCommand(dir string) string {
	return "mkdir -p " + Quote(HomeRelative(dir))
}
