package transport

import (
	"fmt"
	"strings"
)

type ErrNoSuchFile struct {
	Path string
}

func (e *ErrNoSuchFile) Error() string {
	return fmt.Sprintf("no such remote file: %s", e.Path)
}

type ErrRemoteCommand struct {
	Command    string
	ExitStatus int
	Stderr     string
}

func (e *ErrRemoteCommand) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("remote command failed with exit status %d", e.ExitStatus)
	}
	return fmt.Sprintf("remote command failed with exit status %d: %s", e.ExitStatus, msg)
}

type ErrUnknownProtocol struct {
	protocol string
}

func (e *ErrUnknownProtocol) Error() string {
	return fmt.Sprintf("unknown transfer protocol: %s", e.protocol)
}

type ErrProtocol struct {
	msg string
}

func (e *ErrProtocol) Error() string {
	return fmt.Sprintf("scp: %s", e.msg)
}
