package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studio1767/sshsync/internal/manifest"
	"github.com/studio1767/sshsync/internal/ops"
	"github.com/studio1767/sshsync/internal/transport"
)

// DeleteListName is the remote name of the list of stale paths.
const DeleteListName = ".deletedFilesList.cache"

// ApplyFlags records which artifacts were uploaded in this run.
type ApplyFlags int

const (
	FlagDeleteList ApplyFlags = 1 << iota
	FlagArchive
)

type State int

const (
	StateIdle State = iota
	StateUploaded
	StateApplied
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploaded:
		return "uploaded"
	case StateApplied:
		return "applied"
	}
	return "unknown"
}

// Applier turns the uploaded artifacts into changes of the remote tree with a single
// remote command.
type Applier struct {
	destination     string
	compression     ops.Compression
	removeTempFiles bool

	replaced []string

	flags ApplyFlags
	state State
}

func NewApplier(destination string, compression ops.Compression, removeTempFiles bool) *Applier {
	return &Applier{
		destination:     destination,
		compression:     compression,
		removeTempFiles: removeTempFiles,
	}
}

func (a *Applier) State() State {
	return a.state
}

func (a *Applier) Flags() ApplyFlags {
	return a.flags
}

// ClearBeforeExtract sets paths that are removed, recursively, before the archive is
// extracted. They are paths whose kind the archive changes between file and directory.
func (a *Applier) ClearBeforeExtract(paths []string) {
	a.replaced = paths
}

// MarkUploaded records that the artifact for flag is now on the remote side.
func (a *Applier) MarkUploaded(flag ApplyFlags) {
	a.flags |= flag
	a.state = StateUploaded
}

// Command composes the remote command for the uploaded artifacts. Every step is chained
// with && so a failing extraction stops the cache promotion and everything after it.
func (a *Applier) Command() string {
	steps := []string{"cd " + transport.Quote(a.destination)}

	if a.flags&FlagArchive != 0 {
		if len(a.replaced) > 0 {
			quoted := make([]string, len(a.replaced))
			for i, p := range a.replaced {
				quoted[i] = transport.Quote(p)
			}
			steps = append(steps, "rm -rf -- "+strings.Join(quoted, " "))
		}
		steps = append(steps, a.compression.ExtractCommand())
		if a.removeTempFiles {
			steps = append(steps, "rm -f "+a.compression.ArchiveName())
		}
		steps = append(steps, fmt.Sprintf("mv -f %s %s", manifest.TempName, manifest.LiveName))
	}

	if a.flags&FlagDeleteList != 0 {
		steps = append(steps, fmt.Sprintf(`while IFS= read -r file ; do rm -f -- "$file" ; done < %s`, DeleteListName))
		if a.removeTempFiles {
			steps = append(steps, "rm -f "+DeleteListName)
		}
	}

	return strings.Join(steps, " && ")
}

// Apply runs the composed command. A non-zero exit status is returned as
// transport.ErrRemoteCommand; nothing is rolled back.
func (a *Applier) Apply(ctx context.Context, t transport.Transport) error {
	if a.state != StateUploaded {
		return errors.New("nothing has been uploaded to apply")
	}

	command := a.Command()
	slog.Debug("applying changes", "command", command)

	status, stderr, err := t.Run(ctx, command)
	if err != nil {
		return fmt.Errorf("failed to run remote command: %w", err)
	}
	if status != 0 {
		return &transport.ErrRemoteCommand{
			Command:    command,
			ExitStatus: status,
			Stderr:     strings.TrimSpace(stderr),
		}
	}

	a.state = StateApplied
	return nil
}
