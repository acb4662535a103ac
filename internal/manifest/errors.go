package manifest

import (
	"fmt"
)

type ErrNoSuchManifest struct {
	msg string
}

func (e *ErrNoSuchManifest) Error() string {
	return e.msg
}

type ErrCorruptManifest struct {
	msg string
	err error
}

func (e *ErrCorruptManifest) Error() string {
	if e.err == nil {
		return fmt.Sprintf("corrupt cache file: %s", e.msg)
	}
	return fmt.Sprintf("corrupt cache file: %s: %s", e.msg, e.err)
}

func (e *ErrCorruptManifest) Unwrap() error {
	return e.err
}
