package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/studio1767/sshsync/internal/ops"
)

func sourceNotFound(t *testing.T) error {
	t.Helper()

	_, err := ops.ScanTree(context.Background(), filepath.Join(t.TempDir(), "absent"), nil, 1)
	require.Error(t, err)
	return err
}

func TestExitCodeIndependentOfJobOrder(t *testing.T) {
	runtime := errors.New("connection refused")

	// two missing sources stay a parameter failure
	code := exitCode(exitOk, sourceNotFound(t))
	code = exitCode(code, sourceNotFound(t))
	require.Equal(t, exitParams, code)

	// a runtime failure wins whichever order the jobs fail in
	code = exitCode(exitOk, sourceNotFound(t))
	code = exitCode(code, runtime)
	require.Equal(t, exitRuntime, code)

	code = exitCode(exitOk, runtime)
	code = exitCode(code, sourceNotFound(t))
	require.Equal(t, exitRuntime, code)
}
