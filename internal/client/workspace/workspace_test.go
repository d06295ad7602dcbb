package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkspaceSetup_CreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pq")

	w, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, w.Setup())

	assert.DirExists(t, w.Root)
	assert.DirExists(t, w.LogsDir)
	assert.DirExists(t, w.MetadataDir)
	assert.Equal(t, filepath.Join(root, "logs", "photoqueue.log"), w.LogFile())
}

func TestWorkspaceSetup_RootIsFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "pq")
	require.NoError(t, os.WriteFile(root, []byte("x"), 0o644))

	w, err := NewWorkspace(root)
	require.NoError(t, err)
	assert.ErrorContains(t, w.Setup(), "is a file")
}

func TestNewWorkspace_EmptyRoot(t *testing.T) {
	_, err := NewWorkspace("")
	assert.Error(t, err)
}

func TestWorkspaceLocking_SingleInstance(t *testing.T) {
	root := t.TempDir()

	w1, err := NewWorkspace(root)
	require.NoError(t, err)
	w2, err := NewWorkspace(root)
	require.NoError(t, err)

	require.NoError(t, w1.Lock())

	err = w2.Lock()
	require.ErrorIs(t, err, ErrWorkspaceLocked)

	lockPath := filepath.Join(root, ".data", "photoqueue.lock")
	assert.FileExists(t, lockPath)
	assert.Equal(t, lockPath, w1.LockFile())

	// unlocking a workspace this process never locked is a no-op
	require.NoError(t, w2.Unlock())
	assert.FileExists(t, lockPath)

	require.NoError(t, w1.Unlock())
	_, statErr := os.Stat(lockPath)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	require.NoError(t, w2.Lock())
	t.Cleanup(func() { _ = w2.Unlock() })
}
