package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/photoqueue/internal/utils"
)

const (
	logsDir     = "logs"
	metadataDir = ".data"
	lockFile    = "photoqueue.lock"
	logFile     = "photoqueue.log"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
)

// Workspace is the data directory of a photoqueue daemon.
type Workspace struct {
	Root        string
	LogsDir     string
	MetadataDir string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	return &Workspace{
		Root:        root,
		LogsDir:     filepath.Join(root, logsDir),
		MetadataDir: filepath.Join(root, metadataDir),
		flock:       flock.New(filepath.Join(root, metadataDir, lockFile)),
	}, nil
}

// Lock makes sure only one daemon drives uploads out of this workspace.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// if this process hasn't locked the workspace, then don't delete the lock file
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup creates the directory layout.
func (w *Workspace) Setup() error {
	if utils.FileExists(w.Root) {
		return fmt.Errorf("workspace root %s is a file", w.Root)
	}
	for _, dir := range []string{w.Root, w.LogsDir, w.MetadataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Workspace) LogFile() string {
	return filepath.Join(w.LogsDir, logFile)
}

func (w *Workspace) LockFile() string {
	return w.flock.Path()
}
