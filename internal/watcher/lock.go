package watcher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another daemon holds the lock for the
// same root.
var ErrAlreadyRunning = errors.New("auto-save daemon already running for this directory")

// LockPath returns the lock file used for root inside dir.
func LockPath(dir, root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", root, err)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(dir, "claude-autosave-"+hex.EncodeToString(sum[:8])+".lock"), nil
}

// AcquireLock takes the per-root lock without blocking. An empty dir means
// the system temp directory.
func AcquireLock(dir, root string) (*flock.Flock, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path, err := LockPath(dir, root)
	if err != nil {
		return nil, err
	}

	fileLock := flock.New(path)
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}
	return fileLock, nil
}
