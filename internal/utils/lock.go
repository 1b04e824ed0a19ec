package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix = ".lock"
)

// StateLock manages a file-based lock for the bridge state database.
type StateLock struct {
	lock *flock.Flock
	path string
}

// NewStateLock creates a new lock for the given state path.
func NewStateLock(statePath string) (*StateLock, error) {
	absPath, err := GetAbsStatePath(statePath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute state path: %w", err)
	}
	lockPath := absPath + lockFileSuffix
	return &StateLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// TryLock acquires the state lock without waiting. A bridge owns its
// state file for its whole lifetime, so a held lock means another bridge
// is already running against the same file.
func (l *StateLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("another togetter bridge holds %s", l.path)
	}
	return nil
}

// Unlock releases the state lock.
func (l *StateLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		// Suppress error if the lock file doesn't exist, as it means we don't hold the lock.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// GetAbsStatePath resolves the state database path.
func GetAbsStatePath(statePath string) (string, error) {
	if statePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "togetter", "state.sqlite"), nil
	}
	return filepath.Abs(statePath)
}
