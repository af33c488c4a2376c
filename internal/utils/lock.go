package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	homedir "github.com/mitchellh/go-homedir"
)

const lockRetryDelay = 250 * time.Millisecond

// ErrLockTimeout is returned when another process keeps the archive locked
// longer than the configured timeout.
var ErrLockTimeout = errors.New("timed out waiting for the session archive lock")

// DBLock serializes writers of the SQLite session archive across processes.
// The lock file sits next to the archive as <archive>.lock.
type DBLock struct {
	lock    *flock.Flock
	path    string
	timeout time.Duration
}

// NewDBLock creates a lock for the archive at dbPath. A zero timeout waits
// until the lock is free.
func NewDBLock(dbPath string, timeout time.Duration) (*DBLock, error) {
	absPath, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}
	lockPath := absPath + ".lock"
	return &DBLock{lock: flock.New(lockPath), path: lockPath, timeout: timeout}, nil
}

// Lock acquires the archive lock, polling until ctx is done or the timeout
// expires.
func (l *DBLock) Lock(ctx context.Context) error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if locked {
		return nil
	}

	Log.Warnf("Another emvscope process is writing to the session archive, waiting for it to finish...")
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	locked, err = l.lock.TryLockContext(ctx, lockRetryDelay)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s (%s)", ErrLockTimeout, l.timeout, l.path)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire lock on %s", l.path)
	}
	return nil
}

// Unlock releases the archive lock.
func (l *DBLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// GetAbsDBPath resolves the archive path, defaulting to
// ~/.config/emvscope/emvscope.sqlite.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		home, err := homedir.Dir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "emvscope", "emvscope.sqlite"), nil
	}
	return filepath.Abs(dbPath)
}

// PrepareDBPath resolves dbPath and creates its parent directory.
func PrepareDBPath(dbPath string) (string, error) {
	absPath, err := GetAbsDBPath(dbPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("could not create %s: %w", filepath.Dir(absPath), err)
	}
	return absPath, nil
}
