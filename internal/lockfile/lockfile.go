// Package lockfile provides cross-process locks so two kbpicker processes
// never mutate the same knowledge base at once.
package lockfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned when the lock could not be acquired in time
var ErrTimeout = errors.New("timed out waiting for lock")

// DefaultRetryDelay is how often a blocked Lock re-checks the file
const DefaultRetryDelay = 100 * time.Millisecond

// Lock is an exclusive lock backed by <dir>/<name>.lock
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock for name under dir. Nothing is touched on disk until
// Lock or TryLock.
func New(dir, name string) *Lock {
	path := filepath.Join(dir, name+".lock")
	return &Lock{path: path, flock: flock.New(path)}
}

// Lock blocks until the lock is held or ctx is done
func (l *Lock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	ok, err := l.flock.TryLockContext(ctx, DefaultRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s", ErrTimeout, l.path)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTimeout, l.path)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking and reports whether it did
func (l *Lock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = ok
	return ok, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path
func (l *Lock) Path() string {
	return l.path
}

// Locked reports whether this process holds the lock
func (l *Lock) Locked() bool {
	return l.locked
}
