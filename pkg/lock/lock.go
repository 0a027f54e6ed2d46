// Package lock provides a non-blocking, file-based advisory lock that
// prevents two operations from running against the same backup
// destination concurrently.
package lock

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cuemby/coldvault/pkg/cverrors"
)

const lockFileName = ".coldvault.lock"

// Lock wraps a gofrs/flock advisory file lock scoped to one catalog
// directory. It is acquired for the lifetime of a single engine operation,
// not the whole process.
type Lock struct {
	fl *flock.Flock
}

// New returns a Lock for the given catalog directory, not yet acquired.
func New(catalogDir string) *Lock {
	return &Lock{fl: flock.New(filepath.Join(catalogDir, lockFileName))}
}

// TryLock attempts to acquire the lock without blocking. If another
// operation already holds it, it returns a cverrors.UserInformation error
// per spec.md §5 rather than queuing the caller.
func (l *Lock) TryLock() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire destination lock: %w", err)
	}
	if !ok {
		return cverrors.New(cverrors.UserInformation, fmt.Errorf("another operation already holds the destination lock at %s", l.fl.Path()))
	}
	return nil
}

// Unlock releases the lock. Safe to call even if TryLock failed.
func (l *Lock) Unlock() error {
	if !l.fl.Locked() {
		return nil
	}
	return l.fl.Unlock()
}
