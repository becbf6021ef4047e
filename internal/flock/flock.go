// Package flock holds exclusive advisory locks on lock files.
//
// Locks are non-blocking at the OS level; Acquire polls until the lock is
// free, the timeout passes or the context ends.
//
//	lock, err := flock.Acquire(ctx, filepath.Join(dir, "session.json.lock"), 5*time.Second, 50*time.Millisecond)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = lock.Release() }()
package flock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mrz1836/storyloom/internal/errors"
)

const lockFilePerm = 0o600

// Lock is a held exclusive lock.
type Lock struct {
	f *os.File
}

// Acquire creates path if needed and takes an exclusive lock on it.
// It returns errors.ErrLockTimeout when the lock stays held past timeout.
func Acquire(ctx context.Context, path string, timeout, retry time.Duration) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, lockFilePerm) //#nosec G302,G304 -- lock file needs write access; callers build the path
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		locked, err := tryLock(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("failed to lock: %w", err)
		}
		if locked {
			return &Lock{f: f}, nil
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return nil, fmt.Errorf("failed to acquire lock: %w", errors.ErrLockTimeout)
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

// Release unlocks and closes the lock file. It is safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	if err := unlock(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return f.Close()
}
