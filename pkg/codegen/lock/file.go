package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const lockSuffix = ".lock"

// FileLock locks a path by exclusively creating "<path>.lock" next to it.
// Lock files older than StaleAfter are assumed abandoned and broken. While a
// lock is held its file is touched every StaleAfter/3.
type FileLock struct {
	StaleAfter time.Duration
}

// NewFileLock creates a file lock that breaks locks older than staleAfter.
// Zero never breaks a lock.
func NewFileLock(staleAfter time.Duration) *FileLock {
	return &FileLock{StaleAfter: staleAfter}
}

// Lock implements ExternalLock
func (l *FileLock) Lock(ctx context.Context, path string, policy RetryPolicy) (Unlocker, error) {
	lockPath := path + lockSuffix
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return retry(ctx, path, policy, func() (Unlocker, error) {
		return l.tryLock(lockPath)
	})
}

func (l *FileLock) tryLock(lockPath string) (Unlocker, error) {
	token := uuid.NewString()
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, fs.ErrExist) {
		if l.breakStale(lockPath) {
			return l.tryLock(lockPath)
		}
		return nil, errLocked
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, werr := f.WriteString(token)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(lockPath)
		return nil, fmt.Errorf("failed to write lock file: %w", werr)
	}

	hb := startHeartbeat(l.StaleAfter/3, func(context.Context) error {
		return touchOwned(lockPath, token)
	})

	return UnlockFunc(func(context.Context) error {
		hb.stop()
		owner, err := os.ReadFile(lockPath)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read lock file: %w", err)
		}
		// broken as stale and taken by someone else
		if string(owner) != token {
			return nil
		}
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}), nil
}

// touchOwned refreshes the lock file's mtime while it still holds token. A
// missing file is retried, since a breaker may be about to put it back.
func touchOwned(lockPath, token string) error {
	owner, err := os.ReadFile(lockPath)
	if err != nil {
		return err
	}
	if string(owner) != token {
		return errLost
	}
	now := time.Now()
	return os.Chtimes(lockPath, now, now)
}

// breakStale removes the lock file when it is older than StaleAfter. The file
// is first moved aside and checked again, so a lock that was refreshed or
// re-taken after the first look is put back instead of deleted.
func (l *FileLock) breakStale(lockPath string) bool {
	if l.StaleAfter <= 0 {
		return false
	}
	info, err := os.Stat(lockPath)
	if err != nil || time.Since(info.ModTime()) < l.StaleAfter {
		return false
	}

	aside := lockPath + ".stale-" + uuid.NewString()
	if err := os.Rename(lockPath, aside); err != nil {
		return false
	}
	defer os.Remove(aside)

	moved, err := os.Stat(aside)
	if err != nil {
		return true
	}
	if os.SameFile(info, moved) && time.Since(moved.ModTime()) >= l.StaleAfter {
		return true
	}
	// a live lock; restore it unless the path was taken meanwhile
	_ = os.Link(aside, lockPath)
	return false
}
