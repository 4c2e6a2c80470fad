package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const unlockTimeout = 5 * time.Second

// Locker takes the in-process lease first, then the external lock
type Locker struct {
	local    *Manager
	external ExternalLock
	policy   RetryPolicy
}

// NewLocker composes a Manager with an optional external lock. A nil external
// lock disables cross-process locking.
func NewLocker(external ExternalLock, policy RetryPolicy) *Locker {
	if external == nil {
		external = NoopExternalLock{}
	}
	return &Locker{
		local:    NewManager(),
		external: external,
		policy:   policy,
	}
}

// Manager exposes the in-process lock table
func (l *Locker) Manager() *Manager {
	return l.local
}

// Handle holds both locks for one key
type Handle struct {
	lease    *Lease
	unlocker Unlocker
	once     sync.Once
	err      error
}

// Lock acquires both locks for path. On failure nothing is left held.
func (l *Locker) Lock(ctx context.Context, path string) (*Handle, error) {
	lease, err := l.local.Acquire(ctx, path)
	if err != nil {
		return nil, err
	}
	unlocker, err := l.external.Lock(ctx, path, l.policy)
	if err != nil {
		lease.Release()
		return nil, err
	}
	return &Handle{lease: lease, unlocker: unlocker}, nil
}

// Release drops the external lock, then the in-process lease. The lease is
// released even if the external unlock fails. Later calls return the first
// result.
func (h *Handle) Release() error {
	h.once.Do(func() {
		defer h.lease.Release()
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if err := h.unlocker.Unlock(ctx); err != nil {
			h.err = fmt.Errorf("failed to release external lock on %s: %w", h.lease.Key(), err)
		}
	})
	return h.err
}
