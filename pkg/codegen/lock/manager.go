// Package lock serialises work on a compiled artifact. Manager provides
// in-process exclusion with FIFO hand-off per key; an ExternalLock extends it
// to other processes sharing the same output directory.
package lock

import (
	"container/list"
	"context"
	"sync"
)

// Manager hands out exclusive leases per key. Waiters are served in arrival
// order.
type Manager struct {
	mu     sync.Mutex
	queues map[string]*queue
}

type queue struct {
	waiters *list.List
}

type waiter struct {
	ready chan struct{}
}

// NewManager creates an empty lock table
func NewManager() *Manager {
	return &Manager{queues: make(map[string]*queue)}
}

// Lease is exclusive ownership of a key until Release is called
type Lease struct {
	m    *Manager
	key  string
	once sync.Once
}

// Key returns the locked key
func (l *Lease) Key() string {
	return l.key
}

// Release hands the key to the next waiter. Calling it more than once is a
// no-op.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.m.release(l.key)
	})
}

// Acquire blocks until the key is free or ctx is done. A waiter that gives up
// leaves the queue; if the key had already been handed to it, it is passed on
// to the next waiter.
func (m *Manager) Acquire(ctx context.Context, key string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	q, held := m.queues[key]
	if !held {
		m.queues[key] = &queue{waiters: list.New()}
		m.mu.Unlock()
		return &Lease{m: m, key: key}, nil
	}
	w := &waiter{ready: make(chan struct{})}
	elem := q.waiters.PushBack(w)
	m.mu.Unlock()

	select {
	case <-w.ready:
		return &Lease{m: m, key: key}, nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	select {
	case <-w.ready:
		m.mu.Unlock()
		m.release(key)
	default:
		q.waiters.Remove(elem)
		m.mu.Unlock()
	}
	return nil, ctx.Err()
}

// Held reports whether key is currently leased
func (m *Manager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[key]
	return ok
}

// Waiting returns how many callers are queued behind the holder of key
func (m *Manager) Waiting(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[key]; ok {
		return q.waiters.Len()
	}
	return 0
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[key]
	if !ok {
		return
	}
	front := q.waiters.Front()
	if front == nil {
		delete(m.queues, key)
		return
	}
	q.waiters.Remove(front)
	close(front.Value.(*waiter).ready)
}
