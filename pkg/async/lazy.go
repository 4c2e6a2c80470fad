package async

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/canopy/pkg/observability"
)

// Lazy memoises a single computation. The first Get starts it; concurrent
// callers share the result, error included, until Reset. The computation
// outlives a cancelled caller so that one impatient request cannot poison
// the value for everybody else.
type Lazy[T any] struct {
	fn func(context.Context) (T, error)

	mu   sync.Mutex
	gen  uint64
	done bool
	val  T
	err  error
	wait chan struct{}
}

// NewLazy creates a Lazy computed by fn
func NewLazy[T any](fn func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{fn: fn}
}

// Known creates a Lazy that already holds v
func Known[T any](v T) *Lazy[T] {
	return &Lazy[T]{done: true, val: v}
}

// Get returns the value, computing it on first use
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	for {
		l.mu.Lock()
		if l.done {
			v, err := l.val, l.err
			l.mu.Unlock()
			return v, err
		}
		if l.wait == nil {
			if l.fn == nil {
				l.mu.Unlock()
				var zero T
				return zero, fmt.Errorf("lazy value has no producer")
			}
			l.wait = make(chan struct{})
			go l.run(context.WithoutCancel(ctx), l.gen, l.wait)
		}
		wait := l.wait
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Set stores a known value, replacing any result or pending computation
func (l *Lazy[T]) Set(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.done, l.val, l.err = true, v, nil
	l.wake()
}

// Reset forgets the value; the next Get computes it again
func (l *Lazy[T]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.gen++
	l.done, l.val, l.err = false, zero, nil
	l.wake()
}

// Ready reports whether a value or error is memoised
func (l *Lazy[T]) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *Lazy[T]) wake() {
	if l.wait != nil {
		close(l.wait)
		l.wait = nil
	}
}

func (l *Lazy[T]) run(ctx context.Context, gen uint64, wait chan struct{}) {
	v, err := l.call(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != gen || l.wait != wait {
		return
	}
	l.done, l.val, l.err = true, v, err
	l.wake()
}

func (l *Lazy[T]) call(ctx context.Context) (v T, err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return l.fn(ctx)
}
