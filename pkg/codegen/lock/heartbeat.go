package lock

import (
	"context"
	"errors"
	"time"
)

// errLost is returned by a refresh when the lock now belongs to someone else
var errLost = errors.New("lock lost")

// heartbeat keeps a held external lock fresh until stopped, so that a long
// transform is not mistaken for an abandoned lock
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startHeartbeat calls refresh every interval. It stops on its own once
// refresh reports errLost; other errors are retried on the next tick. A
// non-positive interval starts nothing.
func startHeartbeat(interval time.Duration, refresh func(ctx context.Context) error) *heartbeat {
	if interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := refresh(ctx); errors.Is(err, errLost) {
					return
				}
			}
		}
	}()
	return h
}

// stop ends the heartbeat and waits for an in-flight refresh to finish
func (h *heartbeat) stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
