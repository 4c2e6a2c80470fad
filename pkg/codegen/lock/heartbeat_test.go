package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeat(t *testing.T) {
	t.Run("zero interval starts nothing", func(t *testing.T) {
		h := startHeartbeat(0, func(context.Context) error { return nil })
		assert.Nil(t, h)
		h.stop()
	})

	t.Run("refreshes until stopped", func(t *testing.T) {
		var calls atomic.Int32
		h := startHeartbeat(5*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return nil
		})
		assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

		h.stop()
		n := calls.Load()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, n, calls.Load())
		h.stop()
	})

	t.Run("transient errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		h := startHeartbeat(5*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return errors.New("disk busy")
		})
		defer h.stop()
		assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	})

	t.Run("lost lock ends the heartbeat", func(t *testing.T) {
		var calls atomic.Int32
		h := startHeartbeat(5*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return errLost
		})
		select {
		case <-h.done:
		case <-time.After(time.Second):
			t.Fatal("heartbeat kept running after the lock was lost")
		}
		assert.Equal(t, int32(1), calls.Load())
		h.stop()
	})
}
