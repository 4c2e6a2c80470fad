package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireRelease(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, m.Held("a"))
	assert.False(t, m.Held("b"))

	other, err := m.Acquire(ctx, "b")
	require.NoError(t, err)
	other.Release()

	lease.Release()
	lease.Release()
	assert.False(t, m.Held("a"))

	again, err := m.Acquire(ctx, "a")
	require.NoError(t, err)
	again.Release()
}

func TestManager_Exclusive(t *testing.T) {
	m := NewManager()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(context.Background(), "key")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			lease.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.False(t, m.Held("key"))
}

func TestManager_FIFO(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	holder, err := m.Acquire(ctx, "key")
	require.NoError(t, err)

	order := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		go func() {
			lease, err := m.Acquire(ctx, "key")
			if !assert.NoError(t, err) {
				return
			}
			order <- i
			lease.Release()
		}()
		require.Eventually(t, func() bool { return m.Waiting("key") == i }, time.Second, time.Millisecond)
	}

	holder.Release()
	for want := 1; want <= 3; want++ {
		select {
		case got := <-order:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatal("waiter never acquired the lock")
		}
	}
}

func TestManager_CancelledWaiterLeavesQueue(t *testing.T) {
	m := NewManager()
	holder, err := m.Acquire(context.Background(), "key")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(ctx, "key")
		done <- err
	}()
	require.Eventually(t, func() bool { return m.Waiting("key") == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter did not return")
	}
	assert.Equal(t, 0, m.Waiting("key"))

	holder.Release()
	assert.False(t, m.Held("key"))
}

func TestManager_CancelledBeforeAcquire(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Acquire(ctx, "key")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, m.Held("key"))
}

func TestManager_HandoffSurvivesCancellation(t *testing.T) {
	m := NewManager()

	for i := 0; i < 50; i++ {
		holder, err := m.Acquire(context.Background(), "key")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		first := make(chan error, 1)
		go func() {
			lease, err := m.Acquire(ctx, "key")
			if err == nil {
				lease.Release()
			}
			first <- err
		}()
		require.Eventually(t, func() bool { return m.Waiting("key") == 1 }, time.Second, time.Millisecond)

		second := make(chan struct{})
		go func() {
			lease, err := m.Acquire(context.Background(), "key")
			if assert.NoError(t, err) {
				lease.Release()
			}
			close(second)
		}()
		require.Eventually(t, func() bool { return m.Waiting("key") == 2 }, time.Second, time.Millisecond)

		// release and cancel race; the second waiter must get the key either way
		go cancel()
		holder.Release()

		<-first
		select {
		case <-second:
		case <-time.After(time.Second):
			t.Fatal("ownership was lost on cancellation")
		}
		assert.False(t, m.Held("key"))
	}
}
