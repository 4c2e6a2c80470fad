package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLock struct {
	m            *Manager
	lockErr      error
	unlockErr    error
	heldAtUnlock bool
	unlocks      int
}

func (r *recordingLock) Lock(ctx context.Context, path string, policy RetryPolicy) (Unlocker, error) {
	if r.lockErr != nil {
		return nil, r.lockErr
	}
	return UnlockFunc(func(context.Context) error {
		r.unlocks++
		r.heldAtUnlock = r.m.Held(path)
		return r.unlockErr
	}), nil
}

func TestLocker_ReleaseOrder(t *testing.T) {
	rec := &recordingLock{}
	l := NewLocker(rec, fastPolicy())
	rec.m = l.Manager()

	h, err := l.Lock(context.Background(), "/a")
	require.NoError(t, err)
	assert.True(t, l.Manager().Held("/a"))

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	assert.True(t, rec.heldAtUnlock)
	assert.Equal(t, 1, rec.unlocks)
	assert.False(t, l.Manager().Held("/a"))
}

func TestLocker_ExternalFailureReleasesLease(t *testing.T) {
	boom := errors.New("boom")
	l := NewLocker(&recordingLock{lockErr: boom}, fastPolicy())

	_, err := l.Lock(context.Background(), "/a")
	assert.ErrorIs(t, err, boom)
	assert.False(t, l.Manager().Held("/a"))
}

func TestLocker_UnlockErrorStillReleasesLease(t *testing.T) {
	boom := errors.New("boom")
	rec := &recordingLock{unlockErr: boom}
	l := NewLocker(rec, fastPolicy())
	rec.m = l.Manager()

	h, err := l.Lock(context.Background(), "/a")
	require.NoError(t, err)

	err = h.Release()
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, h.Release(), boom)
	assert.False(t, l.Manager().Held("/a"))
}

func TestLocker_NilExternal(t *testing.T) {
	l := NewLocker(nil, DefaultRetryPolicy())
	h, err := l.Lock(context.Background(), "/a")
	require.NoError(t, err)
	assert.NoError(t, h.Release())
}
