package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/platinummonkey/canopy/pkg/codegen"
)

// errLocked is returned by a single lock attempt when someone else holds the lock
var errLocked = errors.New("resource locked")

// Unlocker releases a cross-process lock
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// UnlockFunc adapts a function to Unlocker
type UnlockFunc func(ctx context.Context) error

// Unlock implements Unlocker
func (f UnlockFunc) Unlock(ctx context.Context) error {
	return f(ctx)
}

// ExternalLock is an advisory lock shared between processes. Lock retries
// according to policy and fails with codegen.ErrLockTimeout when exhausted.
type ExternalLock interface {
	Lock(ctx context.Context, path string, policy RetryPolicy) (Unlocker, error)
}

// NoopExternalLock is used when cross-process locking is disabled
type NoopExternalLock struct{}

// Lock implements ExternalLock
func (NoopExternalLock) Lock(ctx context.Context, path string, policy RetryPolicy) (Unlocker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return UnlockFunc(func(context.Context) error { return nil }), nil
}

// RetryPolicy bounds how long an ExternalLock keeps trying
type RetryPolicy struct {
	Retries    int
	MinTimeout time.Duration
	MaxTimeout time.Duration
	Factor     float64
}

// DefaultRetryPolicy allows 20 retries between 20ms and 500ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Retries:    20,
		MinTimeout: 20 * time.Millisecond,
		MaxTimeout: 500 * time.Millisecond,
		Factor:     2,
	}
}

// Validate checks the policy bounds
func (p RetryPolicy) Validate() error {
	if p.Retries < 0 {
		return fmt.Errorf("%w: lock retries must not be negative", codegen.ErrInvalidArgument)
	}
	if p.MinTimeout <= 0 || p.MaxTimeout < p.MinTimeout {
		return fmt.Errorf("%w: lock timeouts must satisfy 0 < min <= max", codegen.ErrInvalidArgument)
	}
	if p.Factor < 1 {
		return fmt.Errorf("%w: lock backoff factor must be at least 1", codegen.ErrInvalidArgument)
	}
	return nil
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.MinTimeout
	eb.MaxInterval = p.MaxTimeout
	eb.Multiplier = p.Factor
	eb.RandomizationFactor = 0.1
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Retries)), ctx)
}

// retry runs attempt until it stops reporting errLocked or the policy gives up
func retry(ctx context.Context, path string, policy RetryPolicy, attempt func() (Unlocker, error)) (Unlocker, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	var unlocker Unlocker
	err := backoff.Retry(func() error {
		u, err := attempt()
		if errors.Is(err, errLocked) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		unlocker = u
		return nil
	}, policy.backOff(ctx))

	switch {
	case err == nil:
		return unlocker, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, errLocked):
		return nil, fmt.Errorf("%w: %s still locked after %d retries", codegen.ErrLockTimeout, path, policy.Retries)
	default:
		return nil, err
	}
}
