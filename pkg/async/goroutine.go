package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/canopy/pkg/observability"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` to prevent goroutine leaks and crashes.
//
// Example:
//
//	SafeGo(context.WithoutCancel(r.Context()), logger, 30*time.Second, "artifact mirror", func(ctx context.Context) error {
//	    return mirror.Publish(ctx, variantID, modulePath, artifact)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("PANIC recovered in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			logger.WithField("task", taskName).WithError(err).Warn("Background task failed")
		}
	}()
	return done
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
// Still provides panic recovery and context support.
func SafeGoNoError(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context)) <-chan struct{} {
	return SafeGo(parentCtx, logger, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}
