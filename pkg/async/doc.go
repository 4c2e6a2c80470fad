// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// SafeGo runs a detached task with panic recovery, a timeout and structured
// error logging. Background work that must survive the request that started it
// (artifact mirroring, group regeneration) goes through SafeGo.
//
//	async.SafeGo(context.WithoutCancel(ctx), logger, 30*time.Second, "artifact mirror", func(ctx context.Context) error {
//		return mirror.Publish(ctx, variantID, modulePath, artifact)
//	})
//
// Lazy memoises a single asynchronous computation. Set forces a value that is
// already known and Reset drops it so the next Get recomputes.
//
//	groupMap := async.NewLazy(func(ctx context.Context) (groups.GroupMap, error) {
//		return groups.Generate(index, opts)
//	})
//	m, err := groupMap.Get(ctx)
package async
