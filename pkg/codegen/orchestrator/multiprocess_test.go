package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
	"github.com/platinummonkey/canopy/pkg/observability"
)

// newProcess builds an orchestrator the way a separate process sharing the
// output directory would: its own store, its own in-process lock table and a
// file lock on disk
func newProcess(t *testing.T, transformer codegen.Transformer, staleAfter time.Duration, memoryEntries int) *Orchestrator {
	t.Helper()
	logger := observability.NewLogger(observability.DebugLevel, io.Discard)
	store := cache.NewStore(cache.Options{Logger: logger, MemoryEntries: memoryEntries})
	policy := lock.RetryPolicy{Retries: 200, MinTimeout: 5 * time.Millisecond, MaxTimeout: 20 * time.Millisecond, Factor: 2}

	orch, err := New(Options{
		Store:       store,
		Locker:      lock.NewLocker(lock.NewFileLock(staleAfter), policy),
		Transformer: transformer,
		Logger:      logger,
	})
	require.NoError(t, err)
	return orch
}

func sharedRequest(t *testing.T) *CompileRequest {
	t.Helper()
	root := t.TempDir()
	return &CompileRequest{
		SourcePath:   filepath.Join(root, "src", "app.js"),
		ModulePath:   "src/app.js",
		CompiledPath: filepath.Join(root, ".canopy", "out", "best", "src", "app.js"),
		VariantID:    "best",
	}
}

func TestCompile_DescriptorRewrittenByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	req := sharedRequest(t)
	transformer := &upperTransformer{}

	withMemory := newProcess(t, transformer, 10*time.Second, 16)
	other := newProcess(t, transformer, 10*time.Second, 0)

	writeSource(t, req.SourcePath, "v1")
	out, err := withMemory.Compile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, codegen.StatusCreated, out.Status)
	assert.Equal(t, "V1", string(out.Artifact.Compiled))

	writeSource(t, req.SourcePath, "v2!")
	out, err = other.Compile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, codegen.StatusUpdated, out.Status)
	assert.Equal(t, "V2!", string(out.Artifact.Compiled))

	// back to the source the first process last compiled
	writeSource(t, req.SourcePath, "v1")
	out, err = withMemory.Compile(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, codegen.StatusUpdated, out.Status)
	assert.Equal(t, cache.ReasonSourceETagMismatch, out.InvalidReason)
	assert.Equal(t, "V1", string(out.Artifact.Compiled))

	onDisk, err := os.ReadFile(req.CompiledPath)
	require.NoError(t, err)
	assert.Equal(t, "V1", string(onDisk))
}

func TestCompile_SlowTransformKeepsCrossProcessLock(t *testing.T) {
	req := sharedRequest(t)
	writeSource(t, req.SourcePath, "const a = 1")

	// the transform outlives the stale threshold several times over
	transformer := &upperTransformer{delay: 400 * time.Millisecond}
	processes := []*Orchestrator{
		newProcess(t, transformer, 150*time.Millisecond, 0),
		newProcess(t, transformer, 150*time.Millisecond, 0),
	}

	var wg sync.WaitGroup
	statuses := make([]codegen.CompileStatus, len(processes))
	errs := make([]error, len(processes))
	for i, p := range processes {
		wg.Add(1)
		go func(i int, p *Orchestrator) {
			defer wg.Done()
			out, err := p.Compile(context.Background(), req)
			errs[i] = err
			if err == nil {
				statuses[i] = out.Status
			}
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), transformer.calls.Load())
	assert.ElementsMatch(t, []codegen.CompileStatus{codegen.StatusCreated, codegen.StatusCached}, statuses)
	assert.NoFileExists(t, req.CompiledPath+".lock")
}
