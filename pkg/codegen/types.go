package codegen

import (
	"context"
	"fmt"
	"time"
)

// Transformer turns one source module into its compiled form for a set of
// required capabilities. Implementations must be pure with respect to their
// inputs: the same source and capabilities always give the same output.
type Transformer interface {
	Transform(ctx context.Context, input *TransformInput) (*Artifact, error)
}

// TransformerFunc adapts a function to the Transformer interface
type TransformerFunc func(ctx context.Context, input *TransformInput) (*Artifact, error)

// Transform implements Transformer
func (f TransformerFunc) Transform(ctx context.Context, input *TransformInput) (*Artifact, error) {
	return f(ctx, input)
}

// TransformInput is what a Transformer receives
type TransformInput struct {
	// SourcePath is the absolute path of the original module
	SourcePath string
	// Source is the original module text
	Source []byte
	// CompiledPath is where the artifact will be written
	CompiledPath string
	// VariantID names the compile variant, e.g. "best"
	VariantID string
	// Capabilities lists the capability transforms to apply, sorted
	Capabilities []string
}

// Artifact is the output of a compilation, either fresh from a Transformer or
// read back from the cache.
type Artifact struct {
	ContentType string
	Compiled    []byte

	// Sources are absolute paths of every file that influenced Compiled
	Sources        []string
	SourcesContent [][]byte

	// Assets are absolute paths of side files written next to the artifact
	// (source maps, coverage data)
	Assets        []string
	AssetsContent [][]byte
}

// Validate checks the Transformer contract
func (a *Artifact) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: transformer returned no result", ErrTransformContractViolation)
	}
	if a.ContentType == "" {
		return fmt.Errorf("%w: contentType is required", ErrTransformContractViolation)
	}
	if a.Compiled == nil {
		return fmt.Errorf("%w: compiled content is required", ErrTransformContractViolation)
	}
	if len(a.Sources) != len(a.SourcesContent) {
		return fmt.Errorf("%w: %d sources but %d source contents",
			ErrTransformContractViolation, len(a.Sources), len(a.SourcesContent))
	}
	if len(a.Assets) != len(a.AssetsContent) {
		return fmt.Errorf("%w: %d assets but %d asset contents",
			ErrTransformContractViolation, len(a.Assets), len(a.AssetsContent))
	}
	for _, p := range a.Sources {
		if p == "" {
			return fmt.Errorf("%w: empty source path", ErrTransformContractViolation)
		}
	}
	for _, p := range a.Assets {
		if p == "" {
			return fmt.Errorf("%w: empty asset path", ErrTransformContractViolation)
		}
	}
	return nil
}

// CompileStatus tells how an artifact was obtained
type CompileStatus string

const (
	// StatusCreated means no descriptor existed and the module was compiled
	StatusCreated CompileStatus = "created"
	// StatusUpdated means the descriptor was invalid and the module was recompiled
	StatusUpdated CompileStatus = "updated"
	// StatusCached means the stored artifact was still valid
	StatusCached CompileStatus = "cached"
)

// Phase names used in compile timings
const (
	PhaseLock      = "lock"
	PhaseCacheRead = "cache-read"
	PhaseValidate  = "cache-validate"
	PhaseTransform = "transform"
	PhaseWrite     = "cache-write"
)

// Timing records how long each compile phase took, in execution order
type Timing struct {
	phases []string
	values map[string]time.Duration
}

// Record stores the duration of a phase
func (t *Timing) Record(phase string, d time.Duration) {
	if t.values == nil {
		t.values = make(map[string]time.Duration)
	}
	if _, ok := t.values[phase]; !ok {
		t.phases = append(t.phases, phase)
	}
	t.values[phase] += d
}

// Track starts a phase and returns a func that records it when called
func (t *Timing) Track(phase string) func() {
	start := time.Now()
	return func() {
		t.Record(phase, time.Since(start))
	}
}

// Phases returns the recorded phases in order
func (t *Timing) Phases() []string {
	return append([]string(nil), t.phases...)
}

// Get returns the duration of a phase
func (t *Timing) Get(phase string) (time.Duration, bool) {
	d, ok := t.values[phase]
	return d, ok
}

// Total sums every phase
func (t *Timing) Total() time.Duration {
	var total time.Duration
	for _, d := range t.values {
		total += d
	}
	return total
}
