package orchestrator

import (
	"context"
	"time"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
)

// CompileRequest asks for one module compiled for one variant
type CompileRequest struct {
	// SourcePath is the absolute path of the original module
	SourcePath string
	// ModulePath is the module path relative to the project root, slash separated
	ModulePath string
	// CompiledPath is where the artifact lives in the output directory
	CompiledPath string

	VariantID    string
	Capabilities []string

	// Conditions carries the client's conditional headers
	Conditions cache.Conditions

	// FallbackSource supplies the source when SourcePath does not exist,
	// e.g. a synthesised default module
	FallbackSource func(ctx context.Context) ([]byte, error)
}

// CompileOutcome is what a compile produced
type CompileOutcome struct {
	Status     codegen.CompileStatus
	Artifact   *codegen.Artifact
	Descriptor *cache.Descriptor
	Timing     *codegen.Timing

	ETag         string
	LastModified time.Time
	// NotModified is true when the client's conditions matched a valid cache
	NotModified bool

	// InvalidReason tells why a stored artifact was recompiled
	InvalidReason string
}

// Publisher receives freshly compiled artifacts, e.g. an S3 mirror
type Publisher interface {
	Publish(ctx context.Context, variantID, modulePath string, a *codegen.Artifact) error
}

// Config holds orchestrator configuration
type Config struct {
	// UseFilesystemAsCache reads and validates descriptors before compiling
	UseFilesystemAsCache bool
	// WriteOnFilesystem persists artifacts and descriptors
	WriteOnFilesystem bool
	// HitTracking records matchCount and lastMatchMs on every cache hit
	HitTracking bool

	// CompileTimeout bounds a whole compile including lock waits; zero disables it
	CompileTimeout time.Duration
	// PublishTimeout bounds a background publish
	PublishTimeout time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		UseFilesystemAsCache: true,
		WriteOnFilesystem:    true,
		CompileTimeout:       2 * time.Minute,
		PublishTimeout:       30 * time.Second,
	}
}
