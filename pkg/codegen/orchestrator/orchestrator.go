package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/canopy/pkg/async"
	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/lock"
	"github.com/platinummonkey/canopy/pkg/observability"
)

var tracer = otel.Tracer("canopy/orchestrator")

// Options wires an Orchestrator
type Options struct {
	Config      *Config
	Store       *cache.Store
	Locker      *lock.Locker
	Transformer codegen.Transformer
	Logger      *observability.Logger
	// Metrics is optional
	Metrics *observability.Metrics
	// Mirror is optional; it receives every created or updated artifact
	Mirror Publisher
}

// Orchestrator serialises compiles per artifact and decides between serving
// the stored artifact and running the transformer
type Orchestrator struct {
	config      *Config
	store       *cache.Store
	locker      *lock.Locker
	transformer codegen.Transformer
	logger      *observability.Logger
	metrics     *observability.Metrics
	mirror      Publisher
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Transformer == nil {
		return nil, fmt.Errorf("%w: transformer is required", codegen.ErrInvalidArgument)
	}
	o := &Orchestrator{
		config:      opts.Config,
		store:       opts.Store,
		locker:      opts.Locker,
		transformer: opts.Transformer,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		mirror:      opts.Mirror,
	}
	if o.config == nil {
		o.config = DefaultConfig()
	}
	if o.logger == nil {
		o.logger = observability.NewLogger(observability.InfoLevel, os.Stdout)
	}
	if o.store == nil {
		o.store = cache.NewStore(cache.Options{Logger: o.logger})
	}
	if o.locker == nil {
		o.locker = lock.NewLocker(nil, lock.DefaultRetryPolicy())
	}
	return o, nil
}

// Compile returns the artifact for one module and variant, compiling it when
// the stored copy is missing or stale. Concurrent calls for the same
// CompiledPath run one at a time, so the transformer runs at most once per
// burst of identical requests.
func (o *Orchestrator) Compile(ctx context.Context, req *CompileRequest) (*CompileOutcome, error) {
	if err := validateRequest(req); err != nil {
		o.recordError(req, err)
		return nil, err
	}

	if o.config.CompileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.CompileTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "Compile",
		trace.WithAttributes(
			attribute.String("canopy.variant", req.VariantID),
			attribute.String("canopy.module", req.ModulePath),
		),
	)
	defer span.End()

	outcome, err := o.compile(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codegen.ErrorCode(err))
		o.recordError(req, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("canopy.status", string(outcome.Status)))
	span.SetStatus(codes.Ok, "")
	o.recordOutcome(req, outcome)
	return outcome, nil
}

func (o *Orchestrator) compile(ctx context.Context, req *CompileRequest) (*CompileOutcome, error) {
	logger := observability.FromContext(observability.WithModule(ctx, req.VariantID, req.ModulePath), o.logger)
	timing := &codegen.Timing{}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := timing.Track(codegen.PhaseLock)
	handle, err := o.locker.Lock(ctx, req.CompiledPath)
	done()
	if o.metrics != nil {
		d, _ := timing.Get(codegen.PhaseLock)
		o.metrics.LockWaitDuration.Observe(d.Seconds())
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := handle.Release(); err != nil {
			logger.WithError(err).Warn("Failed to release artifact lock")
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	status := codegen.StatusCreated
	var invalidReason string
	if o.config.UseFilesystemAsCache {
		done := timing.Track(codegen.PhaseCacheRead)
		desc, err := o.store.ReadDescriptor(ctx, req.CompiledPath)
		done()
		if err != nil {
			return nil, err
		}

		if desc != nil {
			done := timing.Track(codegen.PhaseValidate)
			v, err := o.store.Validate(ctx, desc, req.CompiledPath, req.Conditions)
			done()
			if err != nil {
				return nil, err
			}
			if v.Valid {
				return o.serveCached(ctx, req, desc, v, timing, logger)
			}
			status = codegen.StatusUpdated
			invalidReason = v.Reason
			if o.metrics != nil {
				o.metrics.CacheInvalidationsTotal.WithLabelValues(v.Reason).Inc()
			}
			logger.WithFields(map[string]interface{}{
				"reason": v.Reason,
				"path":   v.Path,
			}).Debug("Stored artifact is stale")
		}
	}

	artifact, err := o.transform(ctx, req, timing)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcome := &CompileOutcome{
		Status:        status,
		Artifact:      artifact,
		Timing:        timing,
		ETag:          cache.ETag(artifact.Compiled),
		LastModified:  time.Now(),
		InvalidReason: invalidReason,
	}

	if o.config.WriteOnFilesystem {
		done := timing.Track(codegen.PhaseWrite)
		desc, err := o.store.Write(ctx, req.CompiledPath, artifact, cache.WriteOptions{
			IsNew:       status == codegen.StatusCreated,
			IsUpdate:    status == codegen.StatusUpdated,
			HitTracking: o.config.HitTracking,
		})
		done()
		if err != nil {
			return nil, err
		}
		outcome.Descriptor = desc
		if o.metrics != nil {
			if dropped := len(artifact.Sources) - len(desc.Sources); dropped > 0 {
				o.metrics.DroppedSourcesTotal.Add(float64(dropped))
			}
		}
		if info, err := os.Stat(req.CompiledPath); err == nil {
			outcome.LastModified = info.ModTime()
		}
	}

	o.publish(ctx, req, artifact)
	return outcome, nil
}

func (o *Orchestrator) serveCached(ctx context.Context, req *CompileRequest, desc *cache.Descriptor, v *cache.Validation, timing *codegen.Timing, logger *observability.Logger) (*CompileOutcome, error) {
	outcome := &CompileOutcome{
		Status:       codegen.StatusCached,
		Artifact:     v.Artifact,
		Descriptor:   desc,
		Timing:       timing,
		ETag:         v.ETag,
		LastModified: v.ModTime,
		NotModified:  v.NotModified,
	}
	if !o.config.HitTracking || !o.config.WriteOnFilesystem {
		return outcome, nil
	}

	done := timing.Track(codegen.PhaseWrite)
	tracked, err := o.store.Write(ctx, req.CompiledPath, v.Artifact, cache.WriteOptions{
		IsCacheHit:  true,
		HitTracking: true,
	})
	done()
	if err != nil {
		// The artifact itself is fine; only the statistics are lost
		logger.WithError(err).Warn("Failed to record cache hit")
		return outcome, nil
	}
	if tracked != nil {
		outcome.Descriptor = tracked
	}
	return outcome, nil
}

func (o *Orchestrator) transform(ctx context.Context, req *CompileRequest, timing *codegen.Timing) (*codegen.Artifact, error) {
	source, err := o.readSource(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "Transform")
	defer span.End()

	if o.metrics != nil {
		o.metrics.TransformsInFlight.Inc()
		defer o.metrics.TransformsInFlight.Dec()
	}

	done := timing.Track(codegen.PhaseTransform)
	artifact, err := o.transformer.Transform(ctx, &codegen.TransformInput{
		SourcePath:   req.SourcePath,
		Source:       source,
		CompiledPath: req.CompiledPath,
		VariantID:    req.VariantID,
		Capabilities: req.Capabilities,
	})
	done()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transform failed")
		var terr *codegen.TransformError
		if errors.As(err, &terr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", codegen.ErrTransformFailure, err)
	}
	if err := artifact.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "contract violation")
		return nil, err
	}
	return artifact, nil
}

func (o *Orchestrator) readSource(ctx context.Context, req *CompileRequest) ([]byte, error) {
	source, err := os.ReadFile(req.SourcePath)
	if err == nil {
		return source, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	if req.FallbackSource == nil {
		return nil, fmt.Errorf("%w: %s", codegen.ErrSourceNotFound, req.SourcePath)
	}
	return req.FallbackSource(ctx)
}

// publish mirrors the artifact in the background; a slow or failing mirror
// never delays the response
func (o *Orchestrator) publish(ctx context.Context, req *CompileRequest, artifact *codegen.Artifact) {
	if o.mirror == nil {
		return
	}
	timeout := o.config.PublishTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	async.SafeGo(context.WithoutCancel(ctx), o.logger, timeout, "artifact mirror", func(ctx context.Context) error {
		return o.mirror.Publish(ctx, req.VariantID, req.ModulePath, artifact)
	})
}

func (o *Orchestrator) recordOutcome(req *CompileRequest, outcome *CompileOutcome) {
	if o.metrics == nil {
		return
	}
	o.metrics.CompileTotal.WithLabelValues(req.VariantID, string(outcome.Status)).Inc()
	for _, phase := range outcome.Timing.Phases() {
		d, _ := outcome.Timing.Get(phase)
		o.metrics.CompilePhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
	}
}

func (o *Orchestrator) recordError(req *CompileRequest, err error) {
	if o.metrics == nil {
		return
	}
	variant := ""
	if req != nil {
		variant = req.VariantID
	}
	o.metrics.CompileTotal.WithLabelValues(variant, "error").Inc()
	o.metrics.CompileErrorsTotal.WithLabelValues(codegen.ErrorCode(err)).Inc()
}

func validateRequest(req *CompileRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request is required", codegen.ErrInvalidArgument)
	}
	if req.SourcePath == "" {
		return fmt.Errorf("%w: source path is required", codegen.ErrInvalidArgument)
	}
	if req.CompiledPath == "" {
		return fmt.Errorf("%w: compiled path is required", codegen.ErrInvalidArgument)
	}
	if req.VariantID == "" {
		return fmt.Errorf("%w: variant id is required", codegen.ErrInvalidArgument)
	}
	return nil
}
