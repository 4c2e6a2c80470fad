package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/cache"
	"github.com/platinummonkey/canopy/pkg/codegen/orchestrator"
	"github.com/platinummonkey/canopy/pkg/httputil"
	"github.com/platinummonkey/canopy/pkg/observability"
	"github.com/platinummonkey/canopy/pkg/variant"
)

// Response headers of compiled modules
const (
	HeaderCompileStatus = "X-Canopy-Compile"
	HeaderServerTiming  = "Server-Timing"
)

// compileModule handles GET {outDirPrefix}{variant}/{module...}
func (s *Server) compileModule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gm, err := s.opts.Groups.Get(ctx)
	if err != nil {
		observability.FromContext(ctx, s.logger).WithError(err).Error("Failed to compute group map")
		httputil.WriteCompileError(w, err)
		return
	}
	resolver, err := variant.NewResolver(s.opts.OutDirPrefix, gm)
	if err != nil {
		httputil.WriteCompileError(w, err)
		return
	}

	match, ok, err := resolver.Resolve(r.URL.Path)
	if !ok {
		httputil.WriteNotFoundError(w, "not a compiled module")
		return
	}
	if err != nil {
		httputil.WriteCompileError(w, err)
		return
	}

	ctx = observability.WithModule(ctx, match.VariantID, match.ModulePath)
	logger := observability.FromContext(ctx, s.logger)

	outcome, err := s.opts.Compiler.Compile(ctx, &orchestrator.CompileRequest{
		SourcePath:   match.OriginalPath(s.opts.ProjectRoot),
		ModulePath:   match.ModulePath,
		CompiledPath: match.CompiledPath(s.opts.OutDir),
		VariantID:    match.VariantID,
		Capabilities: match.Group.RequiredCapabilities,
		Conditions: cache.Conditions{
			IfNoneMatch:     httputil.IfNoneMatch(r),
			IfModifiedSince: httputil.IfModifiedSince(r),
		},
	})
	if err != nil {
		if codegen.ErrorCode(err) == codegen.CodeInternal {
			logger.WithError(err).Error("Compile failed")
		} else {
			logger.WithError(err).Warn("Compile failed")
		}
		httputil.WriteCompileError(w, err)
		return
	}

	h := w.Header()
	h.Set(HeaderCompileStatus, string(outcome.Status))
	if timing := serverTiming(outcome.Timing); timing != "" {
		h.Set(HeaderServerTiming, timing)
	}
	if outcome.ETag != "" {
		h.Set("ETag", outcome.ETag)
	}
	if !outcome.LastModified.IsZero() {
		h.Set("Last-Modified", outcome.LastModified.UTC().Format(http.TimeFormat))
	}
	h.Set("Cache-Control", "no-cache")

	if outcome.NotModified {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	h.Set("Content-Type", outcome.Artifact.ContentType)
	h.Set("Content-Length", strconv.Itoa(len(outcome.Artifact.Compiled)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(outcome.Artifact.Compiled); err != nil {
		logger.WithError(err).Debug("Failed to write compiled module")
	}
}

// serverTiming renders phases as "lock;dur=0.12, transform;dur=8.30"
func serverTiming(t *codegen.Timing) string {
	if t == nil {
		return ""
	}
	phases := t.Phases()
	parts := make([]string, 0, len(phases))
	for _, phase := range phases {
		d, _ := t.Get(phase)
		parts = append(parts, fmt.Sprintf("%s;dur=%.2f", phase, float64(d.Microseconds())/1000))
	}
	return strings.Join(parts, ", ")
}
