package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/codegen/orchestrator"
	"github.com/platinummonkey/canopy/pkg/httputil"
)

type compilerFunc func(ctx context.Context, req *orchestrator.CompileRequest) (*orchestrator.CompileOutcome, error)

func (f compilerFunc) Compile(ctx context.Context, req *orchestrator.CompileRequest) (*orchestrator.CompileOutcome, error) {
	return f(ctx, req)
}

func TestCompileModule_Lifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	path := "/.canopy/out/best/src/app.js"

	rec := ts.get(t, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "const a = 1", rec.Body.String())
	assert.Equal(t, "application/javascript", rec.Header().Get("Content-Type"))
	assert.Equal(t, string(codegen.StatusCreated), rec.Header().Get(HeaderCompileStatus))
	assert.Contains(t, rec.Header().Get(HeaderServerTiming), "transform;dur=")
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	lastModified := rec.Header().Get("Last-Modified")
	require.NotEmpty(t, lastModified)

	assert.FileExists(t, filepath.Join(ts.outDir, "best", "src", "app.js"))

	rec = ts.get(t, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(codegen.StatusCached), rec.Header().Get(HeaderCompileStatus))
	assert.Equal(t, etag, rec.Header().Get("ETag"))

	t.Run("matching etag", func(t *testing.T) {
		rec := ts.get(t, path, http.Header{"If-None-Match": {etag}})
		assert.Equal(t, http.StatusNotModified, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, etag, rec.Header().Get("ETag"))
	})

	t.Run("matching last modified", func(t *testing.T) {
		rec := ts.get(t, path, http.Header{"If-Modified-Since": {lastModified}})
		assert.Equal(t, http.StatusNotModified, rec.Code)
	})

	t.Run("source change recompiles", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(ts.root, "src", "app.js"), []byte("const a = 2"), 0o644))

		rec := ts.get(t, path, http.Header{"If-None-Match": {etag}})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, string(codegen.StatusUpdated), rec.Header().Get(HeaderCompileStatus))
		assert.Equal(t, "const a = 2", rec.Body.String())
		assert.NotEqual(t, etag, rec.Header().Get("ETag"))
	})
}

func TestCompileModule_VariantCapabilities(t *testing.T) {
	var got *orchestrator.CompileRequest
	ts := newTestServer(t, compilerFunc(func(ctx context.Context, req *orchestrator.CompileRequest) (*orchestrator.CompileOutcome, error) {
		got = req
		return &orchestrator.CompileOutcome{
			Status:   codegen.StatusCreated,
			Artifact: &codegen.Artifact{ContentType: "application/javascript", Compiled: []byte("x")},
		}, nil
	}))

	rec := ts.get(t, "/.canopy/out/otherwise/src/app.js", http.Header{"If-None-Match": {`"abc"`}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)

	assert.Equal(t, "otherwise", got.VariantID)
	assert.Equal(t, "src/app.js", got.ModulePath)
	assert.Equal(t, []string{"arrow-functions"}, got.Capabilities)
	assert.Equal(t, filepath.Join(ts.root, "src", "app.js"), got.SourcePath)
	assert.Equal(t, filepath.Join(ts.outDir, "otherwise", "src", "app.js"), got.CompiledPath)
	assert.Equal(t, `"abc"`, got.Conditions.IfNoneMatch)
	assert.Empty(t, rec.Header().Get("Last-Modified"))
}

func TestCompileModule_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		err    error
		status int
		code   string
	}{
		{
			name:   "unknown variant",
			path:   "/.canopy/out/legacy/src/app.js",
			status: http.StatusNotFound,
			code:   codegen.CodeVariantUnknown,
		},
		{
			name:   "missing module path",
			path:   "/.canopy/out/best/",
			status: http.StatusBadRequest,
			code:   codegen.CodeInvalidArgument,
		},
		{
			name:   "missing source",
			path:   "/.canopy/out/best/src/missing.js",
			err:    fmt.Errorf("%w: src/missing.js", codegen.ErrSourceNotFound),
			status: http.StatusNotFound,
			code:   codegen.CodeSourceNotFound,
		},
		{
			name:   "lock timeout",
			path:   "/.canopy/out/best/src/app.js",
			err:    codegen.ErrLockTimeout,
			status: http.StatusServiceUnavailable,
			code:   codegen.CodeLockTimeout,
		},
		{
			name:   "contract violation",
			path:   "/.canopy/out/best/src/app.js",
			err:    fmt.Errorf("%w: contentType is required", codegen.ErrTransformContractViolation),
			status: http.StatusInternalServerError,
			code:   codegen.CodeTransformContractViolation,
		},
		{
			name:   "deadline",
			path:   "/.canopy/out/best/src/app.js",
			err:    context.DeadlineExceeded,
			status: http.StatusGatewayTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, compilerFunc(func(context.Context, *orchestrator.CompileRequest) (*orchestrator.CompileOutcome, error) {
				return nil, tt.err
			}))

			rec := ts.get(t, tt.path, nil)
			assert.Equal(t, tt.status, rec.Code)

			var body httputil.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			if tt.code != "" {
				assert.Equal(t, tt.code, body.Details["code"])
			}
		})
	}
}

func TestCompileModule_TransformErrorLocation(t *testing.T) {
	ts := newTestServer(t, compilerFunc(func(context.Context, *orchestrator.CompileRequest) (*orchestrator.CompileOutcome, error) {
		return nil, &codegen.TransformError{Message: "unexpected token", File: "src/app.js", Line: 3, Column: 7}
	}))

	rec := ts.get(t, "/.canopy/out/best/src/app.js", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, codegen.CodeTransformFailure, body.Details["code"])
	assert.Equal(t, "src/app.js", body.Details["file"])
	assert.Equal(t, "3", body.Details["line"])
	assert.Equal(t, "7", body.Details["column"])
	assert.Contains(t, body.Error, "unexpected token")
}

func TestCompileModule_Head(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodHead, "/.canopy/out/best/src/app.js", nil)
	rec := httptest.NewRecorder()
	ts.server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "11", rec.Header().Get("Content-Length"))
	assert.Zero(t, rec.Body.Len())
}

func TestServerTiming(t *testing.T) {
	assert.Empty(t, serverTiming(nil))

	timing := &codegen.Timing{}
	timing.Record(codegen.PhaseLock, 250*time.Microsecond)
	timing.Record(codegen.PhaseTransform, 12*time.Millisecond)

	assert.Equal(t, "lock;dur=0.25, transform;dur=12.00", serverTiming(timing))
}
