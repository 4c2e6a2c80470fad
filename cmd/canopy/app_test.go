package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/canopy/pkg/api"
	"github.com/platinummonkey/canopy/pkg/config"
	"github.com/platinummonkey/canopy/pkg/groups"
	"github.com/platinummonkey/canopy/pkg/observability"
)

const groupsYAML = `
index:
  arrow-functions:
    chrome: "45"
    firefox: "22"
runtimes: [chrome, firefox]
groupCount: %d
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "app.js"), []byte("const a = 1"), 0o644))

	groupsFile := filepath.Join(root, "canopy.yaml")
	writeGroups(t, groupsFile, 2)

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: "0"},
		Compile: config.CompileConfig{
			ProjectRoot:          root,
			OutDir:               filepath.Join(root, ".canopy", "out"),
			OutDirPrefix:         "/.canopy/out/",
			UseFilesystemAsCache: true,
			WriteOnFilesystem:    true,
			Timeout:              time.Minute,
			Transformer:          config.TransformerPassthrough,
		},
		Lock: config.LockConfig{
			Backend:    config.LockFile,
			TTL:        30 * time.Second,
			StaleAfter: 10 * time.Second,
			Retries:    5,
			MinTimeout: 5 * time.Millisecond,
			MaxTimeout: 50 * time.Millisecond,
			Factor:     2,
		},
		Cleanup: config.CleanupConfig{Enabled: true, Schedule: "@hourly", MaxAge: time.Hour},
		Observability: config.ObservabilityConfig{
			MetricsEnabled:     true,
			OTelServiceVersion: "test",
		},
	}
	require.NoError(t, cfg.Groups.LoadFile(groupsFile))
	return cfg
}

func writeGroups(t *testing.T, path string, count int) {
	t.Helper()
	data := []byte(fmt.Sprintf(groupsYAML, count))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := newApp(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })
	return a
}

func TestNewApp_ServesCompiledModules(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	require.NotNil(t, a.sweeper)
	assert.FileExists(t, filepath.Join(cfg.Compile.OutDir, groupsFile))

	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.canopy/out/best/src/app.js", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "created", rec.Header().Get(api.HeaderCompileStatus))
	assert.Equal(t, "const a = 1", rec.Body.String())

	rec = httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "canopy_variants_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestApp_ReloadGroups(t *testing.T) {
	cfg := testConfig(t)
	a := newTestApp(t, cfg)

	before, err := a.groupMap.Get(context.Background())
	require.NoError(t, err)
	assert.Contains(t, before, groups.BestID)

	writeGroups(t, cfg.Groups.File, 1)
	require.NoError(t, a.reloadGroups(context.Background()))

	after, err := a.groupMap.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, groups.GroupMap{groups.OtherwiseID: after[groups.OtherwiseID]}, after)

	data, err := os.ReadFile(filepath.Join(cfg.Compile.OutDir, groupsFile))
	require.NoError(t, err)
	var written groups.GroupMap
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Len(t, written, 1)

	t.Run("broken file keeps the current map", func(t *testing.T) {
		require.NoError(t, os.WriteFile(cfg.Groups.File, []byte("groupCount: 0\n"), 0o644))
		assert.Error(t, a.reloadGroups(context.Background()))

		current, err := a.groupMap.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, after, current)
	})
}

func TestNewApp_RedisLock(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Lock.Backend = config.LockRedis
	cfg.Lock.RedisURL = "redis://" + mr.Addr()
	a := newTestApp(t, cfg)

	status := a.health.Check(context.Background())
	assert.Equal(t, observability.StatusHealthy, status.Status)
	assert.Contains(t, status.Dependencies, "redis")

	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.canopy/out/best/src/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewApp_Errors(t *testing.T) {
	t.Run("unreachable redis", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Lock.Backend = config.LockRedis
		cfg.Lock.RedisURL = "redis://127.0.0.1:1"
		_, err := newApp(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, io.Discard))
		assert.Error(t, err)
	})

	t.Run("command transformer without path", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Compile.Transformer = config.TransformerCommand
		_, err := newApp(context.Background(), cfg, observability.NewLogger(observability.ErrorLevel, io.Discard))
		assert.Error(t, err)
	})
}

func TestWritable(t *testing.T) {
	assert.NoError(t, writable(t.TempDir()))
	assert.Error(t, writable(filepath.Join(t.TempDir(), "missing")))
}
