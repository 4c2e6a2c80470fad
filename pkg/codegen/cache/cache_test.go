package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/observability"
)

type fixture struct {
	store    *Store
	root     string
	source   string
	artifact string
	now      time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		source:   filepath.Join(root, "src", "app.js"),
		artifact: filepath.Join(root, ".canopy", "out", "best", "src", "app.js"),
		now:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.DebugLevel, io.Discard)
	}
	opts.Now = func() time.Time { return f.now }
	f.store = NewStore(opts)
	writeTestFile(t, f.source, "const a = () => 1")
	return f
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (f *fixture) artifactResult(t *testing.T) *codegen.Artifact {
	t.Helper()
	src, err := os.ReadFile(f.source)
	require.NoError(t, err)
	return &codegen.Artifact{
		ContentType:    "application/javascript",
		Compiled:       []byte("var a = function () { return 1 }"),
		Sources:        []string{f.source},
		SourcesContent: [][]byte{src},
		Assets:         []string{filepath.Join(AssetDir(f.artifact), "app.js.map")},
		AssetsContent:  [][]byte{[]byte(`{"version":3}`)},
	}
}

func TestETag(t *testing.T) {
	assert.Equal(t, `"0-2jmj7l5rSw0yVb/vlWAYkK/YBwk"`, ETag(nil))
	assert.Equal(t, `"5-qvTGHdzF6KLavt4PO0gs2a6pQ00"`, ETag([]byte("hello")))
	assert.NotEqual(t, ETag([]byte("a")), ETag([]byte("b")))
}

func TestDescriptorPath(t *testing.T) {
	assert.Equal(t, filepath.Join("/out/best/app.js__asset__", "meta.json"), DescriptorPath("/out/best/app.js"))
}

func TestStore_ReadDescriptor(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t, Options{})
		d, err := f.store.ReadDescriptor(ctx, f.artifact)
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("malformed", func(t *testing.T) {
		f := newFixture(t, Options{})
		writeTestFile(t, DescriptorPath(f.artifact), "{not json")
		d, err := f.store.ReadDescriptor(ctx, f.artifact)
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("mismatched etags", func(t *testing.T) {
		f := newFixture(t, Options{})
		writeTestFile(t, DescriptorPath(f.artifact), `{"contentType":"text/plain","sources":["a"],"sourcesEtag":[]}`)
		d, err := f.store.ReadDescriptor(ctx, f.artifact)
		require.NoError(t, err)
		assert.Nil(t, d)
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t, Options{})
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := f.store.ReadDescriptor(cctx, f.artifact)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStore_WriteThenValidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	d, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, "application/javascript", d.ContentType)
	assert.Equal(t, []string{"../../../../../src/app.js"}, d.Sources)
	assert.Equal(t, []string{ETag([]byte("const a = () => 1"))}, d.SourcesETag)
	assert.Equal(t, []string{"app.js.map"}, d.Assets)
	assert.Equal(t, f.now.UnixMilli(), d.CreatedMs)
	assert.Nil(t, d.MatchCount)

	read, err := f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)
	assert.Equal(t, d, read)

	v, err := f.store.Validate(ctx, read, f.artifact, Conditions{})
	require.NoError(t, err)
	require.True(t, v.Valid, v.Reason)
	assert.False(t, v.NotModified)
	assert.Equal(t, ETag([]byte("var a = function () { return 1 }")), v.ETag)
	assert.Equal(t, []byte("var a = function () { return 1 }"), v.Artifact.Compiled)
	assert.Equal(t, []string{f.source}, v.Artifact.Sources)
	assert.Equal(t, [][]byte{[]byte("const a = () => 1")}, v.Artifact.SourcesContent)
	assert.Equal(t, [][]byte{[]byte(`{"version":3}`)}, v.Artifact.AssetsContent)
}

func TestStore_Validate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		mutate     func(t *testing.T, f *fixture, d *Descriptor)
		cond       func(v *Validation) Conditions
		wantReason string
	}{
		{
			name: "source changed",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				writeTestFile(t, f.source, "const a = () => 2")
			},
			wantReason: ReasonSourceETagMismatch,
		},
		{
			name: "source removed",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				require.NoError(t, os.Remove(f.source))
			},
			wantReason: ReasonSourceNotFound,
		},
		{
			name: "no sources",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				d.Sources = nil
				d.SourcesETag = nil
			},
			wantReason: ReasonSourcesEmpty,
		},
		{
			name: "artifact removed",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				require.NoError(t, os.Remove(f.artifact))
			},
			wantReason: ReasonArtifactNotFound,
		},
		{
			name: "asset changed",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				writeTestFile(t, filepath.Join(AssetDir(f.artifact), "app.js.map"), "{}")
			},
			wantReason: ReasonAssetETagMismatch,
		},
		{
			name: "asset removed",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				require.NoError(t, os.Remove(filepath.Join(AssetDir(f.artifact), "app.js.map")))
			},
			wantReason: ReasonAssetFileNotFound,
		},
		{
			name: "artifact checked before sources",
			mutate: func(t *testing.T, f *fixture, d *Descriptor) {
				require.NoError(t, os.Remove(f.source))
				require.NoError(t, os.Remove(f.artifact))
			},
			wantReason: ReasonArtifactNotFound,
		},
		{
			name: "stale etag",
			cond: func(*Validation) Conditions {
				return Conditions{IfNoneMatch: `"1-abc"`}
			},
			wantReason: ReasonArtifactETagMismatch,
		},
		{
			name: "modified since",
			cond: func(v *Validation) Conditions {
				return Conditions{IfModifiedSince: v.ModTime.Add(-time.Hour)}
			},
			wantReason: ReasonArtifactMtimeOutdated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{})
			d, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
			require.NoError(t, err)

			cond := Conditions{}
			if tt.cond != nil {
				fresh, err := f.store.Validate(ctx, d, f.artifact, Conditions{})
				require.NoError(t, err)
				require.True(t, fresh.Valid)
				cond = tt.cond(fresh)
			}
			if tt.mutate != nil {
				tt.mutate(t, f, d)
			}

			v, err := f.store.Validate(ctx, d, f.artifact, cond)
			require.NoError(t, err)
			assert.False(t, v.Valid)
			assert.Equal(t, tt.wantReason, v.Reason)
			assert.Nil(t, v.Artifact)
		})
	}
}

func TestStore_Validate_SourcesEmptyWithUntouchedArtifact(t *testing.T) {
	f := newFixture(t, Options{})
	writeTestFile(t, f.artifact, "compiled")

	v, err := f.store.Validate(context.Background(), &Descriptor{ContentType: "text/plain"}, f.artifact, Conditions{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonSourcesEmpty, v.Reason)
}

func TestStore_Validate_Conditions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	d, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
	require.NoError(t, err)

	fresh, err := f.store.Validate(ctx, d, f.artifact, Conditions{})
	require.NoError(t, err)
	require.True(t, fresh.Valid)

	for name, cond := range map[string]Conditions{
		"etag":          {IfNoneMatch: fresh.ETag},
		"weak etag":     {IfNoneMatch: `"x", W/` + fresh.ETag},
		"wildcard":      {IfNoneMatch: "*"},
		"not modified":  {IfModifiedSince: fresh.ModTime.Add(time.Second)},
		"same second":   {IfModifiedSince: fresh.ModTime.Truncate(time.Second)},
		"etag and date": {IfNoneMatch: fresh.ETag, IfModifiedSince: fresh.ModTime.Add(time.Minute)},
	} {
		t.Run(name, func(t *testing.T) {
			v, err := f.store.Validate(ctx, d, f.artifact, cond)
			require.NoError(t, err)
			assert.True(t, v.Valid, v.Reason)
			assert.True(t, v.NotModified)
		})
	}
}

func TestStore_Validate_RequiresDescriptor(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Validate(context.Background(), nil, f.artifact, Conditions{})
	assert.ErrorIs(t, err, codegen.ErrInvalidArgument)
}

func TestStore_Write_DropsMissingSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	virtual := filepath.Join(f.root, "virtual", "polyfills.js")

	result := f.artifactResult(t)
	result.Sources = append(result.Sources, virtual)
	result.SourcesContent = append(result.SourcesContent, []byte("synthetic"))

	d, err := f.store.Write(ctx, f.artifact, result, WriteOptions{IsNew: true})
	require.NoError(t, err)
	assert.Len(t, d.Sources, 1)
	assert.Len(t, d.SourcesETag, 1)

	// the dropped path appearing later must not invalidate the cache
	writeTestFile(t, virtual, "now it exists")
	v, err := f.store.Validate(ctx, d, f.artifact, Conditions{})
	require.NoError(t, err)
	assert.True(t, v.Valid, v.Reason)
}

func TestStore_Write_RejectsContractViolation(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Write(context.Background(), f.artifact, &codegen.Artifact{}, WriteOptions{IsNew: true})
	assert.ErrorIs(t, err, codegen.ErrTransformContractViolation)

	_, statErr := os.Stat(f.artifact)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_Write_UpdateKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	created := f.now

	_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	writeTestFile(t, f.source, "const a = () => 2")
	d, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsUpdate: true})
	require.NoError(t, err)

	assert.Equal(t, created.UnixMilli(), d.CreatedMs)
	assert.Equal(t, f.now.UnixMilli(), d.LastModifiedMs)
	assert.True(t, d.LastModifiedAt().After(d.CreatedAt()))
	assert.Equal(t, []string{ETag([]byte("const a = () => 2"))}, d.SourcesETag)
}

func TestStore_Write_HitTracking(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
		require.NoError(t, err)

		d, err := f.store.Write(ctx, f.artifact, nil, WriteOptions{IsCacheHit: true})
		require.NoError(t, err)
		assert.Nil(t, d)

		read, err := f.store.ReadDescriptor(ctx, f.artifact)
		require.NoError(t, err)
		assert.Nil(t, read.MatchCount)
		assert.Nil(t, read.LastMatchMs)
	})

	t.Run("enabled", func(t *testing.T) {
		f := newFixture(t, Options{})
		_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true, HitTracking: true})
		require.NoError(t, err)

		f.now = f.now.Add(time.Minute)
		d, err := f.store.Write(ctx, f.artifact, nil, WriteOptions{IsCacheHit: true, HitTracking: true})
		require.NoError(t, err)
		require.NotNil(t, d.MatchCount)
		assert.Equal(t, int64(2), *d.MatchCount)
		assert.Equal(t, f.now.UnixMilli(), *d.LastMatchMs)

		read, err := f.store.ReadDescriptor(ctx, f.artifact)
		require.NoError(t, err)
		assert.Equal(t, int64(2), *read.MatchCount)
	})
}

func TestStore_MemoryLayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MemoryEntries: 8, MemoryTTL: time.Minute})

	_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
	require.NoError(t, err)

	first, err := f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)
	first.Sources[0] = "mutated"

	second, err := f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)
	assert.Equal(t, "../../../../../src/app.js", second.Sources[0])

	stats := f.store.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.ItemCount)
	assert.Equal(t, 1.0, stats.HitRate)

	require.NoError(t, f.store.Close())
	assert.Equal(t, int64(0), f.store.Stats().ItemCount)
}

func TestStore_MemoryLayer_DescriptorRewrittenElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MemoryEntries: 8, MemoryTTL: time.Minute})
	other := NewStore(Options{Logger: observability.NewLogger(observability.DebugLevel, io.Discard)})

	_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
	require.NoError(t, err)
	cached, err := f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)

	writeTestFile(t, f.source, "const a = () => 2")
	_, err = other.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsUpdate: true})
	require.NoError(t, err)

	d, err := f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)
	assert.NotEqual(t, cached.SourcesETag, d.SourcesETag)
	assert.Equal(t, []string{ETag([]byte("const a = () => 2"))}, d.SourcesETag)

	writeTestFile(t, f.source, "const a = () => 1")
	v, err := f.store.Validate(ctx, d, f.artifact, Conditions{})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, ReasonSourceETagMismatch, v.Reason)

	// removed by another process
	require.NoError(t, other.Remove(f.artifact))
	d, err = f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestStore_Write_UpdateKeepsHitHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})

	_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true, HitTracking: true})
	require.NoError(t, err)
	hitAt := f.now

	f.now = f.now.Add(time.Hour)
	writeTestFile(t, f.source, "const a = () => 2")
	d, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsUpdate: true})
	require.NoError(t, err)

	require.NotNil(t, d.MatchCount)
	require.NotNil(t, d.LastMatchMs)
	assert.Equal(t, int64(1), *d.MatchCount)
	assert.Equal(t, hitAt.UnixMilli(), *d.LastMatchMs)
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{MemoryEntries: 8})

	_, err := f.store.Write(ctx, f.artifact, f.artifactResult(t), WriteOptions{IsNew: true})
	require.NoError(t, err)
	require.NoError(t, f.store.Remove(f.artifact))

	_, err = os.Stat(f.artifact)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(AssetDir(f.artifact))
	assert.True(t, os.IsNotExist(err))

	d, err := f.store.ReadDescriptor(ctx, f.artifact)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, f.store.Remove(f.artifact))
}
