package variant

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/groups"
)

func testGroups() groups.GroupMap {
	return groups.GroupMap{
		groups.BestID:      groups.NewGroup(nil, map[string]string{"chrome": "91"}),
		groups.OtherwiseID: groups.FallbackGroup([]string{"transform-arrow-functions"}),
	}
}

func TestNewResolver(t *testing.T) {
	_, err := NewResolver("/.canopy/out/", nil)
	assert.ErrorIs(t, err, codegen.ErrInvalidArgument)

	_, err = NewResolver("/", testGroups())
	assert.ErrorIs(t, err, codegen.ErrInvalidArgument)

	r, err := NewResolver(".canopy/out", testGroups())
	require.NoError(t, err)
	assert.Equal(t, "/.canopy/out/", r.Prefix())
}

func TestResolver_Resolve(t *testing.T) {
	r, err := NewResolver("/.canopy/out/", testGroups())
	require.NoError(t, err)

	tests := []struct {
		name       string
		path       string
		wantOK     bool
		wantErr    error
		wantModule string
		wantVar    string
	}{
		{name: "outside tree", path: "/src/app.js"},
		{name: "prefix lookalike", path: "/.canopy/outside/best/a.js"},
		{name: "best", path: "/.canopy/out/best/src/app.js", wantOK: true, wantVar: "best", wantModule: "src/app.js"},
		{name: "no leading slash", path: ".canopy/out/otherwise/main.js", wantOK: true, wantVar: "otherwise", wantModule: "main.js"},
		{name: "cleans dot segments", path: "/.canopy/out/best/./src//app.js", wantOK: true, wantVar: "best", wantModule: "src/app.js"},
		{name: "unknown variant", path: "/.canopy/out/nope/app.js", wantOK: true, wantErr: codegen.ErrVariantUnknown},
		{name: "empty module", path: "/.canopy/out/best/", wantOK: true, wantErr: codegen.ErrInvalidArgument},
		{name: "variant only", path: "/.canopy/out/best", wantOK: true, wantErr: codegen.ErrInvalidArgument},
		{name: "missing variant", path: "/.canopy/out/", wantOK: true, wantErr: codegen.ErrInvalidArgument},
		{name: "escape", path: "/.canopy/out/best/../../etc/passwd", wantOK: true, wantErr: codegen.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok, err := r.Resolve(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVar, m.VariantID)
			assert.Equal(t, tt.wantModule, m.ModulePath)
		})
	}
}

func TestMatch_Paths(t *testing.T) {
	r, err := NewResolver("/.canopy/out/", testGroups())
	require.NoError(t, err)

	m, ok, err := r.Resolve("/.canopy/out/best/src/app.js")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{}, m.Group.RequiredCapabilities)
	assert.Equal(t, filepath.Join("/project", "src", "app.js"), m.OriginalPath("/project"))
	assert.Equal(t, filepath.Join("/project/.canopy/out", "best", "src", "app.js"), m.CompiledPath("/project/.canopy/out"))
	assert.Equal(t, "/.canopy/out/best/src/app.js", r.URL("best", "/src/app.js"))
}
