// Package variant maps request paths inside the compiled-output tree to a
// compile variant and the module it compiles.
package variant

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/groups"
)

// Match is a request path resolved to a variant
type Match struct {
	VariantID string
	// ModulePath is slash separated and relative to the project root
	ModulePath string
	Group      groups.Group
}

// OriginalPath returns the module's source file under root
func (m Match) OriginalPath(root string) string {
	return filepath.Join(root, filepath.FromSlash(m.ModulePath))
}

// CompiledPath returns where the compiled artifact lives under outDir
func (m Match) CompiledPath(outDir string) string {
	return filepath.Join(outDir, m.VariantID, filepath.FromSlash(m.ModulePath))
}

// Resolver recognises requests for compiled modules
type Resolver struct {
	prefix string
	groups groups.GroupMap
}

// NewResolver builds a resolver for URLs under outDirPrefix, e.g. "/.canopy/out/"
func NewResolver(outDirPrefix string, groupMap groups.GroupMap) (*Resolver, error) {
	if len(groupMap) == 0 {
		return nil, fmt.Errorf("%w: group map is empty", codegen.ErrInvalidArgument)
	}
	prefix := "/" + strings.Trim(outDirPrefix, "/")
	if prefix == "/" {
		return nil, fmt.Errorf("%w: output directory prefix is required", codegen.ErrInvalidArgument)
	}
	return &Resolver{prefix: prefix + "/", groups: groupMap}, nil
}

// Prefix returns the normalised URL prefix, with leading and trailing slashes
func (r *Resolver) Prefix() string {
	return r.prefix
}

// URL returns the request path serving modulePath under variantID
func (r *Resolver) URL(variantID, modulePath string) string {
	return r.prefix + variantID + "/" + strings.TrimPrefix(modulePath, "/")
}

// Resolve splits a request path into variant and module. ok is false when the
// path lies outside the compiled-output tree.
func (r *Resolver) Resolve(requestPath string) (Match, bool, error) {
	if !strings.HasPrefix(requestPath, "/") {
		requestPath = "/" + requestPath
	}
	if !strings.HasPrefix(requestPath, r.prefix) {
		return Match{}, false, nil
	}

	rest := strings.TrimPrefix(requestPath, r.prefix)
	variantID, modulePath, _ := strings.Cut(rest, "/")
	if variantID == "" {
		return Match{}, true, fmt.Errorf("%w: missing variant in %q", codegen.ErrInvalidArgument, requestPath)
	}

	for _, segment := range strings.Split(modulePath, "/") {
		if segment == ".." {
			return Match{}, true, fmt.Errorf("%w: module path %q escapes the project", codegen.ErrInvalidArgument, modulePath)
		}
	}
	modulePath = strings.TrimPrefix(path.Clean("/"+modulePath), "/")
	if modulePath == "" {
		return Match{}, true, fmt.Errorf("%w: empty module path in %q", codegen.ErrInvalidArgument, requestPath)
	}

	group, ok := r.groups.Get(variantID)
	if !ok {
		return Match{}, true, fmt.Errorf("%w: %q", codegen.ErrVariantUnknown, variantID)
	}

	return Match{VariantID: variantID, ModulePath: modulePath, Group: group}, true, nil
}
