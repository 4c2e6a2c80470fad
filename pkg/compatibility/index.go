// Package compatibility holds the capability compatibility index: for every
// capability transform, the minimum version of each runtime that supports the
// feature natively.
//
// A runtime missing from a capability's entry never supports that capability
// natively, so the transform is required at every version of that runtime.
package compatibility

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/version"
)

// Index maps capability name to runtime name to minimum native version
type Index map[string]map[string]version.Literal

// Capabilities returns every capability name, sorted
func (idx Index) Capabilities() []string {
	names := make([]string, 0, len(idx))
	for name := range idx {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Runtimes returns every runtime named by at least one capability, sorted
func (idx Index) Runtimes() []string {
	seen := make(map[string]struct{})
	for _, runtimes := range idx {
		for rt := range runtimes {
			seen[rt] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for rt := range seen {
		names = append(names, rt)
	}
	sort.Strings(names)
	return names
}

// MinVersion returns the minimum version of runtime that supports capability
// natively. ok is false when the runtime never does.
func (idx Index) MinVersion(capability, runtime string) (string, bool) {
	runtimes, ok := idx[capability]
	if !ok {
		return "", false
	}
	v, ok := runtimes[runtime]
	if !ok {
		return "", false
	}
	return string(v), true
}

// Validate rejects empty names and versions
func (idx Index) Validate() error {
	if len(idx) == 0 {
		return fmt.Errorf("%w: compatibility index is empty", codegen.ErrInvalidArgument)
	}
	for capability, runtimes := range idx {
		if strings.TrimSpace(capability) == "" {
			return fmt.Errorf("%w: empty capability name", codegen.ErrInvalidArgument)
		}
		for rt, v := range runtimes {
			if strings.TrimSpace(rt) == "" {
				return fmt.Errorf("%w: capability %s has an empty runtime name", codegen.ErrInvalidArgument, capability)
			}
			if strings.TrimSpace(string(v)) == "" {
				return fmt.Errorf("%w: capability %s has no version for %s", codegen.ErrInvalidArgument, capability, rt)
			}
		}
	}
	return nil
}

// Subset returns a copy restricted to the named capabilities. Unknown names are
// an error.
func (idx Index) Subset(capabilities []string) (Index, error) {
	out := make(Index, len(capabilities))
	for _, name := range capabilities {
		runtimes, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown capability %q", codegen.ErrInvalidArgument, name)
		}
		cp := make(map[string]version.Literal, len(runtimes))
		for rt, v := range runtimes {
			cp[rt] = v
		}
		out[name] = cp
	}
	return out, nil
}

// LoadIndex reads an index from a .json, .yaml or .yml file
func LoadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compatibility index: %w", err)
	}

	var idx Index
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &idx)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &idx)
	default:
		return nil, fmt.Errorf("%w: unsupported compatibility index format %q", codegen.ErrInvalidArgument, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse compatibility index: %v", codegen.ErrInvalidArgument, err)
	}

	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return idx, nil
}
