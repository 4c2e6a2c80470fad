package groups

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/compatibility"
)

// GenerateOptions configures Generate
type GenerateOptions struct {
	// Runtimes to target; empty means every runtime of the index
	Runtimes []string
	Usage    UsageWeights
	SelectOptions
}

// Generate computes the group map for an index
func Generate(index compatibility.Index, opts GenerateOptions) (GroupMap, error) {
	if err := index.Validate(); err != nil {
		return nil, err
	}

	runtimes := opts.Runtimes
	if len(runtimes) == 0 {
		runtimes = index.Runtimes()
	}
	if len(runtimes) == 0 {
		return nil, fmt.Errorf("%w: no runtime to target", codegen.ErrInvalidArgument)
	}

	lists := make([][]Group, 0, len(runtimes))
	for _, rt := range runtimes {
		if rt == "" {
			return nil, fmt.Errorf("%w: empty runtime name", codegen.ErrInvalidArgument)
		}
		lists = append(lists, ForRuntime(index, rt))
	}

	return Select(Compose(lists...), index.Capabilities(), opts.Usage, opts.SelectOptions)
}

// WriteFile writes the group map as indented JSON, creating parent directories
func (m GroupMap) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal group map: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create group map directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write group map: %w", err)
	}
	return nil
}

// ReadGroupMap reads a group map written by WriteFile
func ReadGroupMap(path string) (GroupMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read group map: %w", err)
	}

	var m GroupMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: malformed group map: %v", codegen.ErrInvalidArgument, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: group map is empty", codegen.ErrInvalidArgument)
	}
	for id, g := range m {
		m[id] = NewGroup(g.RequiredCapabilities, g.RuntimeCompatibilityMap)
	}
	return m, nil
}
