package groups

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/canopy/pkg/version"
)

// OtherKey names the fallback bucket. Inside a runtime's version map it weighs
// versions with no bucket of their own; at the top level it weighs runtimes
// with no entry.
const OtherKey = "other"

// UsageWeights maps runtime name to its share of the population
type UsageWeights map[string]RuntimeUsage

// RuntimeUsage is either a flat weight for the whole runtime or a map of
// version bucket to weight
type RuntimeUsage struct {
	Weight   *float64
	Versions map[string]float64
}

// FlatUsage returns a flat-weight usage
func FlatUsage(weight float64) RuntimeUsage {
	return RuntimeUsage{Weight: &weight}
}

// VersionUsage returns a bucketed usage
func VersionUsage(buckets map[string]float64) RuntimeUsage {
	return RuntimeUsage{Versions: buckets}
}

// MarshalJSON writes a number or an object
func (u RuntimeUsage) MarshalJSON() ([]byte, error) {
	if u.Weight != nil {
		return json.Marshal(*u.Weight)
	}
	if u.Versions == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(u.Versions)
}

// UnmarshalJSON reads a number or an object
func (u *RuntimeUsage) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var buckets map[string]float64
		if err := json.Unmarshal(data, &buckets); err != nil {
			return fmt.Errorf("usage buckets: %w", err)
		}
		*u = VersionUsage(buckets)
		return nil
	}
	var w float64
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("usage must be a number or a version map: %w", err)
	}
	*u = FlatUsage(w)
	return nil
}

// UnmarshalYAML reads a scalar weight or a mapping of version to weight.
// Version keys may be written unquoted.
func (u *RuntimeUsage) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var w float64
		if err := node.Decode(&w); err != nil {
			return fmt.Errorf("line %d: usage weight: %w", node.Line, err)
		}
		*u = FlatUsage(w)
		return nil
	case yaml.MappingNode:
		buckets := make(map[string]float64, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var w float64
			if err := node.Content[i+1].Decode(&w); err != nil {
				return fmt.Errorf("line %d: usage weight: %w", node.Content[i+1].Line, err)
			}
			buckets[node.Content[i].Value] = w
		}
		*u = VersionUsage(buckets)
		return nil
	}
	return fmt.Errorf("line %d: usage must be a number or a version map", node.Line)
}

// buckets returns the version bucket keys, ascending, without the fallback key
func (u RuntimeUsage) buckets() []string {
	keys := make([]string, 0, len(u.Versions))
	for v := range u.Versions {
		if v == OtherKey {
			continue
		}
		keys = append(keys, v)
	}
	sort.Strings(keys)
	version.Sort(keys)
	return keys
}

// lowestCovered returns the version a group must guarantee to run on every
// bucket of this runtime
func (u RuntimeUsage) lowestCovered() string {
	if u.Weight != nil {
		return zeroVersion
	}
	if _, ok := u.Versions[OtherKey]; ok {
		return zeroVersion
	}
	keys := u.buckets()
	if len(keys) == 0 {
		return zeroVersion
	}
	return keys[0]
}
