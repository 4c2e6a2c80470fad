// Package groups computes compile variants ("groups") from the capability
// compatibility index and a usage-weighted runtime population.
//
// The pipeline runs in four steps:
//
//  1. ForRuntime turns the index into ascending breakpoint groups for one runtime.
//  2. Compose merges the per-runtime lists into groups sharing requirement sets.
//  3. Score ranks each composed group against the usage weights.
//  4. Select picks the final variants: "best", "intermediate-N" and "otherwise".
//
// Generate wires the four steps together.
//
// # Label semantics
//
// With GroupCount > 1 the variant labelled "best" is the highest-scoring group,
// the one assuming the most native support. With GroupCount == 1 (and both safety
// flags set) "best" is the lowest-scoring group that still covers the whole
// declared population, i.e. the most demanding one. The asymmetry is deliberate:
// a single variant has to be safe for every client, while tiered variants
// optimise the common case and keep "otherwise" as the safety net.
//
// # Version floor
//
// The first group ForRuntime emits for a runtime, the one requiring every
// capability, carries the version "0.0.0". Versions compare numerically
// component by component with missing components read as zero, so "0.0.0",
// "0.0" and "0" are the same floor. Group maps written by other tools that use
// "0" therefore match maps generated here.
package groups

import (
	"sort"
	"strconv"
	"strings"
)

// Reserved variant ids
const (
	BestID             = "best"
	OtherwiseID        = "otherwise"
	intermediatePrefix = "intermediate-"
	zeroVersion        = "0.0.0"
)

// IntermediateID returns the id of the n-th variant, counting "best" as 1
func IntermediateID(n int) string {
	return intermediatePrefix + strconv.Itoa(n)
}

// Group is a compile variant: the capability transforms it applies and the
// lowest version of each runtime it is guaranteed to run on. A runtime absent
// from RuntimeCompatibilityMap is not guaranteed.
type Group struct {
	RequiredCapabilities    []string          `json:"requiredCapabilities" yaml:"requiredCapabilities"`
	RuntimeCompatibilityMap map[string]string `json:"runtimeCompatibilityMap" yaml:"runtimeCompatibilityMap"`
}

// NewGroup builds a group, sorting and copying the capability list
func NewGroup(capabilities []string, compat map[string]string) Group {
	caps := append([]string{}, capabilities...)
	sort.Strings(caps)

	m := make(map[string]string, len(compat))
	for rt, v := range compat {
		m[rt] = v
	}
	return Group{RequiredCapabilities: caps, RuntimeCompatibilityMap: m}
}

// Clone returns a deep copy
func (g Group) Clone() Group {
	return NewGroup(g.RequiredCapabilities, g.RuntimeCompatibilityMap)
}

// Requires reports whether the group applies the capability transform
func (g Group) Requires(capability string) bool {
	i := sort.SearchStrings(g.RequiredCapabilities, capability)
	return i < len(g.RequiredCapabilities) && g.RequiredCapabilities[i] == capability
}

// requirementKey identifies the requirement set
func (g Group) requirementKey() string {
	return strings.Join(g.RequiredCapabilities, "\x00")
}

// RequirementEqual reports whether both groups require exactly the same
// capabilities
func RequirementEqual(a, b Group) bool {
	if len(a.RequiredCapabilities) != len(b.RequiredCapabilities) {
		return false
	}
	return a.requirementKey() == b.requirementKey()
}

// GroupMap maps variant id to group. A valid map always has at least one entry.
type GroupMap map[string]Group

// IDs returns the variant ids: "best", then intermediates in ascending order,
// then "otherwise", then anything else alphabetically
func (m GroupMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, ni := idRank(ids[i])
		rj, nj := idRank(ids[j])
		if ri != rj {
			return ri < rj
		}
		if ni != nj {
			return ni < nj
		}
		return ids[i] < ids[j]
	})
	return ids
}

func idRank(id string) (int, int) {
	switch {
	case id == BestID:
		return 0, 0
	case strings.HasPrefix(id, intermediatePrefix):
		n, err := strconv.Atoi(strings.TrimPrefix(id, intermediatePrefix))
		if err != nil {
			return 3, 0
		}
		return 1, n
	case id == OtherwiseID:
		return 2, 0
	}
	return 3, 0
}

// Get returns the group for a variant id
func (m GroupMap) Get(id string) (Group, bool) {
	g, ok := m[id]
	return g, ok
}
