package groups

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/canopy/pkg/codegen"
	"github.com/platinummonkey/canopy/pkg/version"
)

// SelectOptions controls variant selection
type SelectOptions struct {
	// GroupCount is the number of variants wanted, at least 1
	GroupCount int

	// RuntimeAlwaysInGroupPopulation promises that every client matches one of
	// the weighted buckets
	RuntimeAlwaysInGroupPopulation bool

	// RuntimeWillAlwaysBeKnown promises that every client's runtime can be
	// identified
	RuntimeWillAlwaysBeKnown bool
}

func (o SelectOptions) trustsPopulation() bool {
	return o.RuntimeAlwaysInGroupPopulation && o.RuntimeWillAlwaysBeKnown
}

// RuntimeScore returns the weight of the population a group reaches on one
// runtime: the weight of the highest bucket not above the group's guaranteed
// version, the "other" bucket when none matches, else 0. guaranteed is "" when
// the group makes no promise for this runtime.
func RuntimeScore(usage RuntimeUsage, guaranteed string) float64 {
	if usage.Weight != nil {
		if guaranteed == "" {
			return 0
		}
		return *usage.Weight
	}

	other := usage.Versions[OtherKey]
	if guaranteed == "" {
		return other
	}

	buckets := usage.buckets()
	for i := len(buckets) - 1; i >= 0; i-- {
		if !version.IsBelow(guaranteed, buckets[i]) {
			return usage.Versions[buckets[i]]
		}
	}
	return other
}

// Score sums RuntimeScore over every runtime of the usage weights. Runtimes the
// group guarantees but the weights do not list score the top-level "other"
// weight when one is given.
func Score(g Group, usage UsageWeights) float64 {
	var total float64
	for _, rt := range sortedKeys(usage) {
		if rt == OtherKey {
			continue
		}
		total += RuntimeScore(usage[rt], g.RuntimeCompatibilityMap[rt])
	}

	if fallback, ok := usage[OtherKey]; ok {
		for _, rt := range sortedKeys(g.RuntimeCompatibilityMap) {
			if _, listed := usage[rt]; listed {
				continue
			}
			total += RuntimeScore(fallback, g.RuntimeCompatibilityMap[rt])
		}
	}
	return total
}

// ScoredGroup pairs a group with its score
type ScoredGroup struct {
	Group Group
	Score float64
}

// Rank scores every group and sorts them best first: descending score, then
// fewer requirements first, then input order
func Rank(groups []Group, usage UsageWeights) []ScoredGroup {
	ranked := make([]ScoredGroup, len(groups))
	for i, g := range groups {
		ranked[i] = ScoredGroup{Group: g, Score: Score(g, usage)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return len(ranked[i].Group.RequiredCapabilities) < len(ranked[j].Group.RequiredCapabilities)
	})
	return ranked
}

// Covers reports whether the group is guaranteed to run on every version bucket
// of every weighted runtime
func Covers(g Group, usage UsageWeights) bool {
	for rt, u := range usage {
		if rt == OtherKey {
			continue
		}
		guaranteed, ok := g.RuntimeCompatibilityMap[rt]
		if !ok {
			return false
		}
		if version.Compare(guaranteed, u.lowestCovered()) > 0 {
			return false
		}
	}
	return true
}

// FallbackGroup requires every capability and guarantees nothing
func FallbackGroup(capabilities []string) Group {
	return NewGroup(capabilities, nil)
}

// Select picks the final variants from the composed groups.
//
// With GroupCount == 1 the population is only trusted when both safety flags are
// set; then the lowest-ranked group that covers the population is "best".
// Otherwise a single "otherwise" variant requiring everything is returned.
//
// With GroupCount > 1 the top-ranked groups become "best", "intermediate-2", ...
// and "otherwise" is appended unless both safety flags are set.
func Select(groups []Group, capabilities []string, usage UsageWeights, opts SelectOptions) (GroupMap, error) {
	if opts.GroupCount < 1 {
		return nil, fmt.Errorf("%w: group count must be at least 1, got %d", codegen.ErrInvalidArgument, opts.GroupCount)
	}

	fallback := FallbackGroup(capabilities)
	ranked := Rank(groups, usage)

	if opts.GroupCount == 1 {
		if !opts.trustsPopulation() {
			return GroupMap{OtherwiseID: fallback}, nil
		}
		for i := len(ranked) - 1; i >= 0; i-- {
			if Covers(ranked[i].Group, usage) {
				return GroupMap{BestID: ranked[i].Group.Clone()}, nil
			}
		}
		return GroupMap{BestID: fallback}, nil
	}

	take := opts.GroupCount
	if !opts.trustsPopulation() {
		take--
	}
	if take > len(ranked) {
		take = len(ranked)
	}

	out := make(GroupMap, take+1)
	for i := 0; i < take; i++ {
		id := BestID
		if i > 0 {
			id = IntermediateID(i + 1)
		}
		out[id] = ranked[i].Group.Clone()
	}
	if !opts.trustsPopulation() || len(out) == 0 {
		out[OtherwiseID] = fallback
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
