package groups

import "github.com/platinummonkey/canopy/pkg/version"

// Compose folds per-runtime group lists into one list. Groups with identical
// requirement sets are merged, keeping the highest version per runtime; other
// groups are appended as copies.
func Compose(lists ...[]Group) []Group {
	var composed []Group
	index := make(map[string]int)

	for _, list := range lists {
		for _, g := range list {
			key := g.requirementKey()
			if i, ok := index[key]; ok {
				mergeCompat(composed[i].RuntimeCompatibilityMap, g.RuntimeCompatibilityMap)
				continue
			}
			index[key] = len(composed)
			composed = append(composed, g.Clone())
		}
	}
	return composed
}

func mergeCompat(dst, src map[string]string) {
	for rt, v := range src {
		if existing, ok := dst[rt]; ok {
			dst[rt] = version.Highest(existing, v)
			continue
		}
		dst[rt] = v
	}
}
