package groups

import (
	"github.com/platinummonkey/canopy/pkg/compatibility"
	"github.com/platinummonkey/canopy/pkg/version"
)

// ForRuntime returns the breakpoint groups of a single runtime, ascending: the
// first group has the most requirements at the lowest version, the last has the
// fewest at the highest version.
func ForRuntime(index compatibility.Index, runtime string) []Group {
	capabilities := index.Capabilities()

	versions := []string{zeroVersion}
	seen := map[string]struct{}{zeroVersion: {}}
	for _, capability := range capabilities {
		v, ok := index.MinVersion(capability, runtime)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		versions = append(versions, v)
	}
	version.Sort(versions)

	var out []Group
	for _, v := range versions {
		candidate := Group{
			RequiredCapabilities:    requiredAt(index, capabilities, runtime, v),
			RuntimeCompatibilityMap: map[string]string{runtime: v},
		}

		if n := len(out); n > 0 && RequirementEqual(out[n-1], candidate) {
			prev := out[n-1].RuntimeCompatibilityMap[runtime]
			out[n-1].RuntimeCompatibilityMap[runtime] = version.Highest(prev, v)
			continue
		}
		out = append(out, candidate)
	}
	return out
}

// requiredAt lists the capabilities a runtime still needs transformed at v.
// capabilities is sorted so the result is too.
func requiredAt(index compatibility.Index, capabilities []string, runtime, v string) []string {
	required := []string{}
	for _, capability := range capabilities {
		minVersion, ok := index.MinVersion(capability, runtime)
		if !ok || version.IsBelow(v, minVersion) {
			required = append(required, capability)
		}
	}
	return required
}
