// Package version provides the total order used to compare runtime versions.
//
// Versions are {major, minor, patch} triples. Inputs are accepted as dotted strings
// ("47", "12.1", "14.17.0") or plain integers. Missing components default to 0 and a
// string that carries no digits at all parses as 0.0.0.
package version

import (
	"strconv"
	"strings"
)

// Version is a parsed {major, minor, patch} triple
type Version struct {
	Major int
	Minor int
	Patch int
}

// String formats the version as major.minor.patch
func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

// FromInt returns {n, 0, 0}
func FromInt(n int) Version {
	return Version{Major: n}
}

// Parse parses a dotted version string. Components are read left to right; a
// component keeps only its leading digits ("12beta" reads as 12).
func Parse(s string) Version {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")

	var parts [3]int
	for i, raw := range strings.SplitN(s, ".", 3) {
		n, ok := leadingInt(raw)
		if !ok {
			if i == 0 {
				return Version{}
			}
			break
		}
		parts[i] = n
	}

	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}
}

func leadingInt(s string) (int, bool) {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// CompareVersions returns a negative number when a < b, zero when equal and a
// positive number when a > b
func CompareVersions(a, b Version) int {
	if a.Major != b.Major {
		return a.Major - b.Major
	}
	if a.Minor != b.Minor {
		return a.Minor - b.Minor
	}
	return a.Patch - b.Patch
}

// Compare parses both strings and compares them
func Compare(a, b string) int {
	return CompareVersions(Parse(a), Parse(b))
}

// IsBelow reports whether x sorts strictly before y
func IsBelow(x, y string) bool {
	return Compare(x, y) < 0
}

// Highest returns the greatest of the given versions as it was passed in, not a
// normalized triple. On ties the earliest argument wins.
func Highest(versions ...string) string {
	if len(versions) == 0 {
		return ""
	}
	highest := versions[0]
	for _, v := range versions[1:] {
		if Compare(v, highest) > 0 {
			highest = v
		}
	}
	return highest
}

// Sort sorts versions ascending in place, keeping the order of equal versions
func Sort(versions []string) {
	// insertion sort: version lists are small and stability matters
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && Compare(versions[j], versions[j-1]) < 0; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
}
