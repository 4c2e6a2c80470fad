package compatibility

import "github.com/platinummonkey/canopy/pkg/version"

// Runtime names used by the built-in table
const (
	RuntimeChrome  = "chrome"
	RuntimeFirefox = "firefox"
	RuntimeSafari  = "safari"
	RuntimeNode    = "node"
)

// DefaultIndex returns the built-in table of common syntax transforms
func DefaultIndex() Index {
	return Index{
		"transform-template-literals":          rt("41", "34", "13", "4"),
		"transform-classes":                    rt("46", "45", "10", "5"),
		"transform-spread":                     rt("46", "45", "10", "5"),
		"transform-arrow-functions":            rt("47", "43", "10", "6"),
		"transform-block-scoping":              rt("49", "51", "11", "6"),
		"transform-parameters":                 rt("49", "53", "10", "6"),
		"transform-regenerator":                rt("50", "53", "10", "6"),
		"transform-destructuring":              rt("51", "53", "10", "6.5"),
		"transform-exponentiation-operator":    rt("52", "52", "10.1", "7"),
		"transform-async-to-generator":         rt("55", "52", "11", "7.6"),
		"proposal-object-rest-spread":          rt("60", "55", "11.1", "8.3"),
		"proposal-async-generator-functions":   rt("63", "57", "12", "10"),
		"proposal-optional-catch-binding":      rt("66", "58", "11.1", "10"),
		"proposal-class-properties":            rt("74", "90", "14.1", "12"),
		"proposal-nullish-coalescing-operator": rt("80", "72", "13.1", "14"),
		"proposal-optional-chaining":           rt("91", "74", "13.1", "16.9"),
	}
}

func rt(chrome, firefox, safari, node string) map[string]version.Literal {
	return map[string]version.Literal{
		RuntimeChrome:  version.Literal(chrome),
		RuntimeFirefox: version.Literal(firefox),
		RuntimeSafari:  version.Literal(safari),
		RuntimeNode:    version.Literal(node),
	}
}
