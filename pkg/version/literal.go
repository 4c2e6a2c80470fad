package version

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Literal is a version as written in configuration. It decodes from JSON numbers
// and strings and from any YAML scalar, so both `47` and `"47.1"` are accepted.
type Literal string

// String returns the literal text
func (l Literal) String() string {
	return string(l)
}

// Version parses the literal
func (l Literal) Version() Version {
	return Parse(string(l))
}

// UnmarshalJSON accepts a number or a string
func (l *Literal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Literal(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("version must be a string or a number: %w", err)
	}
	*l = Literal(n.String())
	return nil
}

// UnmarshalYAML accepts any scalar node
func (l *Literal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: version must be a scalar", node.Line)
	}
	*l = Literal(node.Value)
	return nil
}
