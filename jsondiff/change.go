package jsondiff

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Kind is the type of change made to a json value
type Kind string

const (
	// KindAdd indicates that a value was added
	KindAdd Kind = "add"
	// KindEdit indicates that a scalar value was edited
	KindEdit Kind = "edit"
	// KindDelete indicates that a value was removed
	KindDelete Kind = "delete"
)

// Wildcard is a path element that matches every array index
const Wildcard = "*"

// Path locates a value inside a json document. Elements are object keys (string) or array indexes (int).
type Path []any

// Extend returns a copy of the path with the element appended
func (p Path) Extend(elem any) Path {
	cp := make(Path, len(p), len(p)+1)
	copy(cp, p)
	return append(cp, elem)
}

// HasPrefix returns true if the path begins with the prefix. A Wildcard element in the prefix matches any
// array index.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	for i, elem := range prefix {
		if elem == Wildcard {
			if _, ok := p[i].(int); ok {
				continue
			}
		}
		if p[i] != elem {
			return false
		}
	}
	return true
}

// Equal returns true if both paths have identical elements
func (p Path) Equal(other Path) bool {
	return len(p) == len(other) && p.HasPrefix(other) && other.HasPrefix(p)
}

// String returns the path in dot notation
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, elem := range p {
		parts[i] = fmt.Sprint(elem)
	}
	return strings.Join(parts, ".")
}

// UnmarshalJSON decodes array indexes as ints
func (p *Path) UnmarshalJSON(bits []byte) error {
	var raw []any
	if err := json.Unmarshal(bits, &raw); err != nil {
		return err
	}
	path := make(Path, len(raw))
	for i, elem := range raw {
		switch elem := elem.(type) {
		case string:
			path[i] = elem
		case float64:
			path[i] = int(elem)
		default:
			return fmt.Errorf("jsondiff: unsupported path element: %v", elem)
		}
	}
	*p = path
	return nil
}

// Change is a single field level change between two json values
type Change struct {
	Kind Kind `json:"kind"`
	Path Path `json:"path"`
	// Patches is a diff-match-patch patch (in its text encoding) between the stringified values
	Patches string `json:"patches,omitempty"`
	// Null is set on adds and edits whose new value is json null. The text form of null can't be told apart from
	// the string "null", so these changes carry no patch.
	Null bool `json:"null,omitempty"`
}

// String implements the fmt.Stringer interface.
func (c Change) String() string {
	return fmt.Sprintf("%s %s", c.Kind, c.Path)
}

// stringify returns the text form of a scalar json value that patches are computed against
func stringify(value any) string {
	switch value := value.(type) {
	case nil:
		return "null"
	case string:
		return value
	case json.Number:
		return value.String()
	case map[string]any, []any:
		bits, _ := json.Marshal(value)
		return string(bits)
	default:
		return cast.ToString(value)
	}
}
