package jsondiff

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/spf13/cast"
)

// TypeResolver resolves the primitive json schema type of the value at a document path
type TypeResolver interface {
	TypeAt(path Path) (string, bool)
}

// TypeResolverFunc is a function that implements TypeResolver
type TypeResolverFunc func(path Path) (string, bool)

// TypeAt calls the function
func (f TypeResolverFunc) TypeAt(path Path) (string, bool) {
	return f(path)
}

// CoercionError is returned when a patched value cannot be converted back to the type the schema declares at its
// path
type CoercionError struct {
	Path Path
	Type string
	Err  error
}

func (e *CoercionError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("jsondiff: no schema type for path '%s'", e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("jsondiff: failed to coerce '%s' to %s: %s", e.Path, e.Type, e.Err)
	}
	return fmt.Sprintf("jsondiff: unsupported type %s at '%s'", e.Type, e.Path)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// PatchError is returned when a text patch does not apply cleanly to the current value
type PatchError struct {
	Path Path
	Text string
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("jsondiff: patch does not apply to '%s' at '%s'", e.Text, e.Path)
}

// ApplyPatch replays the changes against the document in place. Deletes remove the value at their path. Adds and
// edits patch the stringified current value and coerce the result to the type the resolver reports for the path.
func ApplyPatch(changes []Change, document map[string]any, resolver TypeResolver) error {
	for _, change := range changes {
		if len(change.Path) == 0 {
			return fmt.Errorf("jsondiff: %s change has an empty path", change.Kind)
		}
		switch change.Kind {
		case KindDelete:
			removeAt(document, change.Path)
		case KindAdd, KindEdit:
			if change.Null {
				setAt(document, change.Path, nil)
				continue
			}
			typ, ok := resolver.TypeAt(change.Path)
			if !ok {
				return &CoercionError{Path: change.Path}
			}
			text := ""
			if change.Kind == KindEdit {
				if current, exists := getAt(document, change.Path); exists {
					text = stringify(current)
				}
			}
			patched, err := applyText(change, text)
			if err != nil {
				return err
			}
			value, err := coerce(patched, typ)
			if err != nil {
				return &CoercionError{Path: change.Path, Type: typ, Err: err}
			}
			setAt(document, change.Path, value)
		default:
			return fmt.Errorf("jsondiff: unsupported change kind: %s", change.Kind)
		}
	}
	return nil
}

func applyText(change Change, text string) (string, error) {
	if change.Patches == "" {
		return text, nil
	}
	patches, err := dmp.PatchFromText(change.Patches)
	if err != nil {
		return "", fmt.Errorf("jsondiff: invalid patch at '%s': %w", change.Path, err)
	}
	result, applied := dmp.PatchApply(patches, text)
	for _, ok := range applied {
		if !ok {
			return "", &PatchError{Path: change.Path, Text: text}
		}
	}
	return result, nil
}

func coerce(text string, typ string) (any, error) {
	if text == "null" && typ != "string" {
		return nil, nil
	}
	switch typ {
	case "string":
		return text, nil
	case "number":
		return cast.ToFloat64E(text)
	case "integer":
		f, err := cast.ToFloat64E(text)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%s is not an integer", text)
		}
		return f, nil
	case "boolean":
		return cast.ToBoolE(text)
	case "object":
		value := map[string]any{}
		if err := json.Unmarshal([]byte(text), &value); err != nil {
			return nil, err
		}
		return value, nil
	case "array":
		value := []any{}
		if err := json.Unmarshal([]byte(text), &value); err != nil {
			return nil, err
		}
		return value, nil
	default:
		return nil, fmt.Errorf("unsupported type")
	}
}

func getAt(node any, path Path) (any, bool) {
	for _, elem := range path {
		switch container := node.(type) {
		case map[string]any:
			key, ok := elem.(string)
			if !ok {
				return nil, false
			}
			node, ok = container[key]
			if !ok {
				return nil, false
			}
		case []any:
			index, ok := elem.(int)
			if !ok || index < 0 || index >= len(container) {
				return nil, false
			}
			node = container[index]
		default:
			return nil, false
		}
	}
	return node, true
}

// setAt sets the value at the path, creating intermediate objects (string keys) and arrays (int indexes). It
// returns the possibly reallocated node.
func setAt(node any, path Path, value any) any {
	if len(path) == 0 {
		return value
	}
	switch elem := path[0].(type) {
	case int:
		array, _ := node.([]any)
		for len(array) <= elem {
			array = append(array, nil)
		}
		array[elem] = setAt(array[elem], path[1:], value)
		return array
	default:
		key := cast.ToString(elem)
		object, ok := node.(map[string]any)
		if !ok || object == nil {
			object = map[string]any{}
		}
		object[key] = setAt(object[key], path[1:], value)
		return object
	}
}

// removeAt removes the value at the path and returns the possibly reallocated node
func removeAt(node any, path Path) any {
	if len(path) == 0 {
		return node
	}
	switch container := node.(type) {
	case map[string]any:
		key, ok := path[0].(string)
		if !ok {
			return node
		}
		if len(path) == 1 {
			delete(container, key)
			return container
		}
		if child, ok := container[key]; ok {
			container[key] = removeAt(child, path[1:])
		}
		return container
	case []any:
		index, ok := path[0].(int)
		if !ok || index < 0 || index >= len(container) {
			return node
		}
		if len(path) == 1 {
			return append(container[:index:index], container[index+1:]...)
		}
		container[index] = removeAt(container[index], path[1:])
		return container
	default:
		return node
	}
}
