package schema

import (
	"encoding/json"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/util"
	"github.com/xeipuuv/gojsonschema"
)

// Schema is a decoded JSON-Schema-like bucket schema
type Schema map[string]any

// New decodes a schema from json or yaml content
func New(content []byte) (Schema, error) {
	if len(content) == 0 {
		return nil, errors.New(errors.Validation, "empty schema content")
	}
	jsonContent, err := util.YAMLToJSON(content)
	if err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to convert schema to json")
	}
	s := Schema{}
	if err := json.Unmarshal(jsonContent, &s); err != nil {
		return nil, errors.Wrap(err, errors.Validation, "failed to decode schema")
	}
	return s, nil
}

// Bytes returns the schema as json bytes
func (s Schema) Bytes() []byte {
	bits, _ := json.Marshal(s)
	return bits
}

// Compile checks that the schema is a valid json schema. Custom types must be normalized first.
func (s Schema) Compile() error {
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(s.Bytes())); err != nil {
		return errors.Wrap(err, errors.Validation, "invalid json schema")
	}
	return nil
}

// Clone returns a deep copy of the schema
func (s Schema) Clone() Schema {
	return Schema(util.CopyMap(s))
}

// TypeAt returns the type declared for the value at the document path. Object keys are resolved through
// 'properties' and array indexes (or the Wildcard) through 'items'.
func (s Schema) TypeAt(path jsondiff.Path) (string, bool) {
	node := map[string]any(s)
	for _, elem := range path {
		var ok bool
		switch elem := elem.(type) {
		case string:
			if elem == jsondiff.Wildcard {
				node, ok = itemsOf(node, -1)
				break
			}
			props, _ := node["properties"].(map[string]any)
			node, ok = props[elem].(map[string]any)
		case int:
			node, ok = itemsOf(node, elem)
		}
		if !ok {
			return "", false
		}
	}
	return typeOf(node)
}

func itemsOf(node map[string]any, index int) (map[string]any, bool) {
	switch items := node["items"].(type) {
	case map[string]any:
		return items, true
	case []any:
		if index < 0 || index >= len(items) {
			return nil, false
		}
		item, ok := items[index].(map[string]any)
		return item, ok
	default:
		return nil, false
	}
}

// typeOf returns the node's type. Union types resolve to their first non-null member.
func typeOf(node map[string]any) (string, bool) {
	switch typ := node["type"].(type) {
	case string:
		return typ, typ != ""
	case []any:
		for _, t := range typ {
			if s, ok := t.(string); ok && s != "null" {
				return s, true
			}
		}
	}
	return "", false
}

// lookup returns the value at the raw schema path
func lookup(node any, path jsondiff.Path) (any, bool) {
	for _, elem := range path {
		switch container := node.(type) {
		case map[string]any:
			key, ok := elem.(string)
			if !ok {
				return nil, false
			}
			if node, ok = container[key]; !ok {
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
