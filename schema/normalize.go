package schema

// storage primitives of the custom types
const (
	TypeRelation    = "relation"
	TypeLocation    = "location"
	TypeDate        = "date"
	TypeTextarea    = "textarea"
	TypeRichtext    = "richtext"
	TypeColor       = "color"
	TypeStorage     = "storage"
	TypeHash        = "hash"
	TypeMultiselect = "multiselect"

	RelationOneToMany = "onetomany"
)

// NormalizeTypes returns a copy of the schema with custom type names rewritten to the primitive type they are
// stored as, plus hints (format, fixed sub schemas) describing the stored shape
func NormalizeTypes(s Schema) Schema {
	if s == nil {
		return nil
	}
	return Schema(normalizeNode(s.Clone()))
}

func normalizeNode(node map[string]any) map[string]any {
	switch node["type"] {
	case TypeRelation:
		if node["relationType"] == RelationOneToMany {
			node["type"] = "array"
			node["items"] = map[string]any{
				"type":   "string",
				"format": "objectid",
			}
		} else {
			node["type"] = "string"
			node["format"] = "objectid"
		}
	case TypeLocation:
		node["type"] = "object"
		node["properties"] = map[string]any{
			"latitude":  map[string]any{"type": "number"},
			"longitude": map[string]any{"type": "number"},
		}
		node["required"] = []any{"latitude", "longitude"}
	case TypeDate:
		node["type"] = "string"
		node["format"] = "date-time"
	case TypeTextarea, TypeRichtext, TypeColor, TypeStorage, TypeHash:
		node["type"] = "string"
	case TypeMultiselect:
		node["type"] = "array"
		items, ok := node["items"].(map[string]any)
		if !ok {
			items = map[string]any{}
		}
		if _, ok := items["type"]; !ok {
			items["type"] = "string"
		}
		node["items"] = items
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for name, prop := range props {
			if child, ok := prop.(map[string]any); ok {
				props[name] = normalizeNode(child)
			}
		}
	}
	switch items := node["items"].(type) {
	case map[string]any:
		node["items"] = normalizeNode(items)
	case []any:
		for i, item := range items {
			if child, ok := item.(map[string]any); ok {
				items[i] = normalizeNode(child)
			}
		}
	}
	return node
}
