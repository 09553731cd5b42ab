package schema

import (
	"fmt"

	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/samber/lo"
)

// triggers are the keywords (relative to a typed node) that change how a field's value is stored
var triggers = []jsondiff.Path{
	{"type"},
	{"format"},
	{"relationType"},
	{"bucketId"},
	{"options", "translate"},
}

// SchemaChange is a change between two versions of a schema
type SchemaChange struct {
	jsondiff.Change
	// LastPath is the part of Path below the deepest ancestor that declares a type
	LastPath jsondiff.Path `json:"lastPath"`
	// documentPath is the document level path of that ancestor
	documentPath jsondiff.Path
}

// DocumentPath returns the document level path of the field the change applies to. Array items are addressed
// with jsondiff.Wildcard.
func (c SchemaChange) DocumentPath() jsondiff.Path {
	return c.documentPath
}

// Invalidates returns true if stored history for DocumentPath() can no longer be replayed against the new schema.
// Deleting a typed node (or its properties/items) invalidates, as does deleting or editing a storage keyword.
// Additions never invalidate.
func (c SchemaChange) Invalidates() bool {
	switch c.Kind {
	case jsondiff.KindDelete:
		if len(c.LastPath) == 0 {
			return true
		}
		if c.LastPath[0] == "properties" || c.LastPath[0] == "items" {
			return true
		}
		return c.triggered()
	case jsondiff.KindEdit:
		return c.triggered()
	default:
		return false
	}
}

func (c SchemaChange) triggered() bool {
	return lo.SomeBy(triggers, func(trigger jsondiff.Path) bool {
		return c.LastPath.HasPrefix(trigger)
	})
}

// String implements the fmt.Stringer interface.
func (c SchemaChange) String() string {
	return fmt.Sprintf("%s %s (last: %s)", c.Kind, c.Path, c.LastPath)
}

// Diff returns the changes between two schemas. Paths have array item placeholders ('items' and tuple
// indexes) replaced by jsondiff.Wildcard.
func Diff(previous, current Schema) []SchemaChange {
	var prev, curr any = map[string]any(previous), map[string]any(current)
	if previous == nil {
		prev = map[string]any{}
	}
	if current == nil {
		curr = map[string]any{}
	}
	changes := jsondiff.Diff(prev, curr)
	schemaChanges := make([]SchemaChange, 0, len(changes))
	for _, change := range changes {
		// a deleted node only exists in the previous schema
		primary, fallback := curr, prev
		if change.Kind == jsondiff.KindDelete {
			primary, fallback = prev, curr
		}
		nodes := nodesOf(change.Path)
		ancestor, ok := typedAncestor(primary, change.Path, nodes)
		if !ok {
			ancestor, ok = typedAncestor(fallback, change.Path, nodes)
		}
		if !ok {
			ancestor = nodes[0]
		}
		deepest := nodes[len(nodes)-1]
		path := append(jsondiff.Path{}, deepest.rewritten...)
		path = append(path, change.Path[deepest.depth:]...)
		schemaChanges = append(schemaChanges, SchemaChange{
			Change: jsondiff.Change{
				Kind:    change.Kind,
				Path:    path,
				Patches: change.Patches,
				Null:    change.Null,
			},
			LastPath:     append(jsondiff.Path{}, change.Path[ancestor.depth:]...),
			documentPath: ancestor.document,
		})
	}
	return schemaChanges
}

// InvalidatedPaths returns the unique document paths invalidated by the changes
func InvalidatedPaths(changes []SchemaChange) []jsondiff.Path {
	var paths []jsondiff.Path
	for _, change := range changes {
		if !change.Invalidates() {
			continue
		}
		path := change.DocumentPath()
		if lo.SomeBy(paths, func(p jsondiff.Path) bool { return p.Equal(path) }) {
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// node is a schema node located along a raw schema path
type node struct {
	// depth is the length of the raw schema path to the node
	depth int
	// rewritten is the schema path to the node with item placeholders replaced by the wildcard
	rewritten jsondiff.Path
	// document is the document path of values described by the node
	document jsondiff.Path
}

// nodesOf walks the structural prefix of a schema path ('properties' and 'items' navigation) and returns each schema
// node it passes through, starting with the root
func nodesOf(path jsondiff.Path) []node {
	nodes := []node{{depth: 0, rewritten: jsondiff.Path{}, document: jsondiff.Path{}}}
	i := 0
	for i < len(path) {
		last := nodes[len(nodes)-1]
		switch path[i] {
		case "properties":
			if i+1 >= len(path) {
				return nodes
			}
			nodes = append(nodes, node{
				depth:     i + 2,
				rewritten: last.rewritten.Extend("properties").Extend(path[i+1]),
				document:  last.document.Extend(path[i+1]),
			})
			i += 2
		case "items":
			next := i + 1
			if next < len(path) {
				if _, ok := path[next].(int); ok {
					next++
				}
			}
			nodes = append(nodes, node{
				depth:     next,
				rewritten: last.rewritten.Extend(jsondiff.Wildcard),
				document:  last.document.Extend(jsondiff.Wildcard),
			})
			i = next
		default:
			return nodes
		}
	}
	return nodes
}

func typedAncestor(root any, path jsondiff.Path, nodes []node) (node, bool) {
	for i := len(nodes) - 1; i >= 0; i-- {
		value, ok := lookup(root, path[:nodes[i].depth])
		if !ok {
			continue
		}
		if n, ok := value.(map[string]any); ok {
			if _, ok := typeOf(n); ok {
				return nodes[i], true
			}
		}
	}
	return node{}, false
}
