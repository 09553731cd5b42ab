package jsondiff

import (
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"
)

var dmp = diffmatchpatch.New()

// Diff computes the changes that turn previous into current. Objects are compared key by key and arrays index by
// index. Added objects and arrays are expanded into one add per leaf so they can be replayed field by field.
func Diff(previous, current any) []Change {
	return diff(Path{}, previous, current)
}

func diff(path Path, previous, current any) []Change {
	switch prev := previous.(type) {
	case map[string]any:
		curr, ok := current.(map[string]any)
		if !ok {
			return replace(path, current)
		}
		return diffObjects(path, prev, curr)
	case []any:
		curr, ok := current.([]any)
		if !ok {
			return replace(path, current)
		}
		return diffArrays(path, prev, curr)
	default:
		switch current.(type) {
		case map[string]any, []any:
			return replace(path, current)
		}
		if sameScalar(previous, current) {
			return nil
		}
		if current == nil {
			return []Change{{Kind: KindEdit, Path: path, Null: true}}
		}
		return []Change{{
			Kind:    KindEdit,
			Path:    path,
			Patches: makePatch(stringify(previous), stringify(current)),
		}}
	}
}

func diffObjects(path Path, previous, current map[string]any) []Change {
	var changes []Change
	for _, key := range sortedKeys(previous) {
		curr, ok := current[key]
		if !ok {
			changes = append(changes, Change{Kind: KindDelete, Path: path.Extend(key)})
			continue
		}
		changes = append(changes, diff(path.Extend(key), previous[key], curr)...)
	}
	for _, key := range sortedKeys(current) {
		if _, ok := previous[key]; ok {
			continue
		}
		changes = append(changes, added(path.Extend(key), current[key])...)
	}
	return changes
}

func diffArrays(path Path, previous, current []any) []Change {
	var changes []Change
	shared := len(previous)
	if len(current) < shared {
		shared = len(current)
	}
	for i := 0; i < shared; i++ {
		changes = append(changes, diff(path.Extend(i), previous[i], current[i])...)
	}
	// highest index first so that replaying the deletes in order never shifts a pending index
	for i := len(previous) - 1; i >= len(current); i-- {
		changes = append(changes, Change{Kind: KindDelete, Path: path.Extend(i)})
	}
	for i := len(previous); i < len(current); i++ {
		changes = append(changes, added(path.Extend(i), current[i])...)
	}
	return changes
}

// added records a value that only exists in the current document. Containers are re-diffed against an empty
// container of the same kind.
func added(path Path, value any) []Change {
	var changes []Change
	switch value := value.(type) {
	case map[string]any:
		if len(value) == 0 {
			return []Change{{Kind: KindAdd, Path: path, Patches: makePatch("", "{}")}}
		}
		changes = diff(path, map[string]any{}, value)
	case []any:
		if len(value) == 0 {
			return []Change{{Kind: KindAdd, Path: path, Patches: makePatch("", "[]")}}
		}
		changes = diff(path, []any{}, value)
	case nil:
		return []Change{{Kind: KindAdd, Path: path, Null: true}}
	default:
		return []Change{{Kind: KindAdd, Path: path, Patches: makePatch("", stringify(value))}}
	}
	for i := range changes {
		changes[i].Kind = KindAdd
	}
	return changes
}

// replace removes the previous subtree and adds the current one
func replace(path Path, current any) []Change {
	return append([]Change{{Kind: KindDelete, Path: path}}, added(path, current)...)
}

func makePatch(from, to string) string {
	if from == to {
		return ""
	}
	return dmp.PatchToText(dmp.PatchMake(from, to))
}

func sameScalar(previous, current any) bool {
	if scalarKind(previous) != scalarKind(current) {
		return false
	}
	return stringify(previous) == stringify(current)
}

func scalarKind(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
