package jsondiff_test

import (
	"encoding/json"
	"testing"

	"github.com/autom8ter/chronicle/errors"
	"github.com/autom8ter/chronicle/jsondiff"
	"github.com/autom8ter/chronicle/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// types used by the fixtures below; array elements resolve through their parent field
var fixtureTypes = map[string]string{
	"title":        "string",
	"age":          "number",
	"count":        "integer",
	"active":       "boolean",
	"tags":         "array",
	"tags.*":       "string",
	"scores.*":     "number",
	"meta":         "object",
	"meta.author":  "string",
	"meta.rating":  "number",
	"meta.flags":   "array",
	"meta.flags.*": "boolean",
	"items.*":      "object",
	"items.*.name": "string",
	"items.*.qty":  "integer",
	"location":     "object",
	"nothing":      "null",
}

var resolver = jsondiff.TypeResolverFunc(func(path jsondiff.Path) (string, bool) {
	generic := make(jsondiff.Path, len(path))
	for i, elem := range path {
		if _, ok := elem.(int); ok {
			generic[i] = jsondiff.Wildcard
			continue
		}
		generic[i] = elem
	}
	typ, ok := fixtureTypes[generic.String()]
	return typ, ok
})

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	value := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(raw), &value))
	return value
}

func TestDiff(t *testing.T) {
	t.Run("identical values yield no changes", func(t *testing.T) {
		doc := decode(t, `{"title":"a","tags":["x","y"],"meta":{"author":"me","flags":[true]}}`)
		assert.Empty(t, jsondiff.Diff(doc, util.CopyMap(doc)))
	})
	t.Run("scalar edit", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"title":"b"}`), decode(t, `{"title":"a"}`))
		require.Len(t, changes, 1)
		assert.Equal(t, jsondiff.KindEdit, changes[0].Kind)
		assert.Equal(t, jsondiff.Path{"title"}, changes[0].Path)
		assert.NotEmpty(t, changes[0].Patches)

		doc := decode(t, `{"title":"b"}`)
		require.NoError(t, jsondiff.ApplyPatch(changes, doc, resolver))
		assert.Equal(t, "a", doc["title"])
	})
	t.Run("added key", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{}`), decode(t, `{"age":3}`))
		require.Len(t, changes, 1)
		assert.Equal(t, jsondiff.KindAdd, changes[0].Kind)
		assert.Equal(t, jsondiff.Path{"age"}, changes[0].Path)
	})
	t.Run("deleted key has no patch", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"age":3}`), decode(t, `{}`))
		require.Len(t, changes, 1)
		assert.Equal(t, jsondiff.KindDelete, changes[0].Kind)
		assert.Empty(t, changes[0].Patches)
	})
	t.Run("added object is expanded per field", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{}`), decode(t, `{"meta":{"author":"me","flags":[true,false]}}`))
		var paths []string
		for _, c := range changes {
			assert.Equal(t, jsondiff.KindAdd, c.Kind)
			paths = append(paths, c.Path.String())
		}
		assert.Equal(t, []string{"meta.author", "meta.flags.0", "meta.flags.1"}, paths)
	})
	t.Run("empty containers are single adds", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{}`), decode(t, `{"tags":[],"meta":{}}`))
		require.Len(t, changes, 2)
		doc := decode(t, `{}`)
		require.NoError(t, jsondiff.ApplyPatch(changes, doc, resolver))
		assert.Equal(t, decode(t, `{"tags":[],"meta":{}}`), doc)
	})
	t.Run("array shrink deletes highest index first", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"tags":["a","b","c","d"]}`), decode(t, `{"tags":["a","b"]}`))
		require.Len(t, changes, 2)
		assert.Equal(t, jsondiff.Path{"tags", 3}, changes[0].Path)
		assert.Equal(t, jsondiff.Path{"tags", 2}, changes[1].Path)
	})
	t.Run("array reorder is per index edits", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"tags":["a","b"]}`), decode(t, `{"tags":["b","a"]}`))
		require.Len(t, changes, 2)
		for _, c := range changes {
			assert.Equal(t, jsondiff.KindEdit, c.Kind)
		}
	})
	t.Run("kind change is delete then add", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"meta":"flat"}`), decode(t, `{"meta":{"author":"me"}}`))
		require.Len(t, changes, 2)
		assert.Equal(t, jsondiff.KindDelete, changes[0].Kind)
		assert.Equal(t, jsondiff.Path{"meta"}, changes[0].Path)
		assert.Equal(t, jsondiff.KindAdd, changes[1].Kind)
		assert.Equal(t, jsondiff.Path{"meta", "author"}, changes[1].Path)
	})
	t.Run("number to string with same text is an edit", func(t *testing.T) {
		changes := jsondiff.Diff(map[string]any{"title": 1.0}, map[string]any{"title": "1"})
		require.Len(t, changes, 1)
		assert.Equal(t, jsondiff.KindEdit, changes[0].Kind)
	})
	t.Run("ints and floats compare equal", func(t *testing.T) {
		assert.Empty(t, jsondiff.Diff(map[string]any{"age": 3}, map[string]any{"age": 3.0}))
	})
}

func TestApplyPatch(t *testing.T) {
	roundTrips := []struct {
		name string
		a, b string
	}{
		{"scalars", `{"title":"hello world","age":31,"active":true}`, `{"title":"hello there world","age":32.5,"active":false}`},
		{"added and removed fields", `{"title":"a","age":1}`, `{"title":"a","active":true,"count":4}`},
		{"grow arrays", `{"tags":["a"],"scores":[1]}`, `{"tags":["a","b","c"],"scores":[1,2,3]}`},
		{"shrink arrays", `{"tags":["a","b","c"],"scores":[3,2,1]}`, `{"tags":["c"],"scores":[]}`},
		{"nested objects", `{"meta":{"author":"x","rating":1}}`, `{"meta":{"author":"y","flags":[true,false]}}`},
		{"array of objects", `{"items":[{"name":"a","qty":1}]}`, `{"items":[{"name":"b","qty":2},{"name":"c","qty":3}]}`},
		{"nested array in new object", `{"title":"a"}`, `{"title":"a","meta":{"flags":[false,true],"rating":4}}`},
		{"nulls", `{"age":null,"count":1}`, `{"age":2,"count":null}`},
		{"string to null", `{"title":"a"}`, `{"title":null}`},
		{"null and the string null", `{"title":"null"}`, `{"title":null}`},
		{"null leaves in new containers", `{"tags":["a"]}`, `{"tags":["a",null],"meta":{"author":null}}`},
		{"unicode", `{"title":"héllo wörld"}`, `{"title":"hallo welt ✓"}`},
	}
	for _, rt := range roundTrips {
		rt := rt
		t.Run("round trip "+rt.name, func(t *testing.T) {
			a, b := decode(t, rt.a), decode(t, rt.b)
			doc := util.CopyMap(a)
			require.NoError(t, jsondiff.ApplyPatch(jsondiff.Diff(a, b), doc, resolver))
			assert.Equal(t, b, doc)

			back := util.CopyMap(b)
			require.NoError(t, jsondiff.ApplyPatch(jsondiff.Diff(b, a), back, resolver))
			assert.Equal(t, a, back)
		})
	}
	t.Run("changes survive json encoding", func(t *testing.T) {
		a, b := decode(t, `{"items":[{"name":"a","qty":1}]}`), decode(t, `{"items":[{"name":"b","qty":1},{"name":"c","qty":5}]}`)
		bits, err := json.Marshal(jsondiff.Diff(a, b))
		require.NoError(t, err)
		var changes []jsondiff.Change
		require.NoError(t, json.Unmarshal(bits, &changes))
		require.NoError(t, jsondiff.ApplyPatch(changes, a, resolver))
		assert.Equal(t, b, a)
	})
	t.Run("unknown path type", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{}`), decode(t, `{"unknown":"x"}`))
		err := jsondiff.ApplyPatch(changes, decode(t, `{}`), resolver)
		var cerr *jsondiff.CoercionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, jsondiff.Path{"unknown"}, cerr.Path)
		assert.Empty(t, cerr.Type)
	})
	t.Run("custom type is rejected", func(t *testing.T) {
		custom := jsondiff.TypeResolverFunc(func(path jsondiff.Path) (string, bool) {
			return "relation", true
		})
		changes := jsondiff.Diff(decode(t, `{"title":"a"}`), decode(t, `{"title":"b"}`))
		err := jsondiff.ApplyPatch(changes, decode(t, `{"title":"a"}`), custom)
		var cerr *jsondiff.CoercionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "relation", cerr.Type)
	})
	t.Run("non numeric text for a number", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"age":"x"}`), decode(t, `{"age":"y"}`))
		err := jsondiff.ApplyPatch(changes, decode(t, `{"age":"x"}`), resolver)
		var cerr *jsondiff.CoercionError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "number", cerr.Type)
	})
	t.Run("fractional integer", func(t *testing.T) {
		changes := jsondiff.Diff(decode(t, `{"count":1}`), decode(t, `{"count":1.5}`))
		err := jsondiff.ApplyPatch(changes, decode(t, `{"count":1}`), resolver)
		var cerr *jsondiff.CoercionError
		assert.True(t, errors.As(err, &cerr))
	})
	t.Run("empty path", func(t *testing.T) {
		err := jsondiff.ApplyPatch([]jsondiff.Change{{Kind: jsondiff.KindDelete}}, decode(t, `{}`), resolver)
		assert.Error(t, err)
	})
}

func TestPath(t *testing.T) {
	t.Run("prefix with wildcard", func(t *testing.T) {
		path := jsondiff.Path{"items", 3, "name"}
		assert.True(t, path.HasPrefix(jsondiff.Path{"items"}))
		assert.True(t, path.HasPrefix(jsondiff.Path{"items", jsondiff.Wildcard}))
		assert.True(t, path.HasPrefix(jsondiff.Path{"items", jsondiff.Wildcard, "name"}))
		assert.False(t, path.HasPrefix(jsondiff.Path{"items", jsondiff.Wildcard, "qty"}))
		assert.False(t, path.HasPrefix(jsondiff.Path{"item"}))
		assert.False(t, jsondiff.Path{"items", "x"}.HasPrefix(jsondiff.Path{"items", jsondiff.Wildcard}))
	})
	t.Run("extend copies", func(t *testing.T) {
		base := make(jsondiff.Path, 1, 4)
		base[0] = "a"
		left := base.Extend("b")
		right := base.Extend("c")
		assert.Equal(t, "a.b", left.String())
		assert.Equal(t, "a.c", right.String())
	})
	t.Run("json indexes decode as ints", func(t *testing.T) {
		var path jsondiff.Path
		require.NoError(t, json.Unmarshal([]byte(`["tags",2]`), &path))
		assert.Equal(t, jsondiff.Path{"tags", 2}, path)
		assert.Error(t, json.Unmarshal([]byte(`["tags",true]`), &path))
	})
}
