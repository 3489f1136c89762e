// Dotted-path navigation over structured values.

package diff

import (
	"sort"
	"strconv"
	"strings"
)

func joinPath(parent, key string) string {
	if parent == RootPath || parent == "" {
		return key
	}
	return parent + "." + key
}

func splitPath(path string) []string {
	if path == RootPath || path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

func indexKey(i int) string {
	return strconv.Itoa(i)
}

// isAncestor reports whether a is a proper ancestor of b. The root path
// is an ancestor of every other path.
func isAncestor(a, b string) bool {
	if a == b {
		return false
	}
	if a == RootPath {
		return b != RootPath
	}
	if b == RootPath {
		return false
	}
	return strings.HasPrefix(b, a+".")
}

// Get reads the value at a dotted path. The second result is false
// when the path is absent.
func Get(v interface{}, path string) (interface{}, bool) {
	return getPath(v, path)
}

// Set writes a value at a dotted path and returns the (possibly
// replaced) root. The input is not mutated.
func Set(v interface{}, path string, value interface{}) interface{} {
	return setPath(deepCopy(v), path, deepCopy(value))
}

// getPath reads the value at a dotted path. The second result is false
// when the path is absent.
func getPath(v interface{}, path string) (interface{}, bool) {
	if path == RootPath || path == "" {
		return v, true
	}
	cur := v
	for _, key := range splitPath(path) {
		child, ok := getChild(cur, key)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

func getChild(v interface{}, key string) (interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		child, ok := t[key]
		return child, ok
	case []interface{}:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	default:
		return nil, false
	}
}

// setPath writes a value at a dotted path and returns the (possibly
// replaced) root. Missing intermediates are created as mappings; a
// numeric key on a sequence extends it with nulls as needed.
func setPath(v interface{}, path string, value interface{}) interface{} {
	if path == RootPath || path == "" {
		return value
	}
	return setSegments(v, splitPath(path), value)
}

func setSegments(v interface{}, segs []string, value interface{}) interface{} {
	key := segs[0]
	if len(segs) == 1 {
		return setChild(v, key, value)
	}
	child, _ := getChild(v, key)
	return setChild(v, key, setSegments(child, segs[1:], value))
}

func setChild(v interface{}, key string, value interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		t[key] = value
		return t
	case []interface{}:
		if i, err := strconv.Atoi(key); err == nil && i >= 0 {
			for len(t) <= i {
				t = append(t, nil)
			}
			t[i] = value
			return t
		}
		// Non-numeric key on a sequence replaces it with a mapping.
		return map[string]interface{}{key: value}
	default:
		return map[string]interface{}{key: value}
	}
}

// unsetPath removes the value at a dotted path and returns the root.
// Removing the root yields null. Emptied ancestors are left in place.
func unsetPath(v interface{}, path string) interface{} {
	if path == RootPath || path == "" {
		return nil
	}
	return unsetSegments(v, splitPath(path))
}

func unsetSegments(v interface{}, segs []string) interface{} {
	key := segs[0]
	switch t := v.(type) {
	case map[string]interface{}:
		if len(segs) == 1 {
			delete(t, key)
			return t
		}
		child, ok := t[key]
		if !ok {
			return t
		}
		t[key] = unsetSegments(child, segs[1:])
		return t
	case []interface{}:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return t
		}
		if len(segs) == 1 {
			return append(t[:i], t[i+1:]...)
		}
		t[i] = unsetSegments(t[i], segs[1:])
		return t
	default:
		return v
	}
}

// sortPathsForDelete orders deletion paths so that within a common
// parent, higher sequence indices are removed before lower ones.
// Removing index 3 before index 2 keeps both positions valid.
func sortPathsForDelete(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		return pathCompare(paths[i], paths[j]) > 0
	})
}

// pathCompare orders paths segment-wise, comparing numeric segments by
// value so that "10" sorts after "2".
func pathCompare(a, b string) int {
	as, bs := splitPath(a), splitPath(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai < bi {
				return -1
			}
			return 1
		}
		if as[i] < bs[i] {
			return -1
		}
		return 1
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// deepCopy clones a structured value. Primitives are shared; maps and
// sequences are copied recursively.
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
