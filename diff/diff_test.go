package diff

import (
	"reflect"
	"sort"
	"testing"

	"github.com/myayush/temporal-db/cas"
)

func norm(t *testing.T, v interface{}) interface{} {
	t.Helper()
	out, err := cas.Normalize(v)
	if err != nil {
		t.Fatalf("normalizing: %v", err)
	}
	return out
}

func TestGenerate_NoChange(t *testing.T) {
	v := norm(t, map[string]interface{}{"a": 1, "b": []interface{}{1, 2}})
	d := Generate(v, v)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestGenerate_AddModifyDelete(t *testing.T) {
	old := norm(t, map[string]interface{}{"a": 1, "b": map[string]interface{}{"c": 2, "d": 3}})
	new := norm(t, map[string]interface{}{"a": 1, "b": map[string]interface{}{"c": 5, "e": 4}})

	d := Generate(old, new)

	if len(d.Added) != 1 || d.Added[0].Path != "b.e" || d.Added[0].Value != 4.0 {
		t.Errorf("added = %+v, want [{b.e 4}]", d.Added)
	}
	if len(d.Modified) != 1 || d.Modified[0].Path != "b.c" || d.Modified[0].Value != 5.0 {
		t.Errorf("modified = %+v, want [{b.c 5}]", d.Modified)
	}
	if !reflect.DeepEqual(d.Deleted, []string{"b.d"}) {
		t.Errorf("deleted = %v, want [b.d]", d.Deleted)
	}
}

func TestGenerate_TypeMismatchDoesNotRecurse(t *testing.T) {
	old := norm(t, map[string]interface{}{"x": map[string]interface{}{"a": 1, "b": 2}})
	new := norm(t, map[string]interface{}{"x": []interface{}{1, 2}})

	d := Generate(old, new)
	if len(d.Modified) != 1 || d.Modified[0].Path != "x" {
		t.Errorf("modified = %+v, want single entry at x", d.Modified)
	}
	if len(d.Added) != 0 || len(d.Deleted) != 0 {
		t.Errorf("type mismatch should not descend: %+v", d)
	}
}

func TestGenerate_RootReplaced(t *testing.T) {
	old := norm(t, map[string]interface{}{"a": 1})
	new := norm(t, "scalar")

	d := Generate(old, new)
	if len(d.Modified) != 1 || d.Modified[0].Path != RootPath {
		t.Errorf("modified = %+v, want single entry at root", d.Modified)
	}
}

func TestGenerate_Arrays(t *testing.T) {
	old := norm(t, []interface{}{1, 2, 3})
	new := norm(t, []interface{}{1, 9})

	d := Generate(old, new)
	if len(d.Modified) != 1 || d.Modified[0].Path != "1" || d.Modified[0].Value != 9.0 {
		t.Errorf("modified = %+v, want [{1 9}]", d.Modified)
	}
	if !reflect.DeepEqual(d.Deleted, []string{"2"}) {
		t.Errorf("deleted = %v, want [2]", d.Deleted)
	}
}

func TestApply_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		old, new interface{}
	}{
		{"flat change", map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2}},
		{"nested", map[string]interface{}{"a": 1, "b": map[string]interface{}{"c": 2, "d": 3}},
			map[string]interface{}{"a": 1, "b": map[string]interface{}{"c": 5, "e": 4}}},
		{"root type change", map[string]interface{}{"a": 1}, []interface{}{1, 2}},
		{"array shrink", []interface{}{1, 2, 3, 4}, []interface{}{1}},
		{"array grow", []interface{}{1}, []interface{}{1, 2, 3}},
		{"deep add", map[string]interface{}{}, map[string]interface{}{"a": map[string]interface{}{"b": map[string]interface{}{"c": 1}}}},
		{"to null", map[string]interface{}{"a": 1}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := norm(t, tt.old)
			new := norm(t, tt.new)

			d := Generate(old, new)
			got := Apply(old, d)
			if !cas.Equal(got, new) {
				t.Errorf("apply(old, generate(old, new)) = %v, want %v", got, new)
			}
		})
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	old := norm(t, map[string]interface{}{"a": map[string]interface{}{"b": 1}})
	snapshot := deepCopy(old)

	d := Generate(old, norm(t, map[string]interface{}{"a": map[string]interface{}{"b": 2}}))
	Apply(old, d)

	if !cas.Equal(old, snapshot) {
		t.Errorf("Apply mutated its input: %v", old)
	}
}

func TestApply_DeletedParentNotPruned(t *testing.T) {
	v := norm(t, map[string]interface{}{"a": map[string]interface{}{"b": 1, "c": 2}})
	got := Apply(v, &Diff{Deleted: []string{"a.b"}})

	want := norm(t, map[string]interface{}{"a": map[string]interface{}{"c": 2}})
	if !cas.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Deleting the last child leaves the empty parent in place.
	got = Apply(got, &Diff{Deleted: []string{"a.c"}})
	want = norm(t, map[string]interface{}{"a": map[string]interface{}{}})
	if !cas.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestApply_CreatesIntermediates(t *testing.T) {
	got := Apply(norm(t, map[string]interface{}{}), &Diff{
		Added: []Entry{{Path: "a.b.c", Value: 7.0}},
	})
	want := norm(t, map[string]interface{}{
		"a": map[string]interface{}{"b": map[string]interface{}{"c": 7}},
	})
	if !cas.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestInvert_RoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		old, new interface{}
	}{
		{"modify", map[string]interface{}{"a": 1}, map[string]interface{}{"a": 2}},
		{"add and delete", map[string]interface{}{"a": 1, "b": 2}, map[string]interface{}{"b": 2, "c": 3}},
		{"nested mix", map[string]interface{}{"a": 1, "b": map[string]interface{}{"c": 2, "d": 3}},
			map[string]interface{}{"a": 1, "b": map[string]interface{}{"c": 5, "e": 4}}},
		{"array", []interface{}{1, 2, 3}, []interface{}{3, 2}},
		{"root replace", map[string]interface{}{"a": 1}, "scalar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := norm(t, tt.old)
			new := norm(t, tt.new)

			d := Generate(old, new)
			inv := Invert(old, d)

			back := Apply(Apply(old, d), inv)
			if !cas.Equal(back, old) {
				t.Errorf("invert round trip = %v, want %v", back, old)
			}
		})
	}
}

func TestFindConflicts_WriteWrite(t *testing.T) {
	a := &Diff{Modified: []Entry{{Path: "v", Value: "x"}}}
	b := &Diff{Modified: []Entry{{Path: "v", Value: "y"}}}

	got := FindConflicts(a, b)
	if !reflect.DeepEqual(got, []string{"v"}) {
		t.Errorf("conflicts = %v, want [v]", got)
	}
}

func TestFindConflicts_EqualWritesStillConflict(t *testing.T) {
	// Conflict detection is value-blind; callers may collapse equal
	// writes themselves.
	a := &Diff{Added: []Entry{{Path: "v", Value: 1.0}}}
	b := &Diff{Added: []Entry{{Path: "v", Value: 1.0}}}

	if got := FindConflicts(a, b); len(got) != 1 {
		t.Errorf("conflicts = %v, want [v]", got)
	}
}

func TestFindConflicts_DeleteVsWrite(t *testing.T) {
	a := &Diff{Deleted: []string{"user.name"}}
	b := &Diff{Modified: []Entry{{Path: "user.name", Value: "ada"}}}

	if got := FindConflicts(a, b); !reflect.DeepEqual(got, []string{"user.name"}) {
		t.Errorf("conflicts = %v, want [user.name]", got)
	}
}

func TestFindConflicts_AncestorDescendant(t *testing.T) {
	// One side replaces the subtree wholesale, the other edits inside
	// it. The conflict is reported at the ancestor.
	a := &Diff{Modified: []Entry{{Path: "user", Value: map[string]interface{}{"name": "new"}}}}
	b := &Diff{Modified: []Entry{{Path: "user.name", Value: "ada"}}}

	if got := FindConflicts(a, b); !reflect.DeepEqual(got, []string{"user"}) {
		t.Errorf("conflicts = %v, want [user]", got)
	}

	// Symmetric: deep write on the first side.
	if got := FindConflicts(b, a); !reflect.DeepEqual(got, []string{"user"}) {
		t.Errorf("conflicts = %v, want [user]", got)
	}
}

func TestFindConflicts_RootVsAnything(t *testing.T) {
	a := &Diff{Modified: []Entry{{Path: RootPath, Value: map[string]interface{}{}}}}
	b := &Diff{Added: []Entry{{Path: "x", Value: 1.0}}}

	if got := FindConflicts(a, b); !reflect.DeepEqual(got, []string{RootPath}) {
		t.Errorf("conflicts = %v, want [%s]", got, RootPath)
	}
}

func TestFindConflicts_DisjointPathsDoNotConflict(t *testing.T) {
	a := &Diff{Modified: []Entry{{Path: "a.b", Value: 1.0}}, Deleted: []string{"x"}}
	b := &Diff{Added: []Entry{{Path: "a.c", Value: 2.0}}, Deleted: []string{"y"}}

	if got := FindConflicts(a, b); len(got) != 0 {
		t.Errorf("conflicts = %v, want none", got)
	}

	// Deleting the same path on both sides is not a conflict.
	a = &Diff{Deleted: []string{"z"}}
	b = &Diff{Deleted: []string{"z"}}
	if got := FindConflicts(a, b); len(got) != 0 {
		t.Errorf("delete/delete conflicts = %v, want none", got)
	}
}

func TestMerge_SecondWins(t *testing.T) {
	base := norm(t, map[string]interface{}{"v": "base", "keep": 1})
	a := &Diff{Modified: []Entry{{Path: "v", Value: "a"}}, Added: []Entry{{Path: "onlyA", Value: true}}}
	b := &Diff{Modified: []Entry{{Path: "v", Value: "b"}}}

	merged := Merge(a, b)
	got := Apply(base, merged)

	want := norm(t, map[string]interface{}{"v": "b", "keep": 1, "onlyA": true})
	if !cas.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPrune(t *testing.T) {
	d := &Diff{
		Added:    []Entry{{Path: "a.b", Value: 1.0}, {Path: "x", Value: 2.0}},
		Modified: []Entry{{Path: "a", Value: 3.0}},
		Deleted:  []string{"a.b.c", "y"},
	}

	out := Prune(d, []string{"a.b"})

	// Everything at, below, or above a.b is dropped.
	if len(out.Added) != 1 || out.Added[0].Path != "x" {
		t.Errorf("added = %+v, want [{x 2}]", out.Added)
	}
	if len(out.Modified) != 0 {
		t.Errorf("modified = %+v, want empty", out.Modified)
	}
	if !reflect.DeepEqual(out.Deleted, []string{"y"}) {
		t.Errorf("deleted = %v, want [y]", out.Deleted)
	}
}

func TestGetSet(t *testing.T) {
	v := norm(t, map[string]interface{}{"a": map[string]interface{}{"b": []interface{}{1, 2}}})

	got, ok := Get(v, "a.b.1")
	if !ok || got != 2.0 {
		t.Errorf("Get(a.b.1) = %v, %v", got, ok)
	}
	if _, ok := Get(v, "a.missing"); ok {
		t.Error("Get of absent path reported present")
	}
	if got, ok := Get(v, RootPath); !ok || !cas.Equal(got, v) {
		t.Errorf("Get(root) = %v, %v", got, ok)
	}

	out := Set(v, "a.b.0", 9.0)
	if got, _ := Get(out, "a.b.0"); got != 9.0 {
		t.Errorf("Set did not take: %v", out)
	}
	if got, _ := Get(v, "a.b.0"); got != 1.0 {
		t.Errorf("Set mutated its input: %v", v)
	}
}

func TestPathCompare_NumericSegments(t *testing.T) {
	paths := []string{"items.10", "items.2", "items.1"}
	sort.Slice(paths, func(i, j int) bool { return pathCompare(paths[i], paths[j]) < 0 })

	want := []string{"items.1", "items.2", "items.10"}
	if !reflect.DeepEqual(paths, want) {
		t.Errorf("sorted = %v, want %v", paths, want)
	}
}
