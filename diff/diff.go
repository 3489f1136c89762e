// Package diff implements a path-based diff algebra over structured
// values: generate a diff between two values, apply it, invert it,
// merge two diffs, and detect conflicting diffs. Sequences are diffed
// positionally; element identity is not tracked.
package diff

import (
	"sort"

	"github.com/myayush/temporal-db/cas"
)

// RootPath addresses the whole value.
const RootPath = "."

// Entry is one added or modified location.
type Entry struct {
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// Diff describes how one value differs from another as three
// path-disjoint lists. Each path is the minimal divergence point;
// ancestors of a listed path are not repeated.
type Diff struct {
	Added    []Entry  `json:"added"`
	Modified []Entry  `json:"modified"`
	Deleted  []string `json:"deleted"`
}

// Empty reports whether the diff describes no change.
func (d *Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// Generate computes the diff that transforms old into new.
func Generate(old, new interface{}) *Diff {
	d := &Diff{}
	generate(old, new, RootPath, d)
	return d
}

func generate(old, new interface{}, path string, d *Diff) {
	oldMap, oldIsMap := old.(map[string]interface{})
	newMap, newIsMap := new.(map[string]interface{})
	oldArr, oldIsArr := old.([]interface{})
	newArr, newIsArr := new.([]interface{})

	switch {
	case oldIsMap && newIsMap:
		generateKeyed(oldMap, newMap, path, d)
	case oldIsArr && newIsArr:
		generateKeyed(arrChildren(oldArr), arrChildren(newArr), path, d)
	default:
		// Primitive on both sides, or a composite replaced by a
		// different kind. Either way the divergence is at this path.
		if !cas.Equal(old, new) {
			d.Modified = append(d.Modified, Entry{Path: path, Value: new})
		}
	}
}

// generateKeyed diffs two composites of the same kind through their
// key -> child views.
func generateKeyed(old, new map[string]interface{}, path string, d *Diff) {
	for _, k := range sortedKeys(old) {
		child := joinPath(path, k)
		if _, ok := new[k]; !ok {
			d.Deleted = append(d.Deleted, child)
		}
	}
	for _, k := range sortedKeys(new) {
		child := joinPath(path, k)
		if _, ok := old[k]; !ok {
			d.Added = append(d.Added, Entry{Path: child, Value: new[k]})
			continue
		}
		generate(old[k], new[k], child, d)
	}
}

func arrChildren(arr []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(arr))
	for i, v := range arr {
		m[indexKey(i)] = v
	}
	return m
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Apply applies a diff to a value and returns the result. The input is
// not mutated. Deletions are applied first, then modifications, then
// additions. Setting a path whose intermediates are absent creates them
// as mappings; deleting a path does not prune emptied ancestors.
func Apply(v interface{}, d *Diff) interface{} {
	out := deepCopy(v)

	deleted := append([]string(nil), d.Deleted...)
	sortPathsForDelete(deleted)
	for _, p := range deleted {
		out = unsetPath(out, p)
	}
	for _, e := range d.Modified {
		out = setPath(out, e.Path, deepCopy(e.Value))
	}
	for _, e := range d.Added {
		out = setPath(out, e.Path, deepCopy(e.Value))
	}
	return out
}

// Invert produces the reverse of a diff with respect to the value it
// was generated from: applying the result to Apply(pre, d) restores pre.
func Invert(pre interface{}, d *Diff) *Diff {
	inv := &Diff{}
	for _, e := range d.Added {
		inv.Deleted = append(inv.Deleted, e.Path)
	}
	for _, p := range d.Deleted {
		if prev, ok := getPath(pre, p); ok {
			inv.Added = append(inv.Added, Entry{Path: p, Value: deepCopy(prev)})
		}
	}
	for _, e := range d.Modified {
		if prev, ok := getPath(pre, e.Path); ok {
			inv.Modified = append(inv.Modified, Entry{Path: e.Path, Value: deepCopy(prev)})
		}
	}
	return inv
}

// FindConflicts returns the sorted set of paths at which two diffs
// cannot both apply. Two diffs conflict at a path when both write it
// (equal written values still count; callers may collapse those), when
// one deletes it and the other writes it, or when one side touches an
// ancestor of a path the other side touches. For an ancestor-descendant
// pair the reported conflict is the ancestor path.
func FindConflicts(a, b *Diff) []string {
	aw, ad := touchedPaths(a)
	bw, bd := touchedPaths(b)

	seen := make(map[string]bool)
	var conflicts []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			conflicts = append(conflicts, p)
		}
	}

	for p := range aw {
		if bw[p] || bd[p] {
			add(p)
		}
	}
	for p := range ad {
		if bw[p] {
			add(p)
		}
	}

	// Structural conflicts: one side rewrites a subtree the other side
	// edits inside of.
	for _, pa := range pathSet(aw, ad) {
		for _, pb := range pathSet(bw, bd) {
			if isAncestor(pa, pb) {
				add(pa)
			} else if isAncestor(pb, pa) {
				add(pb)
			}
		}
	}

	sort.Strings(conflicts)
	return conflicts
}

// touchedPaths returns the written (added or modified) and deleted path
// sets of a diff.
func touchedPaths(d *Diff) (writes, deletes map[string]bool) {
	writes = make(map[string]bool)
	deletes = make(map[string]bool)
	for _, e := range d.Added {
		writes[e.Path] = true
	}
	for _, e := range d.Modified {
		writes[e.Path] = true
	}
	for _, p := range d.Deleted {
		deletes[p] = true
	}
	return writes, deletes
}

func pathSet(writes, deletes map[string]bool) []string {
	out := make([]string, 0, len(writes)+len(deletes))
	for p := range writes {
		out = append(out, p)
	}
	for p := range deletes {
		out = append(out, p)
	}
	return out
}

// Merge combines two diffs into one. Where the diffs conflict, entries
// from the second diff win; conflicting entries of the first diff are
// dropped, including entries above or below a conflicting path.
func Merge(a, b *Diff) *Diff {
	conflicts := FindConflicts(a, b)
	cleaned := Prune(a, conflicts)

	out := &Diff{
		Added:    append(append([]Entry(nil), cleaned.Added...), b.Added...),
		Modified: append(append([]Entry(nil), cleaned.Modified...), b.Modified...),
		Deleted:  append(append([]string(nil), cleaned.Deleted...), b.Deleted...),
	}
	return out
}

// Prune returns a copy of the diff with every entry removed whose path
// equals one of the given paths, descends from one, or is an ancestor
// of one.
func Prune(d *Diff, paths []string) *Diff {
	if len(paths) == 0 {
		return &Diff{
			Added:    append([]Entry(nil), d.Added...),
			Modified: append([]Entry(nil), d.Modified...),
			Deleted:  append([]string(nil), d.Deleted...),
		}
	}

	keep := func(p string) bool {
		for _, c := range paths {
			if p == c || isAncestor(c, p) || isAncestor(p, c) {
				return false
			}
		}
		return true
	}

	out := &Diff{}
	for _, e := range d.Added {
		if keep(e.Path) {
			out.Added = append(out.Added, e)
		}
	}
	for _, e := range d.Modified {
		if keep(e.Path) {
			out.Modified = append(out.Modified, e)
		}
	}
	for _, p := range d.Deleted {
		if keep(p) {
			out.Deleted = append(out.Deleted, p)
		}
	}
	return out
}
