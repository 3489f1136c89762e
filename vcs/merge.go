// Three-way merge: ancestor discovery over parent chains, diff-based
// auto-merge, and the single-use MergeResult handle.

package vcs

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/myayush/temporal-db/cas"
	"github.com/myayush/temporal-db/diff"
	"github.com/myayush/temporal-db/store"
)

// Conflict is one location where source and target diverged from the
// ancestor incompatibly. Values are the data at the conflicting path in
// each of the three snapshots; a path absent from a snapshot reads as
// nil.
type Conflict struct {
	Path     string      `json:"path"`
	Ancestor interface{} `json:"ancestor,omitempty"`
	Source   interface{} `json:"source,omitempty"`
	Target   interface{} `json:"target,omitempty"`
}

// MergeResult is a computed three-way merge awaiting one of its three
// terminal operations: Apply, ResolveWith or Abort. Each result commits
// at most once.
type MergeResult struct {
	ID           string
	Source       string
	Target       string
	AncestorHash string
	SourceHash   string
	TargetHash   string
	Merged       interface{}
	Conflicts    []Conflict

	engine  *Engine
	applied bool
}

// Applied reports whether a terminal operation has settled the result.
func (m *MergeResult) Applied() bool {
	return m.applied
}

// Merge computes the three-way merge of source into target. An empty
// target means the current branch. Non-conflicting changes from source
// are pre-applied onto target's data; conflicting paths are surfaced
// on the returned result, which commits nothing until Apply or
// ResolveWith.
func (e *Engine) Merge(source, target string) (*MergeResult, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	target, err := e.resolveBranch(target)
	if err != nil {
		return nil, err
	}

	sourceHead, err := e.branchHead(source)
	if err != nil {
		return nil, err
	}
	targetHead, err := e.branchHead(target)
	if err != nil {
		return nil, err
	}

	result := &MergeResult{
		ID:         uuid.NewString(),
		Source:     source,
		Target:     target,
		SourceHash: sourceHead,
		TargetHash: targetHead,
		engine:     e,
	}

	// Identical heads (or merging a branch into itself) have nothing
	// to reconcile.
	if source == target || sourceHead == targetHead {
		result.AncestorHash = targetHead
		data, err := e.DataAtCommit(targetHead)
		if err != nil {
			return nil, err
		}
		result.Merged = data
		return result, nil
	}

	ancestor, err := e.commonAncestor(sourceHead, targetHead)
	if err != nil {
		return nil, err
	}
	result.AncestorHash = ancestor

	ancestorData, err := e.DataAtCommit(ancestor)
	if err != nil {
		return nil, err
	}
	sourceData, err := e.DataAtCommit(sourceHead)
	if err != nil {
		return nil, err
	}
	targetData, err := e.DataAtCommit(targetHead)
	if err != nil {
		return nil, err
	}

	sourceDiff := diff.Generate(ancestorData, sourceData)
	targetDiff := diff.Generate(ancestorData, targetData)
	conflicts := diff.FindConflicts(sourceDiff, targetDiff)

	cleaned := diff.Prune(sourceDiff, conflicts)
	result.Merged = diff.Apply(targetData, cleaned)

	for _, p := range conflicts {
		c := Conflict{Path: p}
		c.Ancestor, _ = diff.Get(ancestorData, p)
		c.Source, _ = diff.Get(sourceData, p)
		c.Target, _ = diff.Get(targetData, p)
		result.Conflicts = append(result.Conflicts, c)
	}
	return result, nil
}

// commonAncestor finds the lowest common ancestor of two heads by
// walking parent pointers from both, intersecting the ancestor sets,
// and picking the intersection member with the greatest timestamp.
// Disjoint histories fall back to the older chain's root commit.
func (e *Engine) commonAncestor(a, b string) (string, error) {
	chainA, err := e.parentChain(a)
	if err != nil {
		return "", err
	}
	chainB, err := e.parentChain(b)
	if err != nil {
		return "", err
	}

	inB := make(map[string]bool, len(chainB))
	for _, c := range chainB {
		inB[c.Hash] = true
	}

	var best *store.Commit
	for _, c := range chainA {
		if inB[c.Hash] && (best == nil || c.Timestamp > best.Timestamp) {
			best = c
		}
	}
	if best != nil {
		return best.Hash, nil
	}

	// No shared commit. Use the root of whichever history began
	// earlier.
	rootA := chainA[len(chainA)-1]
	rootB := chainB[len(chainB)-1]
	if rootA.Timestamp <= rootB.Timestamp {
		return rootA.Hash, nil
	}
	return rootB.Hash, nil
}

// parentChain returns the commit and all its ancestors, head first.
func (e *Engine) parentChain(hash string) ([]*store.Commit, error) {
	var chain []*store.Commit
	seen := make(map[string]bool)

	for hash != "" && !seen[hash] {
		seen[hash] = true
		c, err := e.db.GetCommit(hash)
		if err != nil {
			return nil, fmt.Errorf("walking parents: %w", err)
		}
		chain = append(chain, c)
		hash = c.Parent
	}
	return chain, nil
}

// Apply commits the merged data onto the target branch. It fails while
// conflicts remain and after the result has settled.
func (m *MergeResult) Apply(message string) (*store.Commit, error) {
	if m.applied {
		return nil, ErrMergeAlreadyApplied
	}
	if len(m.Conflicts) > 0 {
		return nil, fmt.Errorf("%w: %d conflicting paths", ErrUnresolvedConflicts, len(m.Conflicts))
	}
	return m.commit(message)
}

// ResolveWith sets the caller's chosen value at each resolved path on
// the merged data, then commits it onto the target branch. With
// outstanding conflicts, resolutions must be non-nil. A resolution for
// a non-conflicting path is accepted and overwrites the merged data
// there.
func (m *MergeResult) ResolveWith(resolutions map[string]interface{}, message string) (*store.Commit, error) {
	if m.applied {
		return nil, ErrMergeAlreadyApplied
	}
	if len(m.Conflicts) > 0 && resolutions == nil {
		return nil, fmt.Errorf("%w: resolutions required", ErrUnresolvedConflicts)
	}

	paths := make([]string, 0, len(resolutions))
	for p := range resolutions {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		value, err := cas.Normalize(resolutions[p])
		if err != nil {
			return nil, fmt.Errorf("normalizing resolution at %s: %w", p, err)
		}
		m.Merged = diff.Set(m.Merged, p, value)
	}
	return m.commit(message)
}

// Abort settles the result without committing. Nothing was persisted
// before Apply or ResolveWith, so there is nothing to undo.
func (m *MergeResult) Abort() error {
	if m.applied {
		return ErrMergeAlreadyApplied
	}
	m.applied = true
	return nil
}

func (m *MergeResult) commit(message string) (*store.Commit, error) {
	if message == "" {
		message = fmt.Sprintf("Merge branch '%s' into %s", m.Source, m.Target)
	}
	c, err := m.engine.commitValue(m.Target, m.Merged, message)
	if err != nil {
		return nil, err
	}
	m.applied = true
	return c, nil
}
