// Package vcs implements the versioning engine: branches, HEAD,
// commits, history, point-in-time retrieval and three-way merge over
// content-addressed snapshots of structured values.
package vcs

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/myayush/temporal-db/cas"
	"github.com/myayush/temporal-db/diff"
	"github.com/myayush/temporal-db/merkle"
	"github.com/myayush/temporal-db/store"
)

const (
	// DefaultBranch is the branch created by Init.
	DefaultBranch = "main"

	// DefaultMessage is used when a commit message is omitted.
	DefaultMessage = "Update"

	headRef         = "HEAD"
	branchRefPrefix = "branch/"
)

// Engine is a long-lived handle onto one versioned database. Lifecycle
// is Open -> Init -> operations -> Close. Operations serialize through
// the engine; cross-process writers racing on the same branch ref are
// not coordinated.
type Engine struct {
	db          *store.DB
	name        string
	initialized bool
}

// Open opens the engine for the named database under dir, creating the
// backing store if needed. Init must be called before any versioning
// operation.
func Open(dir, name string) (*Engine, error) {
	db, err := store.OpenDir(dir, name)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, name: name}, nil
}

// Close releases the backing store.
func (e *Engine) Close() error {
	e.initialized = false
	return e.db.Close()
}

// Name returns the database name the engine is bound to.
func (e *Engine) Name() string {
	return e.name
}

// Init creates the default branch with an empty root commit and points
// HEAD at it. Re-initializing an existing database is a no-op.
func (e *Engine) Init() error {
	exists, err := e.db.HasRef(branchRefPrefix + DefaultBranch)
	if err != nil {
		return err
	}
	if exists {
		e.initialized = true
		return nil
	}

	tree, err := merkle.FromValue(map[string]interface{}{})
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rootHash, err := merkle.Store(e.writer(tx), tree)
	if err != nil {
		return err
	}

	c := &store.Commit{
		Hash:      rootHash,
		Branch:    DefaultBranch,
		Message:   "Initial commit",
		Timestamp: cas.NowMs(),
		RootHash:  rootHash,
	}
	if err := e.db.SaveCommit(tx, c); err != nil {
		return err
	}
	if err := e.db.SaveRef(tx, branchRefPrefix+DefaultBranch, c.Hash); err != nil {
		return err
	}
	if err := e.db.SaveRef(tx, headRef, branchRefPrefix+DefaultBranch); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.initialized = true
	return nil
}

func (e *Engine) requireInit() error {
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

// writer adapts a store transaction to the merkle object-writer
// interface.
func (e *Engine) writer(tx *sql.Tx) merkle.ObjectWriter {
	return txWriter{db: e.db, tx: tx}
}

type txWriter struct {
	db *store.DB
	tx *sql.Tx
}

func (w txWriter) PutObject(hash string, data []byte) error {
	return w.db.PutObject(w.tx, hash, data)
}

func (w txWriter) HasObject(hash string) (bool, error) {
	return w.db.HasObject(hash)
}

// ----- Branches and HEAD -----

// CurrentBranch returns the branch HEAD points at.
func (e *Engine) CurrentBranch() (string, error) {
	if err := e.requireInit(); err != nil {
		return "", err
	}
	target, err := e.db.GetRef(headRef)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(target, branchRefPrefix) {
		return "", fmt.Errorf("%w: HEAD is %q", ErrDetachedHead, target)
	}
	return strings.TrimPrefix(target, branchRefPrefix), nil
}

// ListBranches returns all branch names, sorted.
func (e *Engine) ListBranches() ([]string, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	refs, err := e.db.ListRefs(branchRefPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, strings.TrimPrefix(r.Name, branchRefPrefix))
	}
	return names, nil
}

// Branch creates a new branch pointing at the head of src. An empty
// src means the current branch. The new branch shares the source's
// history until their first divergent commit.
func (e *Engine) Branch(name, src string) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	src, err := e.resolveBranch(src)
	if err != nil {
		return err
	}

	exists, err := e.db.HasRef(branchRefPrefix + name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: branch %s", ErrRefExists, name)
	}

	head, err := e.branchHead(src)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.db.SaveRef(tx, branchRefPrefix+name, head); err != nil {
		return err
	}
	return tx.Commit()
}

// Checkout points HEAD at the named branch.
func (e *Engine) Checkout(name string) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	if _, err := e.branchHead(name); err != nil {
		return err
	}

	tx, err := e.db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.db.SaveRef(tx, headRef, branchRefPrefix+name); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteBranch removes a branch ref. The default branch and the
// currently checked-out branch cannot be deleted. Commits and objects
// reachable from the branch remain stored.
func (e *Engine) DeleteBranch(name string) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	if name == DefaultBranch {
		return fmt.Errorf("%w: cannot delete %s", ErrProtectedBranch, DefaultBranch)
	}
	current, err := e.CurrentBranch()
	if err != nil {
		return err
	}
	if name == current {
		return fmt.Errorf("%w: cannot delete the checked-out branch %s", ErrProtectedBranch, name)
	}
	return e.db.DeleteRef(branchRefPrefix + name)
}

// resolveBranch defaults an empty branch name to the current branch.
func (e *Engine) resolveBranch(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	return e.CurrentBranch()
}

// branchHead returns the commit hash a branch points at.
func (e *Engine) branchHead(name string) (string, error) {
	return e.db.GetRef(branchRefPrefix + name)
}

// ----- Commits -----

// Commit stores data as a new snapshot on a branch and advances the
// branch ref. An empty branch means the current branch; an empty
// message defaults to "Update". Committing a snapshot identical to the
// branch head with an empty message is a no-op returning the head
// commit.
func (e *Engine) Commit(branch string, data interface{}, message string) (*store.Commit, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	branch, err := e.resolveBranch(branch)
	if err != nil {
		return nil, err
	}

	value, err := cas.Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("normalizing data: %w", err)
	}
	return e.commitValue(branch, value, message)
}

// commitValue writes the snapshot tree, the commit record and the
// branch ref update in one transaction. Tree nodes land before the
// commit record, which lands before the ref update, so a crash never
// leaves a ref pointing at a missing commit.
func (e *Engine) commitValue(branch string, value interface{}, message string) (*store.Commit, error) {
	head, err := e.branchHead(branch)
	if err != nil {
		return nil, err
	}
	parent, err := e.db.GetCommit(head)
	if err != nil {
		return nil, err
	}

	tree, err := merkle.FromValue(value)
	if err != nil {
		return nil, err
	}

	if tree.RootHash == parent.RootHash && message == "" {
		return parent, nil
	}
	if message == "" {
		message = DefaultMessage
	}

	ts := cas.NowMs()
	hash, err := e.commitHash(tree.RootHash, parent.Hash, branch, message, ts)
	if err != nil {
		return nil, err
	}

	c := &store.Commit{
		Hash:      hash,
		Parent:    parent.Hash,
		Branch:    branch,
		Message:   message,
		Timestamp: ts,
		RootHash:  tree.RootHash,
	}

	tx, err := e.db.BeginTx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := merkle.Store(e.writer(tx), tree); err != nil {
		return nil, err
	}
	if err := e.db.SaveCommit(tx, c); err != nil {
		return nil, err
	}
	if err := e.db.SaveRef(tx, branchRefPrefix+branch, c.Hash); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// commitHash derives the commit identity. A commit is normally
// identified by its snapshot root; when that hash already names an
// existing commit (the snapshot reverts to an earlier state), the
// identity is salted with parent, branch, message and timestamp so the
// new commit stays distinct.
func (e *Engine) commitHash(rootHash, parent, branch, message string, ts int64) (string, error) {
	_, err := e.db.GetCommit(rootHash)
	if errors.Is(err, store.ErrCommitNotFound) {
		return rootHash, nil
	}
	if err != nil {
		return "", err
	}
	return cas.ValueHashHex(map[string]interface{}{
		"rootHash":  rootHash,
		"parent":    parent,
		"branch":    branch,
		"message":   message,
		"timestamp": ts,
	})
}

// History returns all commits attributed to a branch, newest first.
// Commits inherited from a source branch at branch time are attributed
// to the source branch and are not included.
func (e *Engine) History(branch string) ([]*store.Commit, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	branch, err := e.resolveBranch(branch)
	if err != nil {
		return nil, err
	}
	if _, err := e.branchHead(branch); err != nil {
		return nil, err
	}
	return e.db.CommitsForBranch(branch)
}

// ----- Reads -----

// Data returns the data at the head of the current branch.
func (e *Engine) Data() (interface{}, error) {
	branch, err := e.CurrentBranch()
	if err != nil {
		return nil, err
	}
	return e.BranchData(branch)
}

// BranchData returns the data at the head of a branch.
func (e *Engine) BranchData(name string) (interface{}, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	head, err := e.branchHead(name)
	if err != nil {
		return nil, err
	}
	return e.DataAtCommit(head)
}

// DataAtCommit returns the data snapshotted by a commit.
func (e *Engine) DataAtCommit(hash string) (interface{}, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	c, err := e.db.GetCommit(hash)
	if err != nil {
		return nil, err
	}
	return e.loadValue(c.RootHash)
}

// DataAt returns the data at the most recent commit on a branch with a
// timestamp at or before tsMs.
func (e *Engine) DataAt(branch string, tsMs int64) (interface{}, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	branch, err := e.resolveBranch(branch)
	if err != nil {
		return nil, err
	}
	if _, err := e.branchHead(branch); err != nil {
		return nil, err
	}

	commits, err := e.db.CommitsForBranch(branch)
	if err != nil {
		return nil, err
	}
	for _, c := range commits {
		if c.Timestamp <= tsMs {
			return e.loadValue(c.RootHash)
		}
	}
	return nil, fmt.Errorf("%w: branch %s at %d", ErrNoAncestorBefore, branch, tsMs)
}

// TreeDiff computes the structural Merkle diff between the snapshots
// of two commits.
func (e *Engine) TreeDiff(oldHash, newHash string) (*merkle.TreeDiff, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	oldCommit, err := e.db.GetCommit(oldHash)
	if err != nil {
		return nil, err
	}
	newCommit, err := e.db.GetCommit(newHash)
	if err != nil {
		return nil, err
	}

	oldTree, err := merkle.Load(e.db, oldCommit.RootHash)
	if err != nil {
		return nil, err
	}
	newTree, err := merkle.Load(e.db, newCommit.RootHash)
	if err != nil {
		return nil, err
	}
	return merkle.DiffTrees(oldTree, newTree), nil
}

// loadValue rebuilds the value stored under a Merkle root.
func (e *Engine) loadValue(rootHash string) (interface{}, error) {
	tree, err := merkle.Load(e.db, rootHash)
	if err != nil {
		return nil, err
	}
	return merkle.ToValue(tree)
}

// ----- Pure helpers -----

// Diff computes the path diff between two values.
func Diff(old, new interface{}) (*diff.Diff, error) {
	o, err := cas.Normalize(old)
	if err != nil {
		return nil, err
	}
	n, err := cas.Normalize(new)
	if err != nil {
		return nil, err
	}
	return diff.Generate(o, n), nil
}

// ApplyDiff applies a diff to a value.
func ApplyDiff(v interface{}, d *diff.Diff) (interface{}, error) {
	value, err := cas.Normalize(v)
	if err != nil {
		return nil, err
	}
	return diff.Apply(value, d), nil
}
