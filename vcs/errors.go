package vcs

import (
	"errors"

	"github.com/myayush/temporal-db/merkle"
	"github.com/myayush/temporal-db/store"
)

var (
	// ErrNotInitialized is returned by engine operations before Init.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrDetachedHead is returned when HEAD does not point at a branch
	// ref. The engine never writes such a HEAD; seeing one means the
	// refs namespace was modified out of band.
	ErrDetachedHead = errors.New("HEAD does not point at a branch")

	// ErrRefExists is returned when creating a branch whose name is
	// already taken.
	ErrRefExists = errors.New("ref already exists")

	// ErrProtectedBranch is returned when deleting the default branch
	// or the currently checked-out branch.
	ErrProtectedBranch = errors.New("branch is protected")

	// ErrNoAncestorBefore is returned by time-travel when the branch
	// has no commit at or before the requested time.
	ErrNoAncestorBefore = errors.New("no commit at or before requested time")

	// ErrMergeAlreadyApplied is returned by terminal operations on a
	// settled merge result.
	ErrMergeAlreadyApplied = errors.New("merge result already settled")

	// ErrUnresolvedConflicts is returned when applying a merge that
	// still has conflicts, or resolving without resolutions.
	ErrUnresolvedConflicts = errors.New("merge has unresolved conflicts")
)

// Storage-layer error kinds surface unchanged through the engine.
var (
	ErrRefNotFound    = store.ErrRefNotFound
	ErrCommitNotFound = store.ErrCommitNotFound
	ErrCorruptObject  = merkle.ErrCorruptObject
)
