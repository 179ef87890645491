package store

import "errors"

// Sentinel errors surfaced to CLI and daemon callers. Check with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrAmbiguousID       = errors.New("ambiguous id")
	ErrCyclicDependency  = errors.New("cyclic dependency")
	ErrNoSuchDependency  = errors.New("no such dependency")
	ErrIllegalTransition = errors.New("illegal status transition")
)
