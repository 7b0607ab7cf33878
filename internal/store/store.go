// Package store is the versioned, append-only record of job metadata and
// artifacts. The canonical implementation is a git repository with a work
// tree; Memory backs tests.
//
// Info writes inside one Scope commit together or not at all. A partial
// set of keys from a scope is never observable. Writes after Close fail
// with ErrClosed; a failed scope commit is fatal to the caller, state
// consistency cannot be guaranteed otherwise.
package store

import "errors"

// ErrClosed is returned by any write after the store is finalized.
var ErrClosed = errors.New("store closed")

// Store is the job record consumed by the supervisor.
type Store interface {
	// BeginScope opens a write transaction. Staged info writes become
	// visible only when Commit is called.
	BeginScope(label string) Scope

	// SetInfo writes one key/value immediately, outside any scope.
	SetInfo(key string, value any) error

	// HasFile checks the committed tree, not the work tree.
	HasFile(path string) bool

	// CommitFile stages and commits a file previously written to the
	// work tree. The path is relative to the work tree root.
	CommitFile(path string) error

	// Fetch and Restore cover the checkout phase of a run.
	Fetch(id string) error
	Restore(id string) error

	// RemoteURL looks up the URL of a named remote.
	RemoteURL(name string) (string, error)

	// BaseCommand is the invocation string a nested supervisor uses to
	// reach the same store.
	BaseCommand() string

	// WorkTree is the filesystem root the job command executes in.
	WorkTree() string

	Close() error
}

// Scope batches info writes into one transaction.
type Scope interface {
	SetInfo(key string, value any)
	Commit() error
}
