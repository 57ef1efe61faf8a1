// Package store declares the narrow external-collaborator interfaces of
// spec §6 (persistent store, namespace registry, lock/version/access
// oracles, observation callback) that the core consumes from or exposes to.
// The core depends only on these interfaces; internal/store/sqlitestore is
// one concrete implementation of PersistentStore.
package store

import (
	"context"
	"io"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
)

// NodeReferences enumerates the property ids currently holding a REFERENCE
// to Target (spec §3 "node references index").
type NodeReferences struct {
	Target     ids.NodeId
	Properties []ids.PropertyId
}

// BlobStore is the opaque byte-stream substore for spilled BINARY values.
type BlobStore interface {
	Put(ctx context.Context, id string, r io.Reader, size int64) error
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	Remove(ctx context.Context, id string) error
}

// PersistentStore is the byte-level collaborator of spec §6.1. Every method
// may block on I/O; NotFound conditions are reported via a
// repoerr.NoSuchItemState-kind error, not a boolean/ok pair, so the workspace
// state manager can wrap failures uniformly.
type PersistentStore interface {
	LoadNode(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error)
	LoadProperty(ctx context.Context, id ids.PropertyId) (*itemstate.PropertyState, error)
	LoadReferences(ctx context.Context, id ids.NodeId) (*NodeReferences, error)

	Exists(ctx context.Context, id ids.ItemId) (bool, error)

	// Execute atomically applies an entire change log: new/modified/removed
	// node and property rows plus reference-index deltas. On failure the
	// store is left exactly as it was before the call (spec §4.2 execute).
	Execute(ctx context.Context, log *itemstate.ChangeLog) error

	Blobs() BlobStore

	Close() error
}

// NamespaceRegistry is the §6.2 oracle.
type NamespaceRegistry interface {
	PrefixFor(uri string) (string, bool)
	URIFor(prefix string) (string, bool)
	IsRegistered(uri string) bool
}

// LockOracle is the §6.3 oracle.
type LockOracle interface {
	CheckLock(ctx context.Context, path string, session string) error
}

// VersionOracle is the §6.4 oracle.
type VersionOracle interface {
	IsCheckedOut(ctx context.Context, path string) (bool, error)
}

// Permission is one of the three access rights the §6.5 oracle is asked
// about.
type Permission int

const (
	Read Permission = iota
	Write
	Remove
)

// AccessOracle is the §6.5 oracle.
type AccessOracle interface {
	IsGranted(ctx context.Context, id ids.ItemId, perm Permission) (bool, error)
}

// Listener receives committed change events in commit order (spec §6
// "Observation callback"). Implementations must not block the workspace
// state manager for long; OnChange is called synchronously from Execute.
type Listener interface {
	OnChange(events []itemstate.Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(events []itemstate.Event)

func (f ListenerFunc) OnChange(events []itemstate.Event) { f(events) }
