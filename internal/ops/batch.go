package ops

import (
	"context"
	"log/slog"
	"time"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/repolog"
	"github.com/coralrepo/coral/internal/store"
	"github.com/coralrepo/coral/internal/transient"
)

// Deps collects the batch's collaborators (spec §4.5: "it holds a reference
// to the (transient) state manager, the hierarchy resolver, the node-type
// registry, and oracles for access, lock, and version status").
type Deps struct {
	Transient *transient.Manager
	Hierarchy *hierarchy.Resolver
	Types     *nodetype.Registry
	Persisted store.PersistentStore

	Access   store.AccessOracle
	Locks    store.LockOracle
	Versions store.VersionOracle

	Log *slog.Logger

	// Now returns the current instant, used for system-generated DATE
	// property values (spec §4.5.6). Defaults to time.Now; tests may
	// override it for deterministic fixtures.
	Now func() time.Time

	// BlobSpillThresholdBytes is the inline BINARY payload size above which
	// AddProperty/SetPropertyValue spill the value into Persisted.Blobs()
	// instead of keeping it inline (spec §3 "Binary"). 0 disables spilling,
	// so a zero-value Deps (as in tests that don't care about blob storage)
	// keeps every BINARY value inline.
	BlobSpillThresholdBytes int64
}

// Batch is the operation layer of spec §4.5, one per session.
type Batch struct {
	d Deps
}

func New(d Deps) *Batch {
	if d.Log == nil {
		d.Log = repolog.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Batch{d: d}
}

func (b *Batch) checkAccess(ctx context.Context, opts Option, id ids.ItemId, perm store.Permission) error {
	if !opts.Has(CheckAccess) || b.d.Access == nil {
		return nil
	}
	granted, err := b.d.Access.IsGranted(ctx, id, perm)
	if err != nil {
		return repoerr.Wrap(repoerr.AccessDenied, err, "check access on %s", id)
	}
	if !granted {
		return repoerr.New(repoerr.AccessDenied, "access denied on %s", id)
	}
	return nil
}

func (b *Batch) checkLock(ctx context.Context, opts Option, path string) error {
	if !opts.Has(CheckLock) || b.d.Locks == nil {
		return nil
	}
	if err := b.d.Locks.CheckLock(ctx, path, ""); err != nil {
		return repoerr.Wrap(repoerr.Lock, err, "lock check on %s", path)
	}
	return nil
}

func (b *Batch) checkCheckedOut(ctx context.Context, opts Option, path string) error {
	if !opts.Has(CheckVersioning) || b.d.Versions == nil {
		return nil
	}
	ok, err := b.d.Versions.IsCheckedOut(ctx, path)
	if err != nil {
		return repoerr.Wrap(repoerr.Version, err, "version check on %s", path)
	}
	if !ok {
		return repoerr.New(repoerr.Version, "%s is checked in", path)
	}
	return nil
}
