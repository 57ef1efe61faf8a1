// Package coral implements a hierarchical content-repository engine: a
// node-type registry, a process-wide workspace state manager over a
// pluggable persistent store, and per-session transient overlays with
// batched tree operations and a hierarchy-path resolver (spec §§1-2).
package coral

import (
	"context"
	"log/slog"
	"os"

	"github.com/gofrs/flock"

	"github.com/coralrepo/coral/internal/config"
	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/nodetype/builtin"
	"github.com/coralrepo/coral/internal/nodetype/defio"
	"github.com/coralrepo/coral/internal/ops"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/repolog"
	"github.com/coralrepo/coral/internal/store"
	"github.com/coralrepo/coral/internal/store/sqlitestore"
	"github.com/coralrepo/coral/internal/transient"
	"github.com/coralrepo/coral/internal/workspace"
)

// Repository is the process-wide, repository-scoped collection of
// singletons spec §9 calls out explicitly: the node-type registry and the
// workspace state manager. Every Session is constructed from one
// Repository (spec §9 "express as explicit values passed to every session
// constructor, not as ambient globals").
type Repository struct {
	cfg config.Config
	log *slog.Logger

	store     *sqlitestore.Store
	workspace *workspace.Manager
	types     *nodetype.Registry
	namespace *store.InMemoryNamespaces

	locks    store.LockOracle
	versions store.VersionOracle
	access   store.AccessOracle

	rootID ids.NodeId

	// typesPath is the TOML custom-node-type-definitions file (defio),
	// sitting alongside the SQLite store; empty when StorePath is (in-memory
	// store, tests only), in which case custom types don't survive Close.
	typesPath string
}

// Open constructs a Repository from cfg: opens (or creates) the SQLite-
// backed persistent store, loads the built-in node-type set, and seeds a
// root node if the store is empty.
func Open(ctx context.Context, cfg config.Config) (*Repository, error) {
	log := repolog.New(repolog.Options{Path: cfg.LogPath})

	backing, err := sqlitestore.Open(ctx, cfg.StorePath, log)
	if err != nil {
		return nil, err
	}

	ns := store.NewInMemoryNamespaces()
	for prefix, uri := range cfg.PreregisteredNamespaces {
		ns.Register(prefix, uri)
	}

	builtinDefs, err := builtin.Load()
	if err != nil {
		backing.Close()
		return nil, repoerr.Wrap(repoerr.Internal, err, "load built-in node types")
	}
	types := nodetype.New(builtinDefs, ns, nil, log)

	ws := workspace.New(backing, log, cfg.StorePath)

	r := &Repository{
		cfg:       cfg,
		log:       log,
		store:     backing,
		workspace: ws,
		types:     types,
		namespace: ns,
		locks:     store.NoLocks{},
		versions:  store.AlwaysCheckedOut{},
		access:    store.AllowAllAccess{},
	}
	if cfg.StorePath != "" {
		r.typesPath = cfg.StorePath + ".types.toml"
	}

	if err := r.loadCustomTypes(); err != nil {
		backing.Close()
		return nil, err
	}

	if err := r.ensureRoot(ctx); err != nil {
		backing.Close()
		return nil, err
	}
	return r, nil
}

// loadCustomTypes restores the custom node-type store from its TOML file
// (spec §4.1 "custom (persisted)"), if one exists. A repository with no
// StorePath keeps custom types in memory only, for tests.
func (r *Repository) loadCustomTypes() error {
	if r.typesPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.typesPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "read custom node-type definitions")
	}
	defs, err := defio.Decode(data)
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "decode custom node-type definitions")
	}
	if len(defs) == 0 {
		return nil
	}
	return r.types.RegisterBatch(defs)
}

// RegisterNodeTypes registers def against the registry and, unlike a bare
// Registry.Register, persists the whole custom-definitions store to disk
// immediately: node-type registration is repository-wide and permanent, not
// part of a session's transient overlay (spec §4.1).
func (r *Repository) RegisterNodeTypes(defs ...nodetype.Def) error {
	if err := r.types.RegisterBatch(defs); err != nil {
		return err
	}
	return r.persistCustomTypes()
}

func (r *Repository) persistCustomTypes() error {
	if r.typesPath == "" {
		return nil
	}
	lock := flock.New(r.typesPath + ".lock")
	if err := lock.Lock(); err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "lock custom node-type definitions file")
	}
	defer lock.Unlock()

	data, err := defio.Encode(r.types.CustomDefs())
	if err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "encode custom node-type definitions")
	}
	if err := os.WriteFile(r.typesPath, data, 0o644); err != nil {
		return repoerr.Wrap(repoerr.Internal, err, "write custom node-type definitions")
	}
	return nil
}

// rootNodeID is the repository root's well-known, fixed identity: the zero
// NodeId. Every repository has exactly one root, created on first Open.
var rootNodeID = ids.NodeId{}

// ensureRoot loads the root node if the store already has one, or creates
// it (typed nt:unstructured, no parents) on first open. nt:unstructured
// rather than the bare root type so the root accepts arbitrary children
// without a dedicated root node-type of its own.
func (r *Repository) ensureRoot(ctx context.Context) error {
	r.rootID = rootNodeID
	exists, err := r.store.Exists(ctx, ids.NewNodeItemId(rootNodeID))
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	root := &itemstate.NodeState{
		ID:          rootNodeID,
		PrimaryType: nodetype.Unstructured,
	}
	change := &itemstate.ChangeLog{New: []*itemstate.NodeOrPropertyState{itemstate.WrapNode(root)}}
	return r.workspace.Execute(ctx, change)
}

// Types returns the repository's node-type registry.
func (r *Repository) Types() *nodetype.Registry { return r.types }

// Namespaces returns the repository's namespace registry.
func (r *Repository) Namespaces() *store.InMemoryNamespaces { return r.namespace }

// AddListener registers an observation callback (spec §6 "Observation
// callback").
func (r *Repository) AddListener(l store.Listener) { r.workspace.AddListener(l) }

// References returns the references-index entry for id: every property
// currently holding a REFERENCE value that points at it (spec §3 "Change
// log", testable property "references index").
func (r *Repository) References(ctx context.Context, id ids.NodeId) (*store.NodeReferences, error) {
	return r.workspace.GetReferences(ctx, id)
}

// Close disposes the workspace manager and the underlying store.
func (r *Repository) Close() error { return r.workspace.Close() }

// Session is a single-session façade tying the transient state manager, the
// hierarchy resolver, and the operation layer together (spec §2 "data
// flow").
type Session struct {
	repo      *Repository
	transient *transient.Manager
	hierarchy *hierarchy.Resolver
	ops       *ops.Batch
}

// NewSession opens a session against the repository's root node.
func (r *Repository) NewSession() *Session {
	tr := transient.New(r.workspace, r.types, r.log)
	hr := hierarchy.New(tr, r.rootID)
	batch := ops.New(ops.Deps{
		Transient:               tr,
		Hierarchy:               hr,
		Types:                   r.types,
		Persisted:               r.store,
		Access:                  r.access,
		Locks:                   r.locks,
		Versions:                r.versions,
		Log:                     r.log,
		BlobSpillThresholdBytes: r.cfg.BlobSpillThresholdBytes,
	})
	return &Session{repo: r, transient: tr, hierarchy: hr, ops: batch}
}

// Root returns the repository's root node id.
func (s *Session) Root() ids.NodeId { return s.repo.rootID }

// Resolve turns a path string into an item id (spec §4.6).
func (s *Session) Resolve(ctx context.Context, path string) (ids.ItemId, error) {
	p, err := hierarchy.Parse(path)
	if err != nil {
		return ids.ItemId{}, err
	}
	return s.hierarchy.ResolveItem(ctx, p)
}

// PathOf returns the current path of id (spec §4.6).
func (s *Session) PathOf(ctx context.Context, id ids.NodeId) (string, error) {
	p, err := s.hierarchy.PathOf(ctx, id)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// Node returns the session's transient-or-pulled view of id.
func (s *Session) Node(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	return s.transient.GetNodeState(ctx, id)
}

// Property returns the session's transient-or-pulled view of id.
func (s *Session) Property(ctx context.Context, id ids.PropertyId) (*itemstate.PropertyState, error) {
	return s.transient.GetPropertyState(ctx, id)
}

// Ops exposes the batched item-operation layer (spec §4.5) for this session.
func (s *Session) Ops() *ops.Batch { return s.ops }

// Save commits the subtree rooted at root (spec §4.4).
func (s *Session) Save(ctx context.Context, root ids.NodeId) error {
	return s.transient.Save(ctx, root, func(item ids.ItemId) string {
		var id ids.NodeId
		if item.IsNode() {
			id = item.NodeID()
		} else {
			id = item.PropertyID().Parent
		}
		p, err := s.hierarchy.PathOf(ctx, id)
		if err != nil {
			return ""
		}
		if item.IsProperty() {
			return p.String() + "/" + item.PropertyID().Name.String()
		}
		return p.String()
	})
}

// Revert discards the transient overlay under root (spec §4.3 revert).
func (s *Session) Revert(ctx context.Context, root ids.NodeId) error {
	return s.transient.Revert(ctx, root)
}
