// Package workspace implements the process-wide workspace state manager of
// spec §4.2: the authoritative, lazily-loaded view of persistent items,
// backed by a store.PersistentStore and shared by every session of one
// repository.
package workspace

import (
	"context"
	"log/slog"
	"sync"
	"weak"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/repolog"
	"github.com/coralrepo/coral/internal/store"
)

// Manager is the workspace state manager. One Manager is bound to one
// repository instance and shared by every session (spec §9 "global mutable
// state... express as explicit values passed to every session constructor").
type Manager struct {
	backing store.PersistentStore
	log     *slog.Logger

	mu    sync.Mutex
	cache map[ids.ItemId]weak.Pointer[itemstate.NodeOrPropertyState]

	listenersMu sync.Mutex
	listeners   []store.Listener

	watcher *Watcher
}

// New constructs a Manager over backing. If watchPath is non-empty, external
// writes to that file (another process sharing the same store) invalidate
// the cache so the next getItemState re-loads (spec §9 "external change").
func New(backing store.PersistentStore, log *slog.Logger, watchPath string) *Manager {
	if log == nil {
		log = repolog.Discard
	}
	m := &Manager{
		backing: backing,
		log:     log,
		cache:   make(map[ids.ItemId]weak.Pointer[itemstate.NodeOrPropertyState]),
	}
	if watchPath != "" {
		if w, err := NewWatcher(watchPath, m.invalidateAll); err != nil {
			log.Warn("external change detection disabled", "path", watchPath, "error", err)
		} else {
			m.watcher = w
		}
	}
	return m
}

// AddListener registers l to receive committed change events in commit
// order (spec §6 "Observation callback").
func (m *Manager) AddListener(l store.Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// getItemState returns the cached copy of id if its weak pointer is still
// live, else loads via the backing store and caches a fresh strong value
// behind a new weak pointer (spec §4.2 "strong keys and weak values").
func (m *Manager) getItemState(ctx context.Context, id ids.ItemId) (*itemstate.NodeOrPropertyState, error) {
	m.mu.Lock()
	if wp, ok := m.cache[id]; ok {
		if v := wp.Value(); v != nil {
			m.mu.Unlock()
			return v, nil
		}
		delete(m.cache, id)
	}
	m.mu.Unlock()

	wrapped, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[id] = weak.Make(wrapped)
	m.mu.Unlock()
	return wrapped, nil
}

// GetNodeState loads the persistent NodeState for id.
func (m *Manager) GetNodeState(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	w, err := m.getItemState(ctx, ids.NewNodeItemId(id))
	if err != nil {
		return nil, err
	}
	return w.Node, nil
}

// GetPropertyState loads the persistent PropertyState for id.
func (m *Manager) GetPropertyState(ctx context.Context, id ids.PropertyId) (*itemstate.PropertyState, error) {
	w, err := m.getItemState(ctx, ids.NewPropertyItemId(id))
	if err != nil {
		return nil, err
	}
	return w.Property, nil
}

func (m *Manager) load(ctx context.Context, id ids.ItemId) (*itemstate.NodeOrPropertyState, error) {
	if id.IsNode() {
		n, err := m.backing.LoadNode(ctx, id.NodeID())
		if err != nil {
			return nil, err
		}
		return itemstate.WrapNode(n), nil
	}
	p, err := m.backing.LoadProperty(ctx, id.PropertyID())
	if err != nil {
		return nil, err
	}
	return itemstate.WrapProperty(p), nil
}

// HasItemState is an existence check that does not populate the cache with
// a full body.
func (m *Manager) HasItemState(ctx context.Context, id ids.ItemId) (bool, error) {
	m.mu.Lock()
	if wp, ok := m.cache[id]; ok && wp.Value() != nil {
		m.mu.Unlock()
		return true, nil
	}
	m.mu.Unlock()
	return m.backing.Exists(ctx, id)
}

// GetReferences returns the NodeReferences index entry for id. The index
// itself lives in the backing store (spec §3 "node references index"); the
// workspace manager is the sole writer, via Execute's ReferenceUpdates.
func (m *Manager) GetReferences(ctx context.Context, id ids.NodeId) (*store.NodeReferences, error) {
	return m.backing.LoadReferences(ctx, id)
}

// HasReferences reports whether any property currently references id.
func (m *Manager) HasReferences(ctx context.Context, id ids.NodeId) (bool, error) {
	refs, err := m.backing.LoadReferences(ctx, id)
	if err != nil {
		return false, err
	}
	return len(refs.Properties) > 0, nil
}

// Execute atomically applies change to the backing store (spec §4.2, §4.4
// step 5) and, on success, notifies listeners in commit order and evicts the
// cache entries for every item the change log touched so the next
// getItemState re-loads the committed values.
func (m *Manager) Execute(ctx context.Context, change *itemstate.ChangeLog) error {
	if err := m.backing.Execute(ctx, change); err != nil {
		return err
	}

	m.mu.Lock()
	for _, w := range change.New {
		delete(m.cache, w.ID())
	}
	for _, w := range change.Modified {
		delete(m.cache, w.ID())
	}
	for _, w := range change.Removed {
		delete(m.cache, w.ID())
	}
	m.mu.Unlock()

	m.emit(change)
	return nil
}

func (m *Manager) emit(change *itemstate.ChangeLog) {
	m.listenersMu.Lock()
	listeners := append([]store.Listener(nil), m.listeners...)
	m.listenersMu.Unlock()
	if len(listeners) == 0 {
		return
	}

	events := make([]itemstate.Event, 0, len(change.New)+len(change.Modified)+len(change.Removed))
	for _, w := range change.New {
		events = append(events, itemstate.Event{Item: w.ID(), Kind: itemstate.EventAdded})
	}
	for _, w := range change.Modified {
		events = append(events, itemstate.Event{Item: w.ID(), Kind: itemstate.EventModified})
	}
	for _, w := range change.Removed {
		ev := itemstate.Event{Item: w.ID(), Kind: itemstate.EventRemoved}
		if change.PreRemovalPaths != nil {
			ev.PreImagePath = change.PreRemovalPaths[w.ID()]
		}
		events = append(events, ev)
	}

	for _, l := range listeners {
		l.OnChange(events)
	}
}

// invalidateAll drops every cached entry; used when the watcher detects a
// write to the store file from outside this process. Individual items are
// re-validated lazily by the transient layer's stale-state check on next
// access, not eagerly here.
func (m *Manager) invalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log.Debug("external store change detected, invalidating workspace cache")
	m.cache = make(map[ids.ItemId]weak.Pointer[itemstate.NodeOrPropertyState])
}

// Dispose drops all cached states and stops the file watcher, if any (spec
// §4.2 dispose).
func (m *Manager) Dispose() error {
	m.mu.Lock()
	m.cache = make(map[ids.ItemId]weak.Pointer[itemstate.NodeOrPropertyState])
	m.mu.Unlock()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

// Close disposes the manager and closes the backing store.
func (m *Manager) Close() error {
	_ = m.Dispose()
	return m.backing.Close()
}

// NotFound reports whether err is the NoSuchItemState the backing store
// raises for an absent id (spec §4.2 getItemState).
func NotFound(err error) bool {
	return repoerr.KindOf(err) == repoerr.NoSuchItemState
}
