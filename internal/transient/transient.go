// Package transient implements the per-session transient state manager of
// spec §4.3: the overlay of NEW/MODIFIED/REMOVED working copies a session
// holds before save, plus the save algorithm of spec §4.4.
package transient

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/repolog"
	"github.com/coralrepo/coral/internal/workspace"
)

// Manager is one session's transient overlay. Not safe for concurrent use
// from more than one goroutine (spec §5 "each session is a single-threaded
// cooperative actor").
type Manager struct {
	ws    *workspace.Manager
	types *nodetype.Registry
	log   *slog.Logger

	mu    sync.Mutex
	nodes map[ids.NodeId]*itemstate.NodeState
	props map[ids.PropertyId]*itemstate.PropertyState
	ops   []itemstate.Operation
}

// New builds a transient manager over ws. types is consulted at Save time to
// enforce spec §3's "every mandatory child/property declared in T's
// effective type exists on N" invariant; passing nil disables that check
// (the ops layer still enforces per-operation constraints as they happen).
func New(ws *workspace.Manager, types *nodetype.Registry, log *slog.Logger) *Manager {
	if log == nil {
		log = repolog.Discard
	}
	return &Manager{
		ws:    ws,
		types: types,
		log:   log,
		nodes: make(map[ids.NodeId]*itemstate.NodeState),
		props: make(map[ids.PropertyId]*itemstate.PropertyState),
	}
}

// CreateNewNode allocates a NEW node state and attaches it as a child-node
// entry of parent (spec §4.3 createNewNode). Callers are responsible for
// index bookkeeping (same-name-sibling count) before calling this.
func (m *Manager) CreateNewNode(id ids.NodeId, name, primaryType ids.QualifiedName, defDeclaringType, defName ids.QualifiedName, parent ids.NodeId) *itemstate.NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := &itemstate.NodeState{
		ID:                      id,
		Status:                  itemstate.New,
		PrimaryType:             primaryType,
		DefinitionDeclaringType: defDeclaringType,
		DefinitionName:          defName,
		Parents:                 []ids.NodeId{parent},
	}
	m.nodes[id] = n

	if p, ok := m.nodes[parent]; ok {
		p.ChildNodes = append(p.ChildNodes, itemstate.ChildNodeEntry{
			Name: name, ID: id, Index: p.SameNameSiblingCount(name) + 1,
		})
		if p.Status == itemstate.Existing {
			p.Status = itemstate.ExistingModified
		}
	}
	return n
}

// CreateNewProperty allocates a NEW property state and registers it on its
// parent's property-name set (spec §4.3 createNewProperty). Callers set
// Type/Multivalue/Values/DefinitionName on the returned state themselves,
// once the applicable property definition has been resolved.
func (m *Manager) CreateNewProperty(parent ids.NodeId, name ids.QualifiedName) *itemstate.PropertyState {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := &itemstate.PropertyState{
		Parent: parent,
		Name:   name,
		Status: itemstate.New,
	}
	m.props[p.ID()] = p

	if n, ok := m.nodes[parent]; ok && !n.HasProperty(name) {
		n.PropertyNames = append(n.PropertyNames, name)
		if n.Status == itemstate.Existing {
			n.Status = itemstate.ExistingModified
		}
	}
	return p
}

// Node satisfies hierarchy.Accessor.
func (m *Manager) Node(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	return m.GetNodeState(ctx, id)
}

// GetNodeState returns the transient state for id if present (even if
// EXISTING_REMOVED — the removal is only realized at save), else pulls a
// fresh EXISTING overlay from the workspace layer (spec §4.3 getItemState).
func (m *Manager) GetNodeState(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	m.mu.Lock()
	if n, ok := m.nodes[id]; ok {
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	persisted, err := m.ws.GetNodeState(ctx, id)
	if err != nil {
		return nil, err
	}
	n := persisted.Clone()
	n.Status = itemstate.Existing
	n.Overlayed = persisted

	m.mu.Lock()
	m.nodes[id] = n
	m.mu.Unlock()
	return n, nil
}

// GetPropertyState is the property analogue of GetNodeState.
func (m *Manager) GetPropertyState(ctx context.Context, id ids.PropertyId) (*itemstate.PropertyState, error) {
	m.mu.Lock()
	if p, ok := m.props[id]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	persisted, err := m.ws.GetPropertyState(ctx, id)
	if err != nil {
		return nil, err
	}
	p := persisted.Clone()
	p.Status = itemstate.Existing
	p.Overlayed = persisted

	m.mu.Lock()
	m.props[id] = p
	m.mu.Unlock()
	return p, nil
}

// MarkNodeModified transitions an EXISTING node to EXISTING_MODIFIED. A
// no-op for any other status (NEW, already MODIFIED, REMOVED, STALE).
func (m *Manager) MarkNodeModified(n *itemstate.NodeState) {
	if n.Status == itemstate.Existing {
		n.Status = itemstate.ExistingModified
	}
}

func (m *Manager) MarkPropertyModified(p *itemstate.PropertyState) {
	if p.Status == itemstate.Existing {
		p.Status = itemstate.ExistingModified
	}
}

// MarkNodeRemoved transitions a node to EXISTING_REMOVED (or drops a NEW
// node entirely, since it was never persisted).
func (m *Manager) MarkNodeRemoved(id ids.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	if n.Status == itemstate.New {
		delete(m.nodes, id)
		return
	}
	n.Status = itemstate.ExistingRemoved
}

func (m *Manager) MarkPropertyRemoved(id ids.PropertyId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.props[id]
	if !ok {
		return
	}
	if p.Status == itemstate.New {
		delete(m.props, id)
		return
	}
	p.Status = itemstate.ExistingRemoved
}

// DetachChild removes child's child-node entry from parent's list, used by
// remove and move (spec §4.5.3, §4.5.4).
func (m *Manager) DetachChild(parent ids.NodeId, child ids.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detachChildLocked(parent, child)
}

// detachChildLocked is DetachChild's body, split out so callers that already
// hold m.mu (revertNodeLocked) can detach without recursively locking a
// non-reentrant mutex.
func (m *Manager) detachChildLocked(parent ids.NodeId, child ids.NodeId) {
	p, ok := m.nodes[parent]
	if !ok {
		return
	}
	kept := p.ChildNodes[:0]
	for _, c := range p.ChildNodes {
		if c.ID != child {
			kept = append(kept, c)
		}
	}
	p.ChildNodes = kept
	m.MarkNodeModified(p)
}

// AttachChild appends a child-node entry to parent's list at the next
// same-name-sibling index, used by move and copy (spec §4.5.4, §4.5.5).
func (m *Manager) AttachChild(parent ids.NodeId, name ids.QualifiedName, child ids.NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.nodes[parent]
	if !ok {
		return
	}
	p.ChildNodes = append(p.ChildNodes, itemstate.ChildNodeEntry{
		Name: name, ID: child, Index: p.SameNameSiblingCount(name) + 1,
	})
	m.MarkNodeModified(p)
}

// SetPrimaryParent updates n's primary (first) parent entry, used by move
// (spec §4.5.4 step 3 "update target's primary parent id").
func (m *Manager) SetPrimaryParent(n *itemstate.NodeState, newParent ids.NodeId) {
	if len(n.Parents) == 0 {
		n.Parents = []ids.NodeId{newParent}
		return
	}
	n.Parents[0] = newParent
	m.MarkNodeModified(n)
}

// AddOperation appends op to the ordered pending-operations list (spec §4.3
// addOperation).
func (m *Manager) AddOperation(op itemstate.Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, op)
}

// checkStaleNode compares the transient node's Overlayed snapshot against the
// workspace layer's current state, detecting the divergence spec §4.3's
// state machine calls STALE_MODIFIED / STALE_DESTROYED.
func (m *Manager) checkStaleNode(ctx context.Context, n *itemstate.NodeState) (itemstate.Status, error) {
	if n.Overlayed == nil {
		return n.Status, nil
	}
	current, err := m.ws.GetNodeState(ctx, n.ID)
	if workspace.NotFound(err) {
		return itemstate.StaleDestroyed, nil
	}
	if err != nil {
		return n.Status, err
	}
	if !sameJSON(current, n.Overlayed) {
		return itemstate.StaleModified, nil
	}
	return n.Status, nil
}

func (m *Manager) checkStaleProperty(ctx context.Context, p *itemstate.PropertyState) (itemstate.Status, error) {
	if p.Overlayed == nil {
		return p.Status, nil
	}
	current, err := m.ws.GetPropertyState(ctx, p.ID())
	if workspace.NotFound(err) {
		return itemstate.StaleDestroyed, nil
	}
	if err != nil {
		return p.Status, err
	}
	if !sameJSON(current, p.Overlayed) {
		return itemstate.StaleModified, nil
	}
	return p.Status, nil
}

func sameJSON(a, b any) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(da, db)
}

// Revert restores the subtree rooted at id to its overlayed (persistent)
// state, dropping any NEW states beneath it and discarding pending
// operations whose affected-states set is now entirely covered by the
// reverted set (spec §4.3 revert).
func (m *Manager) Revert(ctx context.Context, root ids.NodeId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	affected := map[ids.ItemId]bool{}
	m.revertNodeLocked(root, affected)

	kept := m.ops[:0]
	for _, op := range m.ops {
		coveredByRevert := true
		for _, a := range op.AffectedStates() {
			if !affected[a] {
				coveredByRevert = false
				break
			}
		}
		if !coveredByRevert {
			kept = append(kept, op)
		}
	}
	m.ops = kept
	return nil
}

func (m *Manager) revertNodeLocked(id ids.NodeId, affected map[ids.ItemId]bool) {
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	affected[ids.NewNodeItemId(id)] = true

	for _, c := range n.ChildNodes {
		m.revertNodeLocked(c.ID, affected)
	}
	for _, pn := range n.PropertyNames {
		pid := ids.PropertyId{Parent: id, Name: pn}
		if p, ok := m.props[pid]; ok {
			affected[ids.NewPropertyItemId(pid)] = true
			if p.Status == itemstate.New {
				delete(m.props, pid)
			} else if p.Overlayed != nil {
				*p = *p.Overlayed.Clone()
				p.Status = itemstate.Existing
			}
		}
	}

	if n.Status == itemstate.New {
		if parent, ok := n.PrimaryParent(); ok {
			m.detachChildLocked(parent, id)
		}
		delete(m.nodes, id)
		return
	}
	if n.Overlayed != nil {
		overlayed := n.Overlayed
		*n = *overlayed.Clone()
		n.Status = itemstate.Existing
		n.Overlayed = overlayed
	}
}
