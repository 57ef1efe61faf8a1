package transient

import (
	"context"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
)

// Save implements spec §4.4's change-log commit for the subtree rooted at
// root. On success every NEW/MODIFIED transient copy under root is disposed
// (it will be re-pulled as EXISTING on next access) and REMOVED copies are
// dropped after pre-removal paths have been captured; on failure every
// transient state is left exactly as it was. A root with no transient copy
// is first pulled from the workspace layer as an EXISTING copy, the same way
// GetNodeState does.
func (m *Manager) Save(ctx context.Context, root ids.NodeId, pathOf func(ids.ItemId) string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rootState, ok := m.nodes[root]
	if !ok {
		persisted, err := m.ws.GetNodeState(ctx, root)
		if err != nil {
			return err
		}
		rootState = persisted.Clone()
		rootState.Status = itemstate.Existing
		rootState.Overlayed = persisted
		m.nodes[root] = rootState
	}
	if rootState.Status == itemstate.New {
		return repoerr.New(repoerr.ItemExists, "cannot save %s: a NEW node cannot be saved without its parent", root)
	}

	subtreeNodes, subtreeProps, err := m.collectSubtreeLocked(ctx, root)
	if err != nil {
		return err
	}

	change := &itemstate.ChangeLog{PreRemovalPaths: map[ids.ItemId]string{}}
	affected := map[ids.ItemId]bool{}

	for _, n := range subtreeNodes {
		switch n.Status {
		case itemstate.New:
			change.New = append(change.New, itemstate.WrapNode(n))
		case itemstate.ExistingModified:
			change.Modified = append(change.Modified, itemstate.WrapNode(n))
		case itemstate.ExistingRemoved:
			w := itemstate.WrapNode(n)
			change.Removed = append(change.Removed, w)
			if pathOf != nil {
				change.PreRemovalPaths[w.ID()] = pathOf(w.ID())
			}
		case itemstate.StaleModified, itemstate.StaleDestroyed:
			return repoerr.New(repoerr.StaleItemState, "node %s is stale", n.ID)
		}
		affected[ids.NewNodeItemId(n.ID)] = true
	}
	for _, p := range subtreeProps {
		switch p.Status {
		case itemstate.New:
			change.New = append(change.New, itemstate.WrapProperty(p))
		case itemstate.ExistingModified:
			change.Modified = append(change.Modified, itemstate.WrapProperty(p))
		case itemstate.ExistingRemoved:
			w := itemstate.WrapProperty(p)
			change.Removed = append(change.Removed, w)
			if pathOf != nil {
				change.PreRemovalPaths[w.ID()] = pathOf(w.ID())
			}
		case itemstate.StaleModified, itemstate.StaleDestroyed:
			return repoerr.New(repoerr.StaleItemState, "property %s is stale", p.ID())
		}
		affected[ids.NewPropertyItemId(p.ID())] = true
		if ru := referenceUpdate(p); ru != nil {
			change.ReferenceUpdates = append(change.ReferenceUpdates, *ru)
		}
	}

	if err := m.checkSelfContainmentLocked(subtreeNodes, affected); err != nil {
		return err
	}
	if err := m.checkOperationContainmentLocked(affected, pathOf); err != nil {
		return err
	}
	if err := m.checkMandatoryLocked(subtreeNodes); err != nil {
		return err
	}

	for _, op := range m.ops {
		for _, a := range op.AffectedStates() {
			if affected[a] {
				change.Operations = append(change.Operations, op)
				break
			}
		}
	}

	if err := m.ws.Execute(ctx, change); err != nil {
		return err
	}

	m.disposeAfterCommitLocked(change, affected)
	return nil
}

// collectSubtreeLocked walks the transient tree below root, gathering every
// transient node/property whose path is within the subtree, and refreshes
// each one's staleness status against the workspace layer first (spec §4.4
// step 1).
func (m *Manager) collectSubtreeLocked(ctx context.Context, root ids.NodeId) ([]*itemstate.NodeState, []*itemstate.PropertyState, error) {
	var nodes []*itemstate.NodeState
	var props []*itemstate.PropertyState
	visited := map[ids.NodeId]bool{}

	var walk func(id ids.NodeId) error
	walk = func(id ids.NodeId) error {
		if visited[id] {
			return nil
		}
		visited[id] = true
		n, ok := m.nodes[id]
		if !ok {
			return nil
		}
		status, err := m.checkStaleNode(ctx, n)
		if err != nil {
			return err
		}
		n.Status = status
		nodes = append(nodes, n)

		for _, pn := range n.PropertyNames {
			pid := ids.PropertyId{Parent: id, Name: pn}
			if p, ok := m.props[pid]; ok {
				pstatus, err := m.checkStaleProperty(ctx, p)
				if err != nil {
					return err
				}
				p.Status = pstatus
				props = append(props, p)
			}
		}
		for _, c := range n.ChildNodes {
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, nil, err
	}

	if err := m.pullDetachedOperationStatesLocked(ctx, visited, &nodes, &props); err != nil {
		return nil, nil, err
	}
	return nodes, props, nil
}

// pullDetachedOperationStatesLocked folds in items a pending remove detached
// from the live tree before this save, so a save scope anchored at the
// removal's old parent still picks up and commits them (removeNode detaches
// its target from the parent's child-node list immediately, so the live
// walk above can no longer reach it there). Deliberately limited to
// EXISTING_REMOVED items: a moved-away node keeps its EXISTING_MODIFIED
// status and must NOT be auto-included here, or a save scope that omits its
// new parent would silently widen instead of failing spec §4.4's
// self-containment check. Runs to a fixed point since one removal's
// addition can anchor another.
func (m *Manager) pullDetachedOperationStatesLocked(ctx context.Context, visited map[ids.NodeId]bool, nodes *[]*itemstate.NodeState, props *[]*itemstate.PropertyState) error {
	visitedProp := map[ids.PropertyId]bool{}
	for _, p := range *props {
		visitedProp[p.ID()] = true
	}

	for {
		changed := false
		for _, op := range m.ops {
			states := op.AffectedStates()
			anchored := false
			for _, a := range states {
				if a.IsNode() && visited[a.NodeID()] {
					anchored = true
					break
				}
				if a.IsProperty() && visitedProp[a.PropertyID()] {
					anchored = true
					break
				}
			}
			if !anchored {
				continue
			}
			for _, a := range states {
				if a.IsNode() {
					id := a.NodeID()
					if visited[id] {
						continue
					}
					n, ok := m.nodes[id]
					if !ok || n.Status != itemstate.ExistingRemoved {
						continue
					}
					status, err := m.checkStaleNode(ctx, n)
					if err != nil {
						return err
					}
					n.Status = status
					visited[id] = true
					*nodes = append(*nodes, n)
					changed = true
				} else {
					id := a.PropertyID()
					if visitedProp[id] {
						continue
					}
					p, ok := m.props[id]
					if !ok || p.Status != itemstate.ExistingRemoved {
						continue
					}
					pstatus, err := m.checkStaleProperty(ctx, p)
					if err != nil {
						return err
					}
					p.Status = pstatus
					visitedProp[id] = true
					*props = append(*props, p)
					changed = true
				}
			}
		}
		if !changed {
			return nil
		}
	}
}

// checkSelfContainmentLocked implements spec §4.4 step 3's parent rule: a
// removed node's old primary parent, and both the old and the new primary
// parent of a node whose primary parent changed, must themselves be in the
// affected set. A modified node that kept its primary parent adds no
// dependent. Nodes whose child-node entries changed are not collected here;
// checkOperationContainmentLocked covers them only through the pending
// operations that touched them.
func (m *Manager) checkSelfContainmentLocked(subtree []*itemstate.NodeState, affected map[ids.ItemId]bool) error {
	for _, n := range subtree {
		if n.Status != itemstate.ExistingModified && n.Status != itemstate.ExistingRemoved {
			continue
		}
		dependents := map[ids.NodeId]bool{}
		newParent, hasNew := n.PrimaryParent()
		oldParent, hasOld := newParent, hasNew
		if n.Overlayed != nil {
			oldParent, hasOld = n.Overlayed.PrimaryParent()
		}
		if hasOld && (n.Status == itemstate.ExistingRemoved || (hasNew && oldParent != newParent)) {
			dependents[oldParent] = true
		}
		if hasNew && hasOld && oldParent != newParent {
			dependents[newParent] = true
		}
		for dep := range dependents {
			if !affected[ids.NewNodeItemId(dep)] {
				return repoerr.New(repoerr.StaleItemState,
					"save scope does not include dependent node %s of %s; widen the save scope", dep, n.ID)
			}
		}
	}
	return nil
}

// checkOperationContainmentLocked implements spec §4.4 step 3's other half:
// a save scope that includes any one item touched by a pending operation
// (move, copy, ...) must include every item that operation touched, even
// when the subtree walk itself no longer reaches all of them (a move's old
// parent, say, once the child has been detached from it). A nil pathOf
// falls back to the bare item id in the error message.
func (m *Manager) checkOperationContainmentLocked(affected map[ids.ItemId]bool, pathOf func(ids.ItemId) string) error {
	for _, op := range m.ops {
		states := op.AffectedStates()
		touched := false
		for _, a := range states {
			if affected[a] {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		for _, a := range states {
			if affected[a] {
				continue
			}
			name := a.String()
			if pathOf != nil {
				if p := pathOf(a); p != "" {
					name = p
				}
			}
			return repoerr.New(repoerr.StaleItemState,
				"save scope does not include %s, affected by a pending %s; widen the save scope", name, op.Kind())
		}
	}
	return nil
}

// referenceUpdate computes the added/removed target set for p's references
// index entry, diffing its current values against its overlayed (pre-
// transaction) snapshot, or nil if p never held (and still doesn't hold)
// any REFERENCE value (spec §3 "node references index").
func referenceUpdate(p *itemstate.PropertyState) *itemstate.ReferenceUpdate {
	var oldRefs []ids.NodeId
	if p.Overlayed != nil {
		oldRefs = p.Overlayed.References()
	}
	var newRefs []ids.NodeId
	if p.Status != itemstate.ExistingRemoved {
		newRefs = p.References()
	}
	if len(oldRefs) == 0 && len(newRefs) == 0 {
		return nil
	}

	oldSet := make(map[ids.NodeId]bool, len(oldRefs))
	for _, r := range oldRefs {
		oldSet[r] = true
	}
	newSet := make(map[ids.NodeId]bool, len(newRefs))
	for _, r := range newRefs {
		newSet[r] = true
	}

	ru := itemstate.ReferenceUpdate{Property: p.ID()}
	for r := range newSet {
		if !oldSet[r] {
			ru.Added = append(ru.Added, r)
		}
	}
	for r := range oldSet {
		if !newSet[r] {
			ru.Removed = append(ru.Removed, r)
		}
	}
	if len(ru.Added) == 0 && len(ru.Removed) == 0 {
		return nil
	}
	return &ru
}

// checkMandatoryLocked implements spec §3's mandatory invariant for every
// new or modified node in the save scope: each mandatory property and
// mandatory child-node definition of the node's effective type must be
// present. Existing, unmodified nodes are not re-validated. A nil Types
// registry (transient.New's types argument) disables this check.
func (m *Manager) checkMandatoryLocked(subtree []*itemstate.NodeState) error {
	if m.types == nil {
		return nil
	}
	for _, n := range subtree {
		if n.Status != itemstate.New && n.Status != itemstate.ExistingModified {
			continue
		}
		eff, err := m.types.GetEffectiveNodeTypeSet(n.AllTypeNames())
		if err != nil {
			return err
		}
		for _, pd := range eff.AllPropertyDefs() {
			if !pd.Mandatory || pd.Name.IsResidual() {
				continue
			}
			if !n.HasProperty(pd.Name) {
				return repoerr.New(repoerr.ConstraintViolation,
					"%s is missing mandatory property %s", n.ID, pd.Name)
			}
		}
		for _, nd := range eff.AllNodeDefs() {
			if !nd.Mandatory || nd.Name.IsResidual() {
				continue
			}
			if !n.HasChildNamed(nd.Name) {
				return repoerr.New(repoerr.ConstraintViolation,
					"%s is missing mandatory child node %s", n.ID, nd.Name)
			}
		}
	}
	return nil
}

// disposeAfterCommitLocked drops the committed NEW/MODIFIED copies (re-
// pulled as EXISTING on next access) and the REMOVED copies, plus the
// operations the change log absorbed (spec §4.4 step 5).
func (m *Manager) disposeAfterCommitLocked(change *itemstate.ChangeLog, affected map[ids.ItemId]bool) {
	for _, w := range change.New {
		m.disposeWrapped(w)
	}
	for _, w := range change.Modified {
		m.disposeWrapped(w)
	}
	for _, w := range change.Removed {
		m.disposeWrapped(w)
	}

	kept := m.ops[:0]
	included := map[itemstate.Operation]bool{}
	for _, op := range change.Operations {
		included[op] = true
	}
	for _, op := range m.ops {
		if !included[op] {
			kept = append(kept, op)
		}
	}
	m.ops = kept
}

func (m *Manager) disposeWrapped(w *itemstate.NodeOrPropertyState) {
	if w.Node != nil {
		delete(m.nodes, w.Node.ID)
		return
	}
	delete(m.props, w.Property.ID())
}
