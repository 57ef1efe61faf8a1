package ops

import (
	"context"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
)

// RemoveNode implements spec §4.5.3: recursively marks descendant properties
// and nodes REMOVED depth-first post-order, then detaches the child-node
// entry from its parent (or, for a shared node, just unlinks the specified
// parent when other parents remain).
func (b *Batch) RemoveNode(ctx context.Context, target *itemstate.NodeState, targetPath hierarchy.Path, fromParent ids.NodeId, opts Option) error {
	if err := b.checkAccess(ctx, opts, ids.NewNodeItemId(target.ID), store.Remove); err != nil {
		return err
	}
	if err := b.checkLock(ctx, opts, targetPath.String()); err != nil {
		return err
	}
	if err := b.checkCheckedOut(ctx, opts, targetPath.String()); err != nil {
		return err
	}

	if opts.Has(CheckReferences) {
		if err := b.checkNoIncomingReferences(ctx, target); err != nil {
			return err
		}
	}

	var affected []ids.ItemId
	if target.IsShared() && len(target.Parents) > 1 {
		b.unlinkParent(target, fromParent)
		affected = []ids.ItemId{ids.NewNodeItemId(target.ID)}
	} else {
		var err error
		affected, err = b.removeSubtree(ctx, target)
		if err != nil {
			return err
		}
		b.d.Transient.DetachChild(fromParent, target.ID)
		b.d.Transient.MarkNodeRemoved(target.ID)
	}

	// fromParent anchors the operation: a save scope reaching the former
	// parent must also reach (and so commit) the detached subtree, even
	// though it is no longer in the parent's live child-node list.
	affected = append(affected, ids.NewNodeItemId(fromParent))
	b.d.Transient.AddOperation(newOp("removeNode", affected...))
	return nil
}

// checkNoIncomingReferences fails with ReferentialIntegrity if target or any
// referenceable descendant still has incoming references (spec §4.5.3 step
// 1).
func (b *Batch) checkNoIncomingReferences(ctx context.Context, target *itemstate.NodeState) error {
	var walk func(n *itemstate.NodeState) error
	walk = func(n *itemstate.NodeState) error {
		if n.HasMixin(nodetype.MixReferenceable) {
			refs, err := b.referencesOf(ctx, n.ID)
			if err != nil {
				return err
			}
			if len(refs) > 0 {
				return repoerr.New(repoerr.ReferentialIntegrity, "%s is still referenced by %d propert(y/ies)", n.ID, len(refs))
			}
		}
		for _, c := range n.ChildNodes {
			child, err := b.d.Transient.GetNodeState(ctx, c.ID)
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(target)
}

// removeSubtree marks every node and property under (and including) target
// REMOVED, depth-first post-order, and returns the full affected-item set.
func (b *Batch) removeSubtree(ctx context.Context, target *itemstate.NodeState) ([]ids.ItemId, error) {
	var affected []ids.ItemId
	var walk func(n *itemstate.NodeState) error
	walk = func(n *itemstate.NodeState) error {
		for _, c := range n.ChildNodes {
			child, err := b.d.Transient.GetNodeState(ctx, c.ID)
			if err != nil {
				return err
			}
			if err := walk(child); err != nil {
				return err
			}
		}
		for _, pn := range n.PropertyNames {
			pid := ids.PropertyId{Parent: n.ID, Name: pn}
			b.d.Transient.MarkPropertyRemoved(pid)
			affected = append(affected, ids.NewPropertyItemId(pid))
		}
		b.d.Transient.MarkNodeRemoved(n.ID)
		affected = append(affected, ids.NewNodeItemId(n.ID))
		return nil
	}
	if err := walk(target); err != nil {
		return nil, err
	}
	return affected, nil
}

func (b *Batch) unlinkParent(n *itemstate.NodeState, parent ids.NodeId) {
	kept := n.Parents[:0]
	for _, p := range n.Parents {
		if p != parent {
			kept = append(kept, p)
		}
	}
	n.Parents = kept
	b.d.Transient.DetachChild(parent, n.ID)
	b.d.Transient.MarkNodeModified(n)
}

func (b *Batch) referencesOf(ctx context.Context, id ids.NodeId) ([]ids.PropertyId, error) {
	refs, err := b.d.Persisted.LoadReferences(ctx, id)
	if err != nil {
		return nil, err
	}
	return refs.Properties, nil
}
