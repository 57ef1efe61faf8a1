package ops

import (
	"context"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
	"github.com/coralrepo/coral/internal/values"
)

// Mode selects the UUID policy of a Copy call (spec §4.5.5).
type Mode int

const (
	Copy Mode = iota
	Clone
	CloneRemoveExisting
)

// trackedReference records one copied REFERENCE-typed property so its
// values can be rewritten once the whole subtree's original->new UUID
// mapping is known (spec §4.5.5 "reference tracker").
type trackedReference struct {
	property ids.PropertyId
	original []ids.NodeId
}

// CopyOrClone implements spec §4.5.5: recursively copies the subtree rooted
// at source to a new child of destParent named destName, per mode's UUID
// policy, then rewrites every copied REFERENCE value whose original target
// was itself copied.
func (b *Batch) CopyOrClone(ctx context.Context, source *itemstate.NodeState, destParent *itemstate.NodeState, destPath hierarchy.Path, destName ids.QualifiedName, mode Mode, opts Option) (*itemstate.NodeState, error) {
	if err := b.checkAccess(ctx, opts, ids.NewNodeItemId(destParent.ID), store.Write); err != nil {
		return nil, err
	}
	if err := b.checkLock(ctx, opts, destPath.String()); err != nil {
		return nil, err
	}

	destEff, err := b.d.Types.GetEffectiveNodeTypeSet(destParent.AllTypeNames())
	if err != nil {
		return nil, err
	}
	nodeDef, ok := destEff.FindNodeDef(destName)
	if !ok {
		return nil, repoerr.New(repoerr.ConstraintViolation, "no child-node definition for %s under %s", destName, destParent.ID)
	}
	if opts.Has(CheckCollision) && destParent.HasChildNamed(destName) && !nodeDef.AllowsSameNameSiblings {
		return nil, repoerr.New(repoerr.ItemExists, "%s does not allow same-name siblings for %s", destParent.ID, destName)
	}

	st := &copyState{
		batch:      b,
		mode:       mode,
		opts:       opts,
		uuidMap:    map[ids.NodeId]ids.NodeId{},
		affected:   nil,
		references: nil,
	}

	root, err := st.copyNode(ctx, source, destName, destParent.ID, true)
	if err != nil {
		return nil, err
	}
	root.DefinitionDeclaringType = nodeDef.DeclaringType
	root.DefinitionName = nodeDef.Name

	if err := st.rewriteReferences(ctx); err != nil {
		return nil, err
	}

	b.d.Transient.AddOperation(newOp("copy", st.affected...))
	return root, nil
}

type copyState struct {
	batch      *Batch
	mode       Mode
	opts       Option
	uuidMap    map[ids.NodeId]ids.NodeId
	affected   []ids.ItemId
	references []trackedReference
}

func (st *copyState) copyNode(ctx context.Context, orig *itemstate.NodeState, name ids.QualifiedName, newParent ids.NodeId, isRoot bool) (*itemstate.NodeState, error) {
	b := st.batch
	referenceable := orig.HasMixin(nodetype.MixReferenceable)

	newID, err := st.allocateID(ctx, orig, referenceable, newParent, isRoot)
	if err != nil {
		return nil, err
	}
	if referenceable {
		st.uuidMap[orig.ID] = newID
	}

	n := b.d.Transient.CreateNewNode(newID, name, orig.PrimaryType, orig.DefinitionDeclaringType, orig.DefinitionName, newParent)
	n.MixinTypes = append([]ids.QualifiedName(nil), orig.MixinTypes...)
	st.affected = append(st.affected, ids.NewNodeItemId(newID))

	for _, propName := range orig.PropertyNames {
		origProp, err := b.d.Transient.GetPropertyState(ctx, ids.PropertyId{Parent: orig.ID, Name: propName})
		if err != nil {
			return nil, err
		}
		newProp := b.d.Transient.CreateNewProperty(newID, propName)
		newProp.Type = origProp.Type
		newProp.Multivalue = origProp.Multivalue
		newProp.Values = append([]values.Value(nil), origProp.Values...)
		newProp.DefinitionDeclaringType = origProp.DefinitionDeclaringType
		newProp.DefinitionName = origProp.DefinitionName
		st.affected = append(st.affected, ids.NewPropertyItemId(newProp.ID()))

		if origProp.Type == values.Reference {
			st.references = append(st.references, trackedReference{
				property: newProp.ID(),
				original: origProp.References(),
			})
		}
	}

	for _, entry := range orig.ChildNodes {
		child, err := b.d.Transient.GetNodeState(ctx, entry.ID)
		if err != nil {
			return nil, err
		}
		if _, err := st.copyNode(ctx, child, entry.Name, newID, false); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// allocateID implements the §4.5.5 UUID policy.
func (st *copyState) allocateID(ctx context.Context, orig *itemstate.NodeState, referenceable bool, newParent ids.NodeId, isRoot bool) (ids.NodeId, error) {
	if st.mode == Copy || !referenceable {
		return ids.NewNodeId(), nil
	}

	// CLONE / CLONE_REMOVE_EXISTING, referenceable node: keep the original
	// UUID.
	exists, err := st.batch.d.Persisted.Exists(ctx, ids.NewNodeItemId(orig.ID))
	if err != nil {
		return ids.NodeId{}, err
	}
	if !exists {
		return orig.ID, nil
	}
	if st.mode == Clone {
		return ids.NodeId{}, repoerr.New(repoerr.ItemExists, "node %s already exists at the destination", orig.ID)
	}

	// CLONE_REMOVE_EXISTING: pre-remove the existing node, unless it is the
	// destination parent or one of its ancestors.
	existingAncestor, err := st.isAncestorOrSelf(ctx, orig.ID, newParent)
	if err != nil {
		return ids.NodeId{}, err
	}
	if existingAncestor {
		return ids.NodeId{}, repoerr.New(repoerr.ConstraintViolation,
			"existing node %s is the destination parent or an ancestor of it", orig.ID)
	}

	existing, err := st.batch.d.Transient.GetNodeState(ctx, orig.ID)
	if err != nil {
		return ids.NodeId{}, err
	}
	existingParent, hasParent := existing.PrimaryParent()
	if !hasParent {
		return ids.NodeId{}, repoerr.New(repoerr.ConstraintViolation, "cannot remove the root node to clone over it")
	}
	removeOpts := st.opts &^ CheckReferences
	if err := st.batch.RemoveNode(ctx, existing, nil, existingParent, removeOpts); err != nil {
		return ids.NodeId{}, err
	}
	return orig.ID, nil
}

func (st *copyState) isAncestorOrSelf(ctx context.Context, candidate, of ids.NodeId) (bool, error) {
	current := of
	for {
		if current == candidate {
			return true, nil
		}
		n, err := st.batch.d.Transient.GetNodeState(ctx, current)
		if err != nil {
			return false, err
		}
		parent, ok := n.PrimaryParent()
		if !ok {
			return false, nil
		}
		current = parent
	}
}

// rewriteReferences replaces every tracked REFERENCE value whose original
// target was itself copied, leaving untouched any reference to a node
// outside the copied subtree (spec §4.5.5 "leave the rest untouched").
func (st *copyState) rewriteReferences(ctx context.Context) error {
	for _, tr := range st.references {
		p, err := st.batch.d.Transient.GetPropertyState(ctx, tr.property)
		if err != nil {
			return err
		}
		rewritten := make([]values.Value, len(p.Values))
		for i, v := range p.Values {
			if mapped, ok := st.uuidMap[v.Reference()]; ok {
				rewritten[i] = values.NewReference(mapped)
			} else {
				rewritten[i] = v
			}
		}
		p.Values = rewritten
	}
	return nil
}
