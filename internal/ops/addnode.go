package ops

import (
	"context"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
)

// AddNode implements spec §4.5.1. primaryType may be the zero QualifiedName,
// in which case the applicable child-node definition's default primary type
// is used. explicitID, if non-nil, pins the new node's UUID; the store is
// checked for a collision first.
func (b *Batch) AddNode(ctx context.Context, parent *itemstate.NodeState, parentPath hierarchy.Path, name ids.QualifiedName, primaryType ids.QualifiedName, explicitID *ids.NodeId, opts Option) (*itemstate.NodeState, error) {
	parentItem := ids.NewNodeItemId(parent.ID)

	if err := b.checkAccess(ctx, opts, parentItem, store.Write); err != nil {
		return nil, err
	}
	if err := b.checkLock(ctx, opts, parentPath.String()); err != nil {
		return nil, err
	}
	if err := b.checkCheckedOut(ctx, opts, parentPath.String()); err != nil {
		return nil, err
	}

	parentEff, err := b.d.Types.GetEffectiveNodeTypeSet(parent.AllTypeNames())
	if err != nil {
		return nil, err
	}
	nodeDef, ok := parentEff.FindNodeDef(name)
	if !ok {
		return nil, repoerr.New(repoerr.ConstraintViolation, "no child-node definition for %s under %s", name, parent.ID)
	}
	if primaryType == (ids.QualifiedName{}) {
		primaryType = nodeDef.DefaultPrimaryType
		if primaryType == (ids.QualifiedName{}) {
			return nil, repoerr.New(repoerr.ConstraintViolation, "%s has no default primary type and none was supplied", name)
		}
	}
	if opts.Has(CheckConstraints) && len(nodeDef.RequiredPrimaryTypes) > 0 {
		childEff, err := b.d.Types.GetEffectiveNodeType(primaryType)
		if err != nil {
			return nil, err
		}
		if !childEff.IncludesAll(nodeDef.RequiredPrimaryTypes...) {
			return nil, repoerr.New(repoerr.ConstraintViolation,
				"%s does not satisfy required primary types of %s", primaryType, name)
		}
	}

	if opts.Has(CheckCollision) {
		if parent.HasProperty(name) {
			return nil, repoerr.New(repoerr.ItemExists, "a property named %s already exists on %s", name, parent.ID)
		}
		if parent.HasChildNamed(name) && !nodeDef.AllowsSameNameSiblings {
			return nil, repoerr.New(repoerr.ItemExists, "%s does not allow same-name siblings for %s", parent.ID, name)
		}
	}

	id := ids.NewNodeId()
	if explicitID != nil {
		exists, err := b.d.Persisted.Exists(ctx, ids.NewNodeItemId(*explicitID))
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, repoerr.New(repoerr.ItemExists, "node %s already exists", *explicitID)
		}
		id = *explicitID
	}

	n := b.d.Transient.CreateNewNode(id, name, primaryType, nodeDef.DeclaringType, nodeDef.Name, parent.ID)

	if err := b.materializeAutoCreated(ctx, n); err != nil {
		return nil, err
	}

	b.d.Transient.AddOperation(newOp("addNode", ids.NewNodeItemId(parent.ID), ids.NewNodeItemId(id)))
	return n, nil
}

// materializeAutoCreated recursively creates every auto-created property and
// child node the node's effective type declares (spec §4.5.1 step 4),
// depth-first.
func (b *Batch) materializeAutoCreated(ctx context.Context, n *itemstate.NodeState) error {
	eff, err := b.d.Types.GetEffectiveNodeTypeSet(n.AllTypeNames())
	if err != nil {
		return err
	}

	for _, pd := range eff.AllPropertyDefs() {
		if !pd.AutoCreated || pd.Name.IsResidual() {
			continue
		}
		p := b.d.Transient.CreateNewProperty(n.ID, pd.Name)
		p.Type = pd.RequiredType
		p.Multivalue = pd.Multiple
		p.DefinitionDeclaringType = pd.DeclaringType
		p.DefinitionName = pd.Name
		p.Values = systemGeneratedValues(n, pd, b.d.Now())
	}

	for _, nd := range eff.AllNodeDefs() {
		if !nd.AutoCreated || nd.Name.IsResidual() {
			continue
		}
		primaryType := nd.DefaultPrimaryType
		if primaryType == (ids.QualifiedName{}) {
			continue
		}
		child := b.d.Transient.CreateNewNode(ids.NewNodeId(), nd.Name, primaryType, nd.DeclaringType, nd.Name, n.ID)
		if err := b.materializeAutoCreated(ctx, child); err != nil {
			return err
		}
	}
	return nil
}
