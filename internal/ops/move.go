package ops

import (
	"context"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
)

// Move implements spec §4.5.4. destName/destIndex name the new child-node
// entry at the destination; destIndex must be 0 (absent) — an explicit index
// on the destination name is rejected, per the spec's "destination name has
// no explicit index" precondition.
func (b *Batch) Move(ctx context.Context, source *itemstate.NodeState, sourcePath hierarchy.Path, destParent *itemstate.NodeState, destPath hierarchy.Path, destName ids.QualifiedName, destIndex int, opts Option) error {
	if destIndex != 0 {
		return repoerr.New(repoerr.ConstraintViolation, "move destination name may not carry an explicit same-name-sibling index")
	}
	if isDescendantPath(sourcePath, destPath) {
		return repoerr.New(repoerr.ConstraintViolation, "cannot move %s into its own subtree at %s", sourcePath, destPath)
	}

	sourceParent, ok := source.PrimaryParent()
	if !ok {
		return repoerr.New(repoerr.ConstraintViolation, "cannot move the root node")
	}

	if err := b.checkAccess(ctx, opts, ids.NewNodeItemId(sourceParent), store.Remove); err != nil {
		return err
	}
	if err := b.checkAccess(ctx, opts, ids.NewNodeItemId(destParent.ID), store.Write); err != nil {
		return err
	}
	if err := b.checkLock(ctx, opts, sourcePath.String()); err != nil {
		return err
	}
	if err := b.checkLock(ctx, opts, destPath.String()); err != nil {
		return err
	}

	destEff, err := b.d.Types.GetEffectiveNodeTypeSet(destParent.AllTypeNames())
	if err != nil {
		return err
	}
	nodeDef, ok := destEff.FindNodeDef(destName)
	if !ok {
		return repoerr.New(repoerr.ConstraintViolation, "no child-node definition for %s under %s", destName, destParent.ID)
	}
	if opts.Has(CheckCollision) && destParent.HasChildNamed(destName) && !nodeDef.AllowsSameNameSiblings {
		return repoerr.New(repoerr.ItemExists, "%s does not allow same-name siblings for %s", destParent.ID, destName)
	}

	if sourceParent == destParent.ID {
		// Rename: reorder/rename the single child-node entry in place.
		b.d.Transient.DetachChild(sourceParent, source.ID)
		b.d.Transient.AttachChild(sourceParent, destName, source.ID)
	} else {
		b.d.Transient.AttachChild(destParent.ID, destName, source.ID)
		b.d.Transient.SetPrimaryParent(source, destParent.ID)
		b.d.Transient.DetachChild(sourceParent, source.ID)
	}
	source.DefinitionDeclaringType = nodeDef.DeclaringType
	source.DefinitionName = nodeDef.Name

	b.d.Transient.AddOperation(newOp("move",
		ids.NewNodeItemId(sourceParent), ids.NewNodeItemId(destParent.ID), ids.NewNodeItemId(source.ID)))
	return nil
}

// isDescendantPath reports whether dest is source or lies within source's
// subtree, comparing step-by-step so a sibling with a name that happens to
// share a string prefix ("/a/b" vs "/a/bc") is never mistaken for a
// descendant.
func isDescendantPath(source, dest hierarchy.Path) bool {
	if len(dest) < len(source) {
		return false
	}
	for i, step := range source {
		if dest[i].Name != step.Name || normalizedIndex(dest[i].Index) != normalizedIndex(step.Index) {
			return false
		}
	}
	return true
}

func normalizedIndex(i int) int {
	if i <= 0 {
		return 1
	}
	return i
}
