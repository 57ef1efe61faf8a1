package ops

import (
	"bytes"
	"context"

	"github.com/google/uuid"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
	"github.com/coralrepo/coral/internal/values"
)

// AddProperty implements the AddProperty half of spec §4.5.2: validates the
// applicable property definition, then allocates a NEW property state.
func (b *Batch) AddProperty(ctx context.Context, parent *itemstate.NodeState, parentPath hierarchy.Path, name ids.QualifiedName, vals []values.Value, multivalue bool, opts Option) (*itemstate.PropertyState, error) {
	if err := b.checkAccess(ctx, opts, ids.NewNodeItemId(parent.ID), store.Write); err != nil {
		return nil, err
	}
	if err := b.checkLock(ctx, opts, parentPath.String()); err != nil {
		return nil, err
	}
	if err := b.checkCheckedOut(ctx, opts, parentPath.String()); err != nil {
		return nil, err
	}
	if opts.Has(CheckCollision) && parent.HasProperty(name) {
		return nil, repoerr.New(repoerr.ItemExists, "property %s already exists on %s", name, parent.ID)
	}

	eff, err := b.d.Types.GetEffectiveNodeTypeSet(parent.AllTypeNames())
	if err != nil {
		return nil, err
	}
	pd, ok := eff.FindPropertyDef(name)
	if !ok {
		return nil, repoerr.New(repoerr.ConstraintViolation, "no property definition for %s on %s", name, parent.ID)
	}
	if opts.Has(CheckConstraints) {
		if pd.Multiple != multivalue {
			return nil, repoerr.New(repoerr.ConstraintViolation, "%s multivalue mismatch for %s", name, parent.ID)
		}
		if err := validateValues(pd, vals); err != nil {
			return nil, err
		}
	}

	installed, err := b.installValues(ctx, vals)
	if err != nil {
		return nil, err
	}

	p := b.d.Transient.CreateNewProperty(parent.ID, name)
	p.Type = pd.RequiredType
	p.Multivalue = multivalue
	p.Values = installed
	p.DefinitionDeclaringType = pd.DeclaringType
	p.DefinitionName = pd.Name

	b.d.Transient.AddOperation(newOp("addProperty", ids.NewNodeItemId(parent.ID), ids.NewPropertyItemId(p.ID())))
	return p, nil
}

// SetPropertyValue implements the SetPropertyValue half of spec §4.5.2.
// Setting vals to nil/empty is equivalent to removing the property.
func (b *Batch) SetPropertyValue(ctx context.Context, p *itemstate.PropertyState, vals []values.Value, opts Option) error {
	if len(vals) == 0 {
		return b.RemoveProperty(ctx, p, opts)
	}

	if err := b.checkAccess(ctx, opts, ids.NewPropertyItemId(p.ID()), store.Write); err != nil {
		return err
	}
	if opts.Has(CheckConstraints) {
		eff, err := b.effectiveTypeOfParent(ctx, p.Parent)
		if err != nil {
			return err
		}
		if pd, ok := eff.FindPropertyDef(p.Name); ok {
			if err := validateValues(pd, vals); err != nil {
				return err
			}
		}
	}

	sameValue := len(p.Values) == len(vals)
	if sameValue {
		for i := range vals {
			if !values.Equal(p.Values[i], vals[i]) {
				sameValue = false
				break
			}
		}
	}
	if sameValue {
		return nil
	}

	installed, err := b.installValues(ctx, vals)
	if err != nil {
		return err
	}
	if err := b.releaseOutgoingBlobs(ctx, p.Values, installed); err != nil {
		return err
	}
	p.Values = installed
	b.d.Transient.MarkPropertyModified(p)

	b.d.Transient.AddOperation(newOp("setPropertyValue", ids.NewPropertyItemId(p.ID())))
	return nil
}

// RemoveProperty marks p REMOVED (spec §4.5.2 "setting a property's values
// to null is equivalent to removing the property").
func (b *Batch) RemoveProperty(ctx context.Context, p *itemstate.PropertyState, opts Option) error {
	if err := b.checkAccess(ctx, opts, ids.NewPropertyItemId(p.ID()), store.Remove); err != nil {
		return err
	}
	if err := b.releaseOutgoingBlobs(ctx, p.Values, nil); err != nil {
		return err
	}
	b.d.Transient.MarkPropertyRemoved(p.ID())
	b.d.Transient.AddOperation(newOp("removeProperty", ids.NewPropertyItemId(p.ID())))
	return nil
}

func (b *Batch) effectiveTypeOfParent(ctx context.Context, parent ids.NodeId) (*nodetype.EffectiveNodeType, error) {
	n, err := b.d.Transient.GetNodeState(ctx, parent)
	if err != nil {
		return nil, err
	}
	return b.d.Types.GetEffectiveNodeTypeSet(n.AllTypeNames())
}

func validateValues(pd nodetype.PropertyDef, vals []values.Value) error {
	for _, v := range vals {
		if pd.RequiredType != values.Undefined && v.Type() != pd.RequiredType {
			return repoerr.New(repoerr.ValueFormat, "value of type %s does not match required type %s", v.Type(), pd.RequiredType)
		}
	}
	return nil
}

// installValues spills any BINARY value whose inline payload exceeds
// b.d.BlobSpillThresholdBytes into the blob store, replacing it with a
// BlobRef (spec §3 "Binary" "may spill to an external blob store"). Values
// already holding a BlobRef, and every non-BINARY value, pass through
// unchanged.
func (b *Batch) installValues(ctx context.Context, vals []values.Value) ([]values.Value, error) {
	if b.d.BlobSpillThresholdBytes <= 0 {
		return vals, nil
	}

	var out []values.Value
	for i, v := range vals {
		if v.Type() != values.Binary {
			continue
		}
		if _, isRef := v.BinaryRef(); isRef {
			continue
		}
		data := v.BinaryInline()
		if int64(len(data)) <= b.d.BlobSpillThresholdBytes {
			continue
		}
		if out == nil {
			out = append([]values.Value(nil), vals...)
		}
		key := uuid.NewString()
		if err := b.d.Persisted.Blobs().Put(ctx, key, bytes.NewReader(data), int64(len(data))); err != nil {
			return nil, repoerr.Wrap(repoerr.Internal, err, "spill binary value %d to blob store", i)
		}
		out[i] = values.NewBinaryRef(values.BlobRef{ID: key, Size: int64(len(data))})
	}
	if out == nil {
		return vals, nil
	}
	return out, nil
}

// releaseOutgoingBlobs frees blob-store payloads tied to values being
// replaced or removed (spec §4.5.2 "releases any externally-allocated
// resources tied to outgoing binary values"). A BlobRef present in both
// outgoing and incoming (unchanged across the call) is left alone.
func (b *Batch) releaseOutgoingBlobs(ctx context.Context, outgoing, incoming []values.Value) error {
	kept := make(map[string]bool, len(incoming))
	for _, v := range incoming {
		if ref, ok := v.BinaryRef(); ok {
			kept[ref.ID] = true
		}
	}
	for _, v := range outgoing {
		ref, ok := v.BinaryRef()
		if !ok || kept[ref.ID] {
			continue
		}
		if err := b.d.Persisted.Blobs().Remove(ctx, ref.ID); err != nil {
			return repoerr.Wrap(repoerr.Internal, err, "release blob %s", ref.ID)
		}
	}
	return nil
}
