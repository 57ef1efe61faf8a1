// Package itemstate defines the in-memory representation of nodes and
// properties (spec §3) shared by the workspace and transient layers.
package itemstate

import (
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/values"
)

// Status is the lifecycle status of an item state (spec §3, §4.3).
type Status int

const (
	Undefined Status = iota
	New
	Existing
	ExistingModified
	ExistingRemoved
	StaleModified
	StaleDestroyed
)

func (s Status) String() string {
	switch s {
	case New:
		return "NEW"
	case Existing:
		return "EXISTING"
	case ExistingModified:
		return "EXISTING_MODIFIED"
	case ExistingRemoved:
		return "EXISTING_REMOVED"
	case StaleModified:
		return "STALE_MODIFIED"
	case StaleDestroyed:
		return "STALE_DESTROYED"
	default:
		return "UNDEFINED"
	}
}

func (s Status) IsStale() bool {
	return s == StaleModified || s == StaleDestroyed
}

func (s Status) IsTransient() bool {
	return s == New || s == ExistingModified || s == ExistingRemoved
}

// ChildNodeEntry names one child-node linkage under a parent. Index
// distinguishes same-name siblings and is 1-based.
type ChildNodeEntry struct {
	Name  ids.QualifiedName
	ID    ids.NodeId
	Index int
}

// NodeState is the in-memory representation of one node (spec §3).
type NodeState struct {
	ID ids.NodeId

	Status Status `json:"-"`

	PrimaryType ids.QualifiedName
	MixinTypes  []ids.QualifiedName

	// DefinitionID names the applicable child-node definition (declaring
	// node-type + name) under which this node was created, used to
	// re-validate on move/copy.
	DefinitionDeclaringType ids.QualifiedName
	DefinitionName          ids.QualifiedName

	ChildNodes []ChildNodeEntry

	// PropertyNames is the set of property names present on this node.
	PropertyNames []ids.QualifiedName

	// Parents lists every parent NodeId; Parents[0] is the primary parent.
	// A root node has no parents.
	Parents []ids.NodeId

	// Overlayed is the persistent snapshot this transient copy shadows, or
	// nil for a NEW state or a workspace-layer (non-transient) state.
	Overlayed *NodeState `json:"-"`
}

func (n *NodeState) Clone() *NodeState {
	if n == nil {
		return nil
	}
	c := *n
	c.MixinTypes = append([]ids.QualifiedName(nil), n.MixinTypes...)
	c.ChildNodes = append([]ChildNodeEntry(nil), n.ChildNodes...)
	c.PropertyNames = append([]ids.QualifiedName(nil), n.PropertyNames...)
	c.Parents = append([]ids.NodeId(nil), n.Parents...)
	c.Overlayed = nil
	return &c
}

// PrimaryParent returns the primary parent and true, or the zero value and
// false for a root node.
func (n *NodeState) PrimaryParent() (ids.NodeId, bool) {
	if len(n.Parents) == 0 {
		return ids.NodeId{}, false
	}
	return n.Parents[0], true
}

func (n *NodeState) IsShared() bool { return len(n.Parents) > 1 }

func (n *NodeState) HasMixin(name ids.QualifiedName) bool {
	for _, m := range n.MixinTypes {
		if m == name {
			return true
		}
	}
	return false
}

// AllTypeNames returns the primary type plus every mixin, the set an
// effective-type lookup is keyed on.
func (n *NodeState) AllTypeNames() []ids.QualifiedName {
	out := make([]ids.QualifiedName, 0, len(n.MixinTypes)+1)
	out = append(out, n.PrimaryType)
	out = append(out, n.MixinTypes...)
	return out
}

func (n *NodeState) HasProperty(name ids.QualifiedName) bool {
	for _, p := range n.PropertyNames {
		if p == name {
			return true
		}
	}
	return false
}

func (n *NodeState) HasChildNamed(name ids.QualifiedName) bool {
	for _, c := range n.ChildNodes {
		if c.Name == name {
			return true
		}
	}
	return false
}

// ChildByNameIndex finds the child-node entry at the given 1-based index for
// name (index 0 means "the first/only one", matching the hierarchy
// resolver's absent-index convention).
func (n *NodeState) ChildByNameIndex(name ids.QualifiedName, index int) (ChildNodeEntry, bool) {
	if index <= 0 {
		index = 1
	}
	seen := 0
	for _, c := range n.ChildNodes {
		if c.Name == name {
			seen++
			if seen == index {
				return c, true
			}
		}
	}
	return ChildNodeEntry{}, false
}

// SameNameSiblingCount counts existing children named name.
func (n *NodeState) SameNameSiblingCount(name ids.QualifiedName) int {
	count := 0
	for _, c := range n.ChildNodes {
		if c.Name == name {
			count++
		}
	}
	return count
}

// PropertyState is the in-memory representation of one property (spec §3).
type PropertyState struct {
	Parent ids.NodeId
	Name   ids.QualifiedName

	Status Status `json:"-"`

	Type       values.Type
	Multivalue bool
	Values     []values.Value

	DefinitionDeclaringType ids.QualifiedName
	DefinitionName          ids.QualifiedName

	Overlayed *PropertyState `json:"-"`
}

func (p *PropertyState) Clone() *PropertyState {
	if p == nil {
		return nil
	}
	c := *p
	c.Values = append([]values.Value(nil), p.Values...)
	c.Overlayed = nil
	return &c
}

func (p *PropertyState) ID() ids.PropertyId {
	return ids.PropertyId{Parent: p.Parent, Name: p.Name}
}

// References returns every REFERENCE-typed value held by p.
func (p *PropertyState) References() []ids.NodeId {
	if p.Type != values.Reference {
		return nil
	}
	out := make([]ids.NodeId, 0, len(p.Values))
	for _, v := range p.Values {
		out = append(out, v.Reference())
	}
	return out
}
