package nodetype

import (
	"sort"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/repoerr"
)

// EffectiveNodeType is the transitive, merged closure of a set of node-type
// names (spec §4.1, "effective node type"). It is immutable once built;
// callers that need a different aggregate build (or fetch from cache) a new
// one rather than mutating this in place.
type EffectiveNodeType struct {
	// Members is the sorted, transitive set of node-type names contributing
	// to this aggregate (the requested names plus every supertype).
	Members []ids.QualifiedName

	NamedProperties    map[ids.QualifiedName]PropertyDef
	ResidualProperties []PropertyDef

	NamedNodes    map[ids.QualifiedName]NodeDef
	ResidualNodes []NodeDef
}

func newEffective(member ids.QualifiedName) *EffectiveNodeType {
	return &EffectiveNodeType{
		Members:         []ids.QualifiedName{member},
		NamedProperties: map[ids.QualifiedName]PropertyDef{},
		NamedNodes:      map[ids.QualifiedName]NodeDef{},
	}
}

func fromDef(d Def) *EffectiveNodeType {
	e := newEffective(d.Name)
	for _, pd := range d.PropertyDefs {
		if pd.Name.IsResidual() {
			e.ResidualProperties = append(e.ResidualProperties, pd)
		} else {
			e.NamedProperties[pd.Name] = pd
		}
	}
	for _, nd := range d.NodeDefs {
		if nd.Name.IsResidual() {
			e.ResidualNodes = append(e.ResidualNodes, nd)
		} else {
			e.NamedNodes[nd.Name] = nd
		}
	}
	return e
}

// HasMember reports whether name contributed to this aggregate.
func (e *EffectiveNodeType) HasMember(name ids.QualifiedName) bool {
	for _, m := range e.Members {
		if m == name {
			return true
		}
	}
	return false
}

// IncludesAll reports whether every name in names is a member.
func (e *EffectiveNodeType) IncludesAll(names ...ids.QualifiedName) bool {
	for _, n := range names {
		if !e.HasMember(n) {
			return false
		}
	}
	return true
}

// FindPropertyDef returns the most specific applicable property definition
// for name, falling back to a residual definition.
func (e *EffectiveNodeType) FindPropertyDef(name ids.QualifiedName) (PropertyDef, bool) {
	if pd, ok := e.NamedProperties[name]; ok {
		return pd, true
	}
	if len(e.ResidualProperties) > 0 {
		return e.ResidualProperties[0], true
	}
	return PropertyDef{}, false
}

// FindNodeDef returns the applicable child-node definition for name: the
// named definition if there is one, else the first residual definition. No
// required-primary-type constraint is checked here.
func (e *EffectiveNodeType) FindNodeDef(name ids.QualifiedName) (NodeDef, bool) {
	if nd, ok := e.NamedNodes[name]; ok {
		return nd, true
	}
	for _, nd := range e.ResidualNodes {
		return nd, true
	}
	return NodeDef{}, false
}

// AllNodeDefs returns every named + residual child-node definition, used to
// drive auto-created-child materialization (spec §4.5.1 step 4).
func (e *EffectiveNodeType) AllNodeDefs() []NodeDef {
	out := make([]NodeDef, 0, len(e.NamedNodes)+len(e.ResidualNodes))
	for _, nd := range e.NamedNodes {
		out = append(out, nd)
	}
	out = append(out, e.ResidualNodes...)
	return out
}

// AllPropertyDefs mirrors AllNodeDefs for properties.
func (e *EffectiveNodeType) AllPropertyDefs() []PropertyDef {
	out := make([]PropertyDef, 0, len(e.NamedProperties)+len(e.ResidualProperties))
	for _, pd := range e.NamedProperties {
		out = append(out, pd)
	}
	out = append(out, e.ResidualProperties...)
	return out
}

// merge aggregates a and b into a new EffectiveNodeType, failing with
// NodeTypeConflict when a named definition collides incompatibly (spec
// §4.1.2 "Merge of two effective types").
func merge(a, b *EffectiveNodeType) (*EffectiveNodeType, error) {
	out := &EffectiveNodeType{
		NamedProperties: map[ids.QualifiedName]PropertyDef{},
		NamedNodes:      map[ids.QualifiedName]NodeDef{},
	}
	out.Members = unionMembers(a.Members, b.Members)

	for name, pd := range a.NamedProperties {
		out.NamedProperties[name] = pd
	}
	for name, pd := range b.NamedProperties {
		if existing, ok := out.NamedProperties[name]; ok {
			if !propertyCompatible(existing, pd) {
				return nil, repoerr.New(repoerr.NodeTypeConflict,
					"property definition %s declared by %s and %s with incompatible constraints",
					name, existing.DeclaringType, pd.DeclaringType)
			}
			continue
		}
		out.NamedProperties[name] = pd
	}
	out.ResidualProperties = append(append([]PropertyDef(nil), a.ResidualProperties...), b.ResidualProperties...)

	for name, nd := range a.NamedNodes {
		out.NamedNodes[name] = nd
	}
	for name, nd := range b.NamedNodes {
		if existing, ok := out.NamedNodes[name]; ok {
			if !nodeCompatible(existing, nd) {
				return nil, repoerr.New(repoerr.NodeTypeConflict,
					"child-node definition %s declared by %s and %s with incompatible constraints",
					name, existing.DeclaringType, nd.DeclaringType)
			}
			continue
		}
		out.NamedNodes[name] = nd
	}
	out.ResidualNodes = append(append([]NodeDef(nil), a.ResidualNodes...), b.ResidualNodes...)

	return out, nil
}

func propertyCompatible(a, b PropertyDef) bool {
	if a.RequiredType != b.RequiredType {
		return false
	}
	if a.Multiple != b.Multiple {
		return false
	}
	if a.Mandatory != b.Mandatory {
		return false
	}
	return true
}

func nodeCompatible(a, b NodeDef) bool {
	if a.DefaultPrimaryType != b.DefaultPrimaryType {
		return false
	}
	if a.AllowsSameNameSiblings != b.AllowsSameNameSiblings {
		return false
	}
	if a.Mandatory != b.Mandatory {
		return false
	}
	return true
}

func unionMembers(a, b []ids.QualifiedName) []ids.QualifiedName {
	seen := make(map[ids.QualifiedName]bool, len(a)+len(b))
	out := make([]ids.QualifiedName, 0, len(a)+len(b))
	for _, n := range a {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	for _, n := range b {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
