// Package nodetype implements the node-type registry: schema validation,
// inheritance/aggregation closure into effective node types, and the
// weighted effective-type cache (spec §4.1).
package nodetype

import (
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/values"
)

// OnParentVersionAction mirrors the on-parent-version behavior a property
// definition declares; the core only needs to carry the value through, not
// interpret it (versioning enforcement lives behind the version oracle).
type OnParentVersionAction int

const (
	OPVCopy OnParentVersionAction = iota
	OPVVersion
	OPVInitialize
	OPVCompute
	OPVIgnore
	OPVAbort
)

// PropertyDef is a child-property definition (spec §3).
type PropertyDef struct {
	DeclaringType ids.QualifiedName
	Name          ids.QualifiedName // Residual name ("*") matches any name
	RequiredType  values.Type
	AutoCreated   bool
	Mandatory     bool
	Protected     bool
	Multiple      bool
	OnParentVersion OnParentVersionAction
	ValueConstraints []string
	DefaultValues    []values.Value
}

func (d PropertyDef) Matches(name ids.QualifiedName) bool {
	return d.Name == name || d.Name.IsResidual()
}

// NodeDef is a child-node definition (spec §3).
type NodeDef struct {
	DeclaringType       ids.QualifiedName
	Name                ids.QualifiedName // Residual name ("*") matches any name
	RequiredPrimaryTypes []ids.QualifiedName
	DefaultPrimaryType   ids.QualifiedName
	Mandatory           bool
	AutoCreated         bool
	Protected           bool
	AllowsSameNameSiblings bool
}

func (d NodeDef) Matches(name ids.QualifiedName) bool {
	return d.Name == name || d.Name.IsResidual()
}

// Def is a node-type definition as submitted to register/reregister.
type Def struct {
	Name ids.QualifiedName

	Supertypes []ids.QualifiedName
	Mixin      bool
	OrderableChildren bool
	PrimaryItemName   ids.QualifiedName // zero value means "none declared"

	PropertyDefs []PropertyDef
	NodeDefs     []NodeDef
}

// Dependencies returns every node-type name this definition references,
// excluding itself: supertypes, required-primary-types, default-primary-
// types, and REFERENCE value-constraint targets. Computed lazily by callers
// (the registry memoizes nothing here; definitions are small).
func (d Def) Dependencies() []ids.QualifiedName {
	seen := map[ids.QualifiedName]bool{d.Name: true}
	var out []ids.QualifiedName
	add := func(n ids.QualifiedName) {
		if n.Local == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	for _, s := range d.Supertypes {
		add(s)
	}
	for _, nd := range d.NodeDefs {
		add(nd.DefaultPrimaryType)
		for _, rt := range nd.RequiredPrimaryTypes {
			add(rt)
		}
	}
	for _, pd := range d.PropertyDefs {
		if pd.RequiredType == values.Reference {
			for _, c := range pd.ValueConstraints {
				add(ids.QualifiedName{Local: c})
			}
		}
	}
	return out
}
