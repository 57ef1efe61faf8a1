package nodetype

import (
	"strings"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/values"
)

// NamespaceChecker is the narrow slice of the §6 namespace-registry oracle
// the validator needs: whether the namespace a QualifiedName carries (a
// prefix such as "nt") has been registered at all.
type NamespaceChecker interface {
	IsRegistered(uri string) bool
}

// validateDef runs the §4.1.1 validation algorithm for one definition
// against a provisional map (which, for a batch register, already contains
// every definition in the batch plus everything previously registered).
func validateDef(d Def, shadow map[ids.QualifiedName]Def, ns NamespaceChecker) error {
	// 1. name present; namespace registered.
	if d.Name.Local == "" {
		return repoerr.New(repoerr.InvalidNodeTypeDef, "node-type definition has no name")
	}
	if ns != nil && !ns.IsRegistered(d.Name.Namespace) && d.Name.Namespace != "" {
		return repoerr.New(repoerr.InvalidNodeTypeDef, "namespace %q is not registered", d.Name.Namespace)
	}

	// 2. each supertype exists in shadow; no self-loop.
	for _, s := range d.Supertypes {
		if s == d.Name {
			return repoerr.New(repoerr.InvalidNodeTypeDef, "%s lists itself as a supertype", d.Name)
		}
		if _, ok := shadow[s]; !ok {
			return repoerr.New(repoerr.InvalidNodeTypeDef, "%s: unknown supertype %s", d.Name, s)
		}
	}

	// 3. cycle detection over the supertype graph, seeded at d.Name.
	if path, ok := supertypeCycle(shadow, d.Name); ok {
		return repoerr.New(repoerr.InvalidNodeTypeDef, "supertype cycle: %s", formatPath(path))
	}

	// 4. supertypes merge without conflict; base-type inclusion rule.
	superEff, err := buildEffectiveForNames(shadow, d.Supertypes)
	if err != nil {
		return err
	}
	if !d.Mixin && d.Name != RootType {
		if superEff == nil || !superEff.HasMember(RootType) {
			return repoerr.New(repoerr.InvalidNodeTypeDef,
				"%s is a primary type but its supertypes do not include %s", d.Name, RootType)
		}
	}

	// 5. property definitions.
	for _, pd := range d.PropertyDefs {
		if pd.DeclaringType != d.Name {
			return repoerr.New(repoerr.InvalidNodeTypeDef,
				"%s: property %s declares type %s instead of %s", d.Name, pd.Name, pd.DeclaringType, d.Name)
		}
		if ns != nil && pd.Name.Namespace != "" && !ns.IsRegistered(pd.Name.Namespace) {
			return repoerr.New(repoerr.InvalidNodeTypeDef, "%s: property %s namespace not registered", d.Name, pd.Name)
		}
		if pd.AutoCreated {
			if pd.Name.IsResidual() {
				return repoerr.New(repoerr.InvalidNodeTypeDef, "%s: auto-created property cannot be residual", d.Name)
			}
			if pd.RequiredType == values.Undefined {
				return repoerr.New(repoerr.InvalidNodeTypeDef, "%s: auto-created property %s has no required type", d.Name, pd.Name)
			}
		}
		for _, dv := range pd.DefaultValues {
			if dv.Type() != pd.RequiredType && pd.RequiredType != values.Undefined {
				return repoerr.New(repoerr.InvalidNodeTypeDef,
					"%s: default value for %s has type %s, required %s", d.Name, pd.Name, dv.Type(), pd.RequiredType)
			}
		}
		if pd.RequiredType == values.Reference {
			for _, c := range pd.ValueConstraints {
				target := ids.QualifiedName{Local: c}
				if target != d.Name {
					if _, ok := shadow[target]; !ok {
						return repoerr.New(repoerr.InvalidNodeTypeDef,
							"%s: property %s REFERENCE constraint names unknown type %s", d.Name, pd.Name, c)
					}
				}
			}
		}
	}

	// 6. child-node definitions.
	for _, nd := range d.NodeDefs {
		if nd.DeclaringType != d.Name {
			return repoerr.New(repoerr.InvalidNodeTypeDef,
				"%s: child node %s declares type %s instead of %s", d.Name, nd.Name, nd.DeclaringType, d.Name)
		}
		if nd.AutoCreated {
			if nd.Name.IsResidual() {
				return repoerr.New(repoerr.InvalidNodeTypeDef, "%s: auto-created child node cannot be residual", d.Name)
			}
			if nd.DefaultPrimaryType.Local == "" {
				return repoerr.New(repoerr.InvalidNodeTypeDef, "%s: auto-created child %s has no default primary type", d.Name, nd.Name)
			}
		}
		if nd.DefaultPrimaryType.Local != "" && nd.DefaultPrimaryType != d.Name {
			if _, ok := shadow[nd.DefaultPrimaryType]; !ok {
				return repoerr.New(repoerr.InvalidNodeTypeDef,
					"%s: child %s default primary type %s unknown", d.Name, nd.Name, nd.DefaultPrimaryType)
			}
		}
		for _, rt := range nd.RequiredPrimaryTypes {
			if rt != d.Name {
				if _, ok := shadow[rt]; !ok {
					return repoerr.New(repoerr.InvalidNodeTypeDef,
						"%s: child %s required primary type %s unknown", d.Name, nd.Name, rt)
				}
			}
		}
		if nd.DefaultPrimaryType.Local != "" && len(nd.RequiredPrimaryTypes) > 0 {
			defEff, err := buildEffectiveForNames(shadow, []ids.QualifiedName{nd.DefaultPrimaryType})
			if err != nil {
				return err
			}
			if defEff != nil && !defEff.IncludesAll(nd.RequiredPrimaryTypes...) {
				return repoerr.New(repoerr.InvalidNodeTypeDef,
					"%s: child %s default primary type %s does not satisfy its required primary types",
					d.Name, nd.Name, nd.DefaultPrimaryType)
			}
		}
	}
	if path, ok := autoCreationCycle(shadow, d.Name); ok {
		return repoerr.New(repoerr.InvalidNodeTypeDef, "auto-created-child cycle: %s", formatPath(path))
	}

	// 7. build the effective type of D itself against shadow; any merge
	// failure aborts with a conflict error.
	if _, err := buildEffectiveForNames(shadow, append(append([]ids.QualifiedName(nil), d.Supertypes...), d.Name)); err != nil {
		return err
	}

	return nil
}

// supertypeCycle runs a DFS over the supertype graph seeded at start and
// returns the cycle path (start ... start) if one exists.
func supertypeCycle(shadow map[ids.QualifiedName]Def, start ids.QualifiedName) ([]ids.QualifiedName, bool) {
	const (
		white = iota
		gray
		black
	)
	color := map[ids.QualifiedName]int{}
	var path []ids.QualifiedName
	var cycle []ids.QualifiedName

	var visit func(n ids.QualifiedName) bool
	visit = func(n ids.QualifiedName) bool {
		color[n] = gray
		path = append(path, n)
		d, ok := shadow[n]
		if ok {
			for _, s := range d.Supertypes {
				switch color[s] {
				case white:
					if visit(s) {
						return true
					}
				case gray:
					idx := indexOf(path, s)
					cycle = append(append([]ids.QualifiedName(nil), path[idx:]...), s)
					return true
				}
			}
		}
		color[n] = black
		path = path[:len(path)-1]
		return false
	}
	if visit(start) {
		return cycle, true
	}
	return nil, false
}

// autoCreationCycle mirrors supertypeCycle but follows the default-primary-
// type edge of auto-created child-node definitions.
func autoCreationCycle(shadow map[ids.QualifiedName]Def, start ids.QualifiedName) ([]ids.QualifiedName, bool) {
	const (
		white = iota
		gray
		black
	)
	color := map[ids.QualifiedName]int{}
	var path []ids.QualifiedName
	var cycle []ids.QualifiedName

	var visit func(n ids.QualifiedName) bool
	visit = func(n ids.QualifiedName) bool {
		color[n] = gray
		path = append(path, n)
		d, ok := shadow[n]
		if ok {
			for _, nd := range d.NodeDefs {
				if !nd.AutoCreated || nd.DefaultPrimaryType.Local == "" {
					continue
				}
				target := nd.DefaultPrimaryType
				switch color[target] {
				case white:
					if visit(target) {
						return true
					}
				case gray:
					idx := indexOf(path, target)
					cycle = append(append([]ids.QualifiedName(nil), path[idx:]...), target)
					return true
				}
			}
		}
		color[n] = black
		path = path[:len(path)-1]
		return false
	}
	if visit(start) {
		return cycle, true
	}
	return nil, false
}

func indexOf(path []ids.QualifiedName, n ids.QualifiedName) int {
	for i, p := range path {
		if p == n {
			return i
		}
	}
	return 0
}

func formatPath(path []ids.QualifiedName) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = p.String()
	}
	return strings.Join(parts, " -> ")
}

// buildEffectiveForNames computes the effective type of a set of names
// against a (possibly provisional) definition map, without consulting the
// registry's runtime cache. Used by the validator, which must work against
// a shadow map that may not yet be committed.
func buildEffectiveForNames(shadow map[ids.QualifiedName]Def, names []ids.QualifiedName) (*EffectiveNodeType, error) {
	var result *EffectiveNodeType
	for _, n := range names {
		one, err := buildEffectiveForOne(shadow, n, map[ids.QualifiedName]bool{})
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = one
			continue
		}
		merged, err := merge(result, one)
		if err != nil {
			return nil, err
		}
		result = merged
	}
	return result, nil
}

func buildEffectiveForOne(shadow map[ids.QualifiedName]Def, name ids.QualifiedName, visiting map[ids.QualifiedName]bool) (*EffectiveNodeType, error) {
	if visiting[name] {
		return nil, repoerr.New(repoerr.InvalidNodeTypeDef, "supertype cycle involving %s", name)
	}
	d, ok := shadow[name]
	if !ok {
		return nil, repoerr.New(repoerr.InvalidNodeTypeDef, "unknown node type %s", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	eff := fromDef(d)
	for _, s := range d.Supertypes {
		superEff, err := buildEffectiveForOne(shadow, s, visiting)
		if err != nil {
			return nil, err
		}
		merged, err := merge(eff, superEff)
		if err != nil {
			return nil, err
		}
		eff = merged
	}
	return eff, nil
}

// IsTrivialChange reports whether newDef is an additive, non-content-
// affecting revision of oldDef: it may only add optional (non-mandatory)
// property/child-node definitions and must not touch supertypes, mixin-ness,
// or any existing definition's constraints (spec §4.1 reregister).
func IsTrivialChange(oldDef, newDef Def) bool {
	if oldDef.Mixin != newDef.Mixin {
		return false
	}
	if !sameNameSet(oldDef.Supertypes, newDef.Supertypes) {
		return false
	}
	oldProps := map[ids.QualifiedName]PropertyDef{}
	for _, p := range oldDef.PropertyDefs {
		oldProps[p.Name] = p
	}
	for _, p := range newDef.PropertyDefs {
		old, existed := oldProps[p.Name]
		if !existed {
			if p.Mandatory {
				return false
			}
			continue
		}
		if !propertyCompatible(old, p) {
			return false
		}
		delete(oldProps, p.Name)
	}
	if len(oldProps) > 0 {
		return false // a definition was removed
	}
	oldNodes := map[ids.QualifiedName]NodeDef{}
	for _, n := range oldDef.NodeDefs {
		oldNodes[n.Name] = n
	}
	for _, n := range newDef.NodeDefs {
		old, existed := oldNodes[n.Name]
		if !existed {
			if n.Mandatory {
				return false
			}
			continue
		}
		if !nodeCompatible(old, n) {
			return false
		}
		delete(oldNodes, n.Name)
	}
	return len(oldNodes) == 0
}

func sameNameSet(a, b []ids.QualifiedName) bool {
	if len(a) != len(b) {
		return false
	}
	sa := sortedNames(a)
	sb := sortedNames(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
