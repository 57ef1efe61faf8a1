package nodetype

import (
	"testing"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/values"
)

func qn(local string) ids.QualifiedName { return ids.QualifiedName{Namespace: "t", Local: local} }

// baseDefs gives every test registry the two builtin types validateDef
// itself depends on: nt:base (the root of the primary-type hierarchy) and
// nt:unstructured (the residual fallback used across the scripttest
// scenarios).
func baseDefs() []Def {
	return []Def{
		{Name: RootType},
		{
			Name:       Unstructured,
			Supertypes: []ids.QualifiedName{RootType},
			PropertyDefs: []PropertyDef{
				{DeclaringType: Unstructured, Name: ids.QualifiedName{Local: ids.Residual}, RequiredType: values.Undefined, Multiple: true},
			},
			NodeDefs: []NodeDef{
				{DeclaringType: Unstructured, Name: ids.QualifiedName{Local: ids.Residual}, DefaultPrimaryType: Unstructured, AllowsSameNameSiblings: true},
			},
		},
	}
}

func newTestRegistry() *Registry {
	return New(baseDefs(), nil, nil, nil)
}

func TestRegisterRequiresBaseType(t *testing.T) {
	r := newTestRegistry()
	err := r.Register(Def{Name: qn("orphan")})
	if err == nil {
		t.Fatal("expected a primary type with no supertypes to be rejected")
	}
}

func TestRegisterAndGetDef(t *testing.T) {
	r := newTestRegistry()
	def := Def{Name: qn("page"), Supertypes: []ids.QualifiedName{RootType}}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, ok := r.GetDef(qn("page"))
	if !ok {
		t.Fatal("expected t:page to be registered")
	}
	if got.Name != qn("page") {
		t.Errorf("got %v", got.Name)
	}
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := newTestRegistry()
	def := Def{Name: qn("page"), Supertypes: []ids.QualifiedName{RootType}}
	if err := r.Register(def); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(def); err == nil {
		t.Fatal("expected registering the same name twice to fail")
	}
}

func TestRegisterUnknownSupertypeRejected(t *testing.T) {
	r := newTestRegistry()
	err := r.Register(Def{Name: qn("page"), Supertypes: []ids.QualifiedName{qn("noSuchType")}})
	if err == nil {
		t.Fatal("expected an unknown supertype to be rejected")
	}
}

func TestRegisterBatchCycleRejected(t *testing.T) {
	r := newTestRegistry()
	a := Def{Name: qn("a"), Mixin: true, Supertypes: []ids.QualifiedName{qn("b")}}
	b := Def{Name: qn("b"), Mixin: true, Supertypes: []ids.QualifiedName{qn("a")}}
	err := r.RegisterBatch([]Def{a, b})
	if err == nil {
		t.Fatal("expected a supertype cycle to be rejected")
	}
}

func TestRegisterBatchSelfLoopRejected(t *testing.T) {
	r := newTestRegistry()
	err := r.Register(Def{Name: qn("a"), Mixin: true, Supertypes: []ids.QualifiedName{qn("a")}})
	if err == nil {
		t.Fatal("expected a self-referencing supertype to be rejected")
	}
}

func TestUnregisterBuiltinRejected(t *testing.T) {
	r := newTestRegistry()
	if err := r.Unregister(RootType); err == nil {
		t.Fatal("expected unregistering a built-in type to fail")
	}
}

func TestUnregisterStillDependedOnRejected(t *testing.T) {
	r := newTestRegistry()
	base := Def{Name: qn("base"), Mixin: true}
	child := Def{Name: qn("child"), Supertypes: []ids.QualifiedName{RootType, qn("base")}}
	if err := r.RegisterBatch([]Def{base, child}); err != nil {
		t.Fatalf("RegisterBatch: %v", err)
	}
	if err := r.Unregister(qn("base")); err == nil {
		t.Fatal("expected unregistering a still-depended-on type to fail")
	}
}

func TestGetEffectiveNodeTypeMergesSupertypeProperties(t *testing.T) {
	r := newTestRegistry()
	base := Def{
		Name: qn("titled"), Mixin: true,
		PropertyDefs: []PropertyDef{
			{DeclaringType: qn("titled"), Name: qn("title"), RequiredType: values.String, Mandatory: true},
		},
	}
	page := Def{Name: qn("page"), Supertypes: []ids.QualifiedName{RootType, qn("titled")}}
	if err := r.RegisterBatch([]Def{base, page}); err != nil {
		t.Fatalf("RegisterBatch: %v", err)
	}

	eff, err := r.GetEffectiveNodeTypeSet([]ids.QualifiedName{qn("page")})
	if err != nil {
		t.Fatalf("GetEffectiveNodeTypeSet: %v", err)
	}
	if !eff.IncludesAll(qn("page"), qn("titled"), RootType) {
		t.Errorf("expected effective type to include page, titled, and %s; got %v", RootType, eff.Members)
	}
	pd, ok := eff.FindPropertyDef(qn("title"))
	if !ok || !pd.Mandatory {
		t.Errorf("expected an inherited mandatory title property definition")
	}
}

func TestRegisterConflictingSupertypeProperty(t *testing.T) {
	r := newTestRegistry()
	a := Def{
		Name: qn("a"), Mixin: true,
		PropertyDefs: []PropertyDef{{DeclaringType: qn("a"), Name: qn("x"), RequiredType: values.String}},
	}
	b := Def{
		Name: qn("b"), Mixin: true,
		PropertyDefs: []PropertyDef{{DeclaringType: qn("b"), Name: qn("x"), RequiredType: values.Long}},
	}
	page := Def{Name: qn("page"), Supertypes: []ids.QualifiedName{RootType, qn("a"), qn("b")}}
	if err := r.RegisterBatch([]Def{a, b}); err != nil {
		t.Fatalf("RegisterBatch: %v", err)
	}

	// page's two supertypes declare "x" with incompatible required types;
	// validateDef's step 4 merges supertypes eagerly, so registration
	// itself (not a later effective-type lookup) is where this surfaces.
	if err := r.Register(page); err == nil {
		t.Fatal("expected a NodeTypeConflict for incompatible property definitions")
	}
}

func TestReregisterBuiltinRejected(t *testing.T) {
	r := newTestRegistry()
	if err := r.Reregister(Def{Name: RootType}); err == nil {
		t.Fatal("expected reregistering a built-in type to fail")
	}
}
