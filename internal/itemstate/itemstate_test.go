package itemstate

import (
	"testing"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/values"
)

func qn(local string) ids.QualifiedName { return ids.QualifiedName{Local: local} }

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		New:              "NEW",
		Existing:         "EXISTING",
		ExistingModified: "EXISTING_MODIFIED",
		ExistingRemoved:  "EXISTING_REMOVED",
		StaleModified:    "STALE_MODIFIED",
		StaleDestroyed:   "STALE_DESTROYED",
		Undefined:        "UNDEFINED",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestStatusIsStaleAndIsTransient(t *testing.T) {
	if !StaleModified.IsStale() || !StaleDestroyed.IsStale() {
		t.Error("expected both STALE_* statuses to report IsStale")
	}
	if Existing.IsStale() {
		t.Error("EXISTING should not be stale")
	}
	for _, s := range []Status{New, ExistingModified, ExistingRemoved} {
		if !s.IsTransient() {
			t.Errorf("%v should be transient", s)
		}
	}
	if Existing.IsTransient() {
		t.Error("EXISTING should not be transient")
	}
}

func TestNodeStateClone(t *testing.T) {
	orig := &NodeState{
		ID:            ids.NewNodeId(),
		MixinTypes:    []ids.QualifiedName{qn("m")},
		ChildNodes:    []ChildNodeEntry{{Name: qn("a"), ID: ids.NewNodeId(), Index: 1}},
		PropertyNames: []ids.QualifiedName{qn("title")},
		Parents:       []ids.NodeId{ids.NewNodeId()},
		Overlayed:     &NodeState{ID: ids.NewNodeId()},
	}
	c := orig.Clone()

	if c.Overlayed != nil {
		t.Error("expected Clone to drop Overlayed")
	}
	c.MixinTypes[0] = qn("changed")
	if orig.MixinTypes[0] == qn("changed") {
		t.Error("expected Clone to deep-copy MixinTypes")
	}
	c.ChildNodes[0].Name = qn("changed")
	if orig.ChildNodes[0].Name == qn("changed") {
		t.Error("expected Clone to deep-copy ChildNodes")
	}
}

func TestNodeStatePrimaryParent(t *testing.T) {
	root := &NodeState{}
	if _, ok := root.PrimaryParent(); ok {
		t.Error("expected a root node (no parents) to report no primary parent")
	}

	p1, p2 := ids.NewNodeId(), ids.NewNodeId()
	child := &NodeState{Parents: []ids.NodeId{p1, p2}}
	got, ok := child.PrimaryParent()
	if !ok || got != p1 {
		t.Errorf("got %v, %v; want %v, true", got, ok, p1)
	}
	if !child.IsShared() {
		t.Error("expected a node with two parents to be shared")
	}
}

func TestNodeStateHasMixinAndAllTypeNames(t *testing.T) {
	n := &NodeState{PrimaryType: qn("unstructured"), MixinTypes: []ids.QualifiedName{qn("referenceable")}}
	if !n.HasMixin(qn("referenceable")) {
		t.Error("expected HasMixin to find the declared mixin")
	}
	if n.HasMixin(qn("versionable")) {
		t.Error("expected HasMixin to reject an undeclared mixin")
	}
	all := n.AllTypeNames()
	if len(all) != 2 || all[0] != qn("unstructured") || all[1] != qn("referenceable") {
		t.Errorf("got %v", all)
	}
}

func TestNodeStateHasPropertyAndHasChildNamed(t *testing.T) {
	n := &NodeState{
		PropertyNames: []ids.QualifiedName{qn("title")},
		ChildNodes:    []ChildNodeEntry{{Name: qn("a"), ID: ids.NewNodeId(), Index: 1}},
	}
	if !n.HasProperty(qn("title")) || n.HasProperty(qn("nope")) {
		t.Error("HasProperty mismatch")
	}
	if !n.HasChildNamed(qn("a")) || n.HasChildNamed(qn("nope")) {
		t.Error("HasChildNamed mismatch")
	}
}

func TestNodeStateChildByNameIndexAndSameNameSiblingCount(t *testing.T) {
	b1, b2 := ids.NewNodeId(), ids.NewNodeId()
	n := &NodeState{ChildNodes: []ChildNodeEntry{
		{Name: qn("b"), ID: b1, Index: 1},
		{Name: qn("b"), ID: b2, Index: 2},
	}}
	if n.SameNameSiblingCount(qn("b")) != 2 {
		t.Errorf("got %d, want 2", n.SameNameSiblingCount(qn("b")))
	}

	// Index 0 means "the first/only one", matching the hierarchy resolver's
	// absent-index convention.
	first, ok := n.ChildByNameIndex(qn("b"), 0)
	if !ok || first.ID != b1 {
		t.Errorf("got %v, want b1", first)
	}
	second, ok := n.ChildByNameIndex(qn("b"), 2)
	if !ok || second.ID != b2 {
		t.Errorf("got %v, want b2", second)
	}
	if _, ok := n.ChildByNameIndex(qn("b"), 3); ok {
		t.Error("expected no third same-name sibling")
	}
}

func TestPropertyStateCloneAndID(t *testing.T) {
	parent := ids.NewNodeId()
	orig := &PropertyState{
		Parent:    parent,
		Name:      qn("title"),
		Type:      values.String,
		Values:    []values.Value{values.NewString("hi")},
		Overlayed: &PropertyState{Parent: parent, Name: qn("title")},
	}
	c := orig.Clone()
	if c.Overlayed != nil {
		t.Error("expected Clone to drop Overlayed")
	}
	c.Values[0] = values.NewString("changed")
	if values.Equal(orig.Values[0], c.Values[0]) {
		t.Error("expected Clone to deep-copy Values")
	}
	if orig.ID() != (ids.PropertyId{Parent: parent, Name: qn("title")}) {
		t.Errorf("got %v", orig.ID())
	}
}

func TestPropertyStateReferences(t *testing.T) {
	a, b := ids.NewNodeId(), ids.NewNodeId()
	p := &PropertyState{Type: values.Reference, Values: []values.Value{values.NewReference(a), values.NewReference(b)}}
	refs := p.References()
	if len(refs) != 2 || refs[0] != a || refs[1] != b {
		t.Errorf("got %v", refs)
	}

	nonRef := &PropertyState{Type: values.String, Values: []values.Value{values.NewString("x")}}
	if refs := nonRef.References(); refs != nil {
		t.Errorf("expected no references for a non-REFERENCE property, got %v", refs)
	}
}

func TestNodeOrPropertyStateID(t *testing.T) {
	n := &NodeState{ID: ids.NewNodeId()}
	wrapped := WrapNode(n)
	if wrapped.ID() != ids.NewNodeItemId(n.ID) {
		t.Errorf("got %v", wrapped.ID())
	}

	p := &PropertyState{Parent: ids.NewNodeId(), Name: qn("title")}
	wrappedProp := WrapProperty(p)
	if wrappedProp.ID() != ids.NewPropertyItemId(p.ID()) {
		t.Errorf("got %v", wrappedProp.ID())
	}
}

func TestEventKindString(t *testing.T) {
	cases := map[EventKind]string{EventAdded: "added", EventModified: "modified", EventRemoved: "removed"}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", int(k), got, want)
		}
	}
}
