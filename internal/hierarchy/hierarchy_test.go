package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
)

// fakeAccessor is an in-memory Accessor backed by a plain map, enough to
// exercise path resolution without a real workspace/transient layer.
type fakeAccessor struct {
	nodes map[ids.NodeId]*itemstate.NodeState
}

var errNotFound = errors.New("not found")

func (f *fakeAccessor) Node(_ context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, errNotFound
	}
	return n, nil
}

func name(local string) ids.QualifiedName { return ids.QualifiedName{Local: local} }

// tree holds the ids buildTree allocates, so tests can refer to them by name
// instead of re-deriving them from the fake accessor.
type tree struct {
	root, a, b1, b2 ids.NodeId
}

func buildTree() (*fakeAccessor, tree) {
	tr := tree{root: ids.NewNodeId(), a: ids.NewNodeId(), b1: ids.NewNodeId(), b2: ids.NewNodeId()}

	acc := &fakeAccessor{nodes: map[ids.NodeId]*itemstate.NodeState{
		tr.root: {
			ID: tr.root,
			ChildNodes: []itemstate.ChildNodeEntry{
				{Name: name("a"), ID: tr.a},
			},
		},
		tr.a: {
			ID:      tr.a,
			Parents: []ids.NodeId{tr.root},
			ChildNodes: []itemstate.ChildNodeEntry{
				{Name: name("b"), ID: tr.b1},
				{Name: name("b"), ID: tr.b2},
			},
			PropertyNames: []ids.QualifiedName{name("title")},
		},
		tr.b1: {ID: tr.b1, Parents: []ids.NodeId{tr.a}},
		tr.b2: {ID: tr.b2, Parents: []ids.NodeId{tr.a}},
	}}
	return acc, tr
}

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"/", "/a", "/a/b", "/a/b[2]"}
	for _, s := range cases {
		p, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q): %v", s, err)
		}
		if got := p.String(); got != s {
			t.Errorf("Parse(%q).String() = %q, want %q", s, got, s)
		}
	}
}

func TestParseRejectsEmptySegment(t *testing.T) {
	if _, err := Parse("/a//b"); err == nil {
		t.Fatal("expected error for empty path segment")
	}
}

func TestResolveNode(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	p, _ := Parse("/a")
	id, err := r.ResolveNode(ctx, p)
	if err != nil {
		t.Fatalf("ResolveNode: %v", err)
	}
	if id != tr.a {
		t.Errorf("got %v, want %v", id, tr.a)
	}
}

func TestResolveNodeSameNameSibling(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	p, _ := Parse("/a/b[2]")
	id, err := r.ResolveNode(ctx, p)
	if err != nil {
		t.Fatalf("ResolveNode: %v", err)
	}
	if id != tr.b2 {
		t.Errorf("got %v, want %v (b2)", id, tr.b2)
	}
}

func TestResolveNodeMissing(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	p, _ := Parse("/nope")
	if _, err := r.ResolveNode(ctx, p); err == nil {
		t.Fatal("expected PathNotFound for missing child")
	}
}

func TestResolveItemProperty(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	p, _ := Parse("/a/title")
	item, err := r.ResolveItem(ctx, p)
	if err != nil {
		t.Fatalf("ResolveItem: %v", err)
	}
	if !item.IsProperty() {
		t.Fatal("expected a property item id")
	}
}

func TestResolveItemRootIsNode(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	item, err := r.ResolveItem(ctx, Path{})
	if err != nil {
		t.Fatalf("ResolveItem: %v", err)
	}
	if !item.IsNode() || item.NodeID() != tr.root {
		t.Errorf("expected root node id, got %v", item)
	}
}

func TestPathOf(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	got, err := r.PathOf(ctx, tr.b1)
	if err != nil {
		t.Fatalf("PathOf: %v", err)
	}
	if want := "/a/b"; got.String() != want {
		t.Errorf("PathOf = %q, want %q", got.String(), want)
	}
}

func TestPathOfSameNameSiblingIndex(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	got, err := r.PathOf(ctx, tr.b2)
	if err != nil {
		t.Fatalf("PathOf: %v", err)
	}
	if want := "/a/b[2]"; got.String() != want {
		t.Errorf("PathOf = %q, want %q", got.String(), want)
	}
}

func TestPathOfRoot(t *testing.T) {
	acc, tr := buildTree()
	r := New(acc, tr.root)
	ctx := context.Background()

	got, err := r.PathOf(ctx, tr.root)
	if err != nil {
		t.Fatalf("PathOf: %v", err)
	}
	if got.String() != "/" {
		t.Errorf("PathOf(root) = %q, want /", got.String())
	}
}
