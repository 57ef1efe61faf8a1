package transient

import (
	"context"
	"sync"
	"testing"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
	"github.com/coralrepo/coral/internal/values"
	"github.com/coralrepo/coral/internal/workspace"
)

// fakeStore is a minimal in-memory store.PersistentStore, enough to drive
// the workspace layer under test without a real SQLite backend.
type fakeStore struct {
	mu    sync.Mutex
	nodes map[ids.NodeId]*itemstate.NodeState
	props map[ids.PropertyId]*itemstate.PropertyState
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes: map[ids.NodeId]*itemstate.NodeState{},
		props: map[ids.PropertyId]*itemstate.PropertyState{},
	}
}

func (s *fakeStore) LoadNode(_ context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, repoerr.New(repoerr.NoSuchItemState, "node %s not found", id)
	}
	return n.Clone(), nil
}

func (s *fakeStore) LoadProperty(_ context.Context, id ids.PropertyId) (*itemstate.PropertyState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.props[id]
	if !ok {
		return nil, repoerr.New(repoerr.NoSuchItemState, "property %s not found", id)
	}
	return p.Clone(), nil
}

func (s *fakeStore) LoadReferences(_ context.Context, id ids.NodeId) (*store.NodeReferences, error) {
	return &store.NodeReferences{Target: id}, nil
}

func (s *fakeStore) Exists(_ context.Context, id ids.ItemId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id.IsNode() {
		_, ok := s.nodes[id.NodeID()]
		return ok, nil
	}
	_, ok := s.props[id.PropertyID()]
	return ok, nil
}

func (s *fakeStore) Execute(_ context.Context, log *itemstate.ChangeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply := func(w *itemstate.NodeOrPropertyState) {
		if w.Node != nil {
			c := w.Node.Clone()
			c.Status = itemstate.Existing
			s.nodes[c.ID] = c
			return
		}
		c := w.Property.Clone()
		c.Status = itemstate.Existing
		s.props[c.ID()] = c
	}
	for _, w := range log.New {
		apply(w)
	}
	for _, w := range log.Modified {
		apply(w)
	}
	for _, w := range log.Removed {
		if w.Node != nil {
			delete(s.nodes, w.Node.ID)
		} else {
			delete(s.props, w.Property.ID())
		}
	}
	return nil
}

func (s *fakeStore) Blobs() store.BlobStore { return nil }
func (s *fakeStore) Close() error           { return nil }

// testOp is a minimal itemstate.Operation for exercising self-containment
// and operation-containment without going through the ops package.
type testOp struct {
	kind     string
	affected []ids.ItemId
}

func (o testOp) AffectedStates() []ids.ItemId { return o.affected }
func (o testOp) Kind() string                 { return o.kind }

func newManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	ws := workspace.New(fs, nil, "")
	return New(ws, nil, nil), fs
}

func qn(local string) ids.QualifiedName { return ids.QualifiedName{Local: local} }

func TestSaveNewNodeAndProperty(t *testing.T) {
	m, fs := newManager(t)
	ctx := context.Background()

	root := ids.NewNodeId()
	rootState := &itemstate.NodeState{ID: root, Status: itemstate.Existing, PrimaryType: qn("unstructured")}
	m.nodes[root] = rootState

	child := ids.NewNodeId()
	m.CreateNewNode(child, qn("a"), qn("unstructured"), qn("unstructured"), qn("*"), root)
	p := m.CreateNewProperty(child, qn("title"))
	p.Type = values.String
	p.Values = []values.Value{values.NewString("hi")}

	if err := m.Save(ctx, root, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := fs.nodes[root]; !ok {
		t.Error("expected root to be committed to the store")
	}
	if _, ok := fs.nodes[child]; !ok {
		t.Error("expected child to be committed to the store")
	}
	if _, ok := fs.props[p.ID()]; !ok {
		t.Error("expected property to be committed to the store")
	}
	// Disposed after commit: a later access re-pulls as EXISTING.
	if _, ok := m.nodes[child]; ok {
		t.Error("expected committed node to be disposed from the transient overlay")
	}
}

func TestSaveMandatoryMissingFails(t *testing.T) {
	fs := newFakeStore()
	ws := workspace.New(fs, nil, "")

	unstructured := nodetype.Def{Name: qn("unstructured")}
	page := nodetype.Def{
		Name: qn("page"),
		PropertyDefs: []nodetype.PropertyDef{
			{DeclaringType: qn("page"), Name: qn("title"), RequiredType: values.String, Mandatory: true},
		},
	}
	registry := nodetype.New([]nodetype.Def{unstructured, page}, nil, nil, nil)
	m := New(ws, registry, nil)
	ctx := context.Background()

	root := ids.NewNodeId()
	m.nodes[root] = &itemstate.NodeState{ID: root, Status: itemstate.Existing, PrimaryType: qn("unstructured")}

	child := ids.NewNodeId()
	m.CreateNewNode(child, qn("a"), qn("page"), qn("page"), qn("*"), root)

	if err := m.Save(ctx, root, nil); err == nil {
		t.Fatal("expected a ConstraintViolation for the missing mandatory title property")
	}
}

func TestSaveCrossParentMoveRequiresBothParents(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	root := ids.NewNodeId()
	m.nodes[root] = &itemstate.NodeState{ID: root, Status: itemstate.Existing, PrimaryType: qn("unstructured")}

	a := ids.NewNodeId()
	m.CreateNewNode(a, qn("a"), qn("unstructured"), qn("unstructured"), qn("*"), root)
	b := ids.NewNodeId()
	m.CreateNewNode(b, qn("b"), qn("unstructured"), qn("unstructured"), qn("*"), root)
	x := ids.NewNodeId()
	m.CreateNewNode(x, qn("x"), qn("unstructured"), qn("unstructured"), qn("*"), a)

	if err := m.Save(ctx, root, nil); err != nil {
		t.Fatalf("initial Save: %v", err)
	}

	// Simulate move /a/x -> /b/x: detach from a, attach to b, update x's
	// primary parent, record an operation touching a, b, and x (mirrors
	// the operation ops.Batch.Move records). The prior Save disposed the
	// committed transient copies, so re-pull a, b, and x first, the way
	// the ops layer always does before mutating a node.
	if _, err := m.GetNodeState(ctx, a); err != nil {
		t.Fatalf("GetNodeState(a): %v", err)
	}
	if _, err := m.GetNodeState(ctx, b); err != nil {
		t.Fatalf("GetNodeState(b): %v", err)
	}
	xState, err := m.GetNodeState(ctx, x)
	if err != nil {
		t.Fatalf("GetNodeState(x): %v", err)
	}
	m.DetachChild(a, x)
	m.AttachChild(b, qn("x"), x)
	m.SetPrimaryParent(xState, b)
	m.AddOperation(testOp{kind: "move", affected: []ids.ItemId{
		ids.NewNodeItemId(a), ids.NewNodeItemId(b), ids.NewNodeItemId(x),
	}})

	// Saving from a alone omits b: must fail.
	if err := m.Save(ctx, a, nil); err == nil {
		t.Fatal("expected save scope missing the move's new parent to fail")
	}

	// Saving from the true root reaches both a and b: must succeed.
	if err := m.Save(ctx, root, nil); err != nil {
		t.Fatalf("expected a save scope including both parents to succeed: %v", err)
	}
}

func TestRevertDropsNewNode(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	root := ids.NewNodeId()
	m.nodes[root] = &itemstate.NodeState{ID: root, Status: itemstate.Existing, PrimaryType: qn("unstructured")}

	child := ids.NewNodeId()
	m.CreateNewNode(child, qn("a"), qn("unstructured"), qn("unstructured"), qn("*"), root)

	if err := m.Revert(ctx, root); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if _, ok := m.nodes[child]; ok {
		t.Error("expected the NEW child to be dropped by revert")
	}
	if len(m.nodes[root].ChildNodes) != 0 {
		t.Errorf("expected the dropped child's entry to be detached from the parent, got %v", m.nodes[root].ChildNodes)
	}
}

// TestRevertDirectlyOnNewNodeDetachesFromParent covers reverting a NEW node
// by its own id rather than through an ancestor: the parent's ChildNodes
// entry must not dangle after the node it names is gone.
func TestRevertDirectlyOnNewNodeDetachesFromParent(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	root := ids.NewNodeId()
	m.nodes[root] = &itemstate.NodeState{ID: root, Status: itemstate.Existing, PrimaryType: qn("unstructured")}

	child := ids.NewNodeId()
	m.CreateNewNode(child, qn("b"), qn("unstructured"), qn("unstructured"), qn("*"), root)

	if err := m.Revert(ctx, child); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	if _, ok := m.nodes[child]; ok {
		t.Error("expected the NEW node to be dropped by revert")
	}
	if len(m.nodes[root].ChildNodes) != 0 {
		t.Errorf("expected the dangling child-node entry to be detached from the parent, got %v", m.nodes[root].ChildNodes)
	}
}
