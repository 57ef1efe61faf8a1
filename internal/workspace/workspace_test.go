package workspace

import (
	"context"
	"sync"
	"testing"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/store"
)

// fakeStore is a minimal in-memory store.PersistentStore that counts LoadNode
// calls, so tests can observe whether a read hit the weak-pointer cache or
// fell through to the backing store.
type fakeStore struct {
	mu        sync.Mutex
	nodes     map[ids.NodeId]*itemstate.NodeState
	props     map[ids.PropertyId]*itemstate.PropertyState
	refs      map[ids.NodeId]*store.NodeReferences
	loadCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nodes: map[ids.NodeId]*itemstate.NodeState{},
		props: map[ids.PropertyId]*itemstate.PropertyState{},
		refs:  map[ids.NodeId]*store.NodeReferences{},
	}
}

func (s *fakeStore) LoadNode(_ context.Context, id ids.NodeId) (*itemstate.NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCalls++
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.refs[id]; ok {
		return r, nil
	}
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
			s.nodes[w.Node.ID] = w.Node.Clone()
			return
		}
		s.props[w.Property.ID()] = w.Property.Clone()
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

func qn(local string) ids.QualifiedName { return ids.QualifiedName{Local: local} }

func TestGetNodeStateCachesUntilExecute(t *testing.T) {
	fs := newFakeStore()
	id := ids.NewNodeId()
	fs.nodes[id] = &itemstate.NodeState{ID: id, PrimaryType: qn("unstructured")}

	m := New(fs, nil, "")
	ctx := context.Background()

	n1, err := m.GetNodeState(ctx, id)
	if err != nil {
		t.Fatalf("GetNodeState: %v", err)
	}
	n2, err := m.GetNodeState(ctx, id)
	if err != nil {
		t.Fatalf("GetNodeState: %v", err)
	}
	if n1 != n2 {
		t.Error("expected a second read of a still-referenced node to hit the weak-pointer cache")
	}
	if fs.loadCalls != 1 {
		t.Errorf("expected exactly one backing load, got %d", fs.loadCalls)
	}

	// Execute evicts the cache entry for the touched node: the next read
	// must fall through to the backing store again.
	change := &itemstate.ChangeLog{Modified: []*itemstate.NodeOrPropertyState{itemstate.WrapNode(n1)}}
	if err := m.Execute(ctx, change); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := m.GetNodeState(ctx, id); err != nil {
		t.Fatalf("GetNodeState after Execute: %v", err)
	}
	if fs.loadCalls != 2 {
		t.Errorf("expected Execute to evict the cache entry, forcing a second load; got %d loads", fs.loadCalls)
	}
}

func TestGetNodeStateNotFound(t *testing.T) {
	fs := newFakeStore()
	m := New(fs, nil, "")
	_, err := m.GetNodeState(context.Background(), ids.NewNodeId())
	if !NotFound(err) {
		t.Errorf("expected NotFound(err) to be true, got %v", err)
	}
}

func TestHasItemState(t *testing.T) {
	fs := newFakeStore()
	id := ids.NewNodeId()
	fs.nodes[id] = &itemstate.NodeState{ID: id}
	m := New(fs, nil, "")
	ctx := context.Background()

	ok, err := m.HasItemState(ctx, ids.NewNodeItemId(id))
	if err != nil || !ok {
		t.Errorf("got %v, %v; want true, nil", ok, err)
	}
	ok, err = m.HasItemState(ctx, ids.NewNodeItemId(ids.NewNodeId()))
	if err != nil || ok {
		t.Errorf("got %v, %v; want false, nil", ok, err)
	}
}

func TestHasReferences(t *testing.T) {
	fs := newFakeStore()
	target := ids.NewNodeId()
	m := New(fs, nil, "")
	ctx := context.Background()

	has, err := m.HasReferences(ctx, target)
	if err != nil || has {
		t.Errorf("expected no references initially, got %v, %v", has, err)
	}

	fs.refs[target] = &store.NodeReferences{Target: target, Properties: []ids.PropertyId{{Parent: ids.NewNodeId(), Name: qn("ref")}}}
	has, err = m.HasReferences(ctx, target)
	if err != nil || !has {
		t.Errorf("expected a reference to be reported, got %v, %v", has, err)
	}
}

func TestExecuteEmitsListenerEventsInOrder(t *testing.T) {
	fs := newFakeStore()
	m := New(fs, nil, "")
	ctx := context.Background()

	var got []itemstate.Event
	m.AddListener(store.ListenerFunc(func(events []itemstate.Event) {
		got = append(got, events...)
	}))

	added := itemstate.WrapNode(&itemstate.NodeState{ID: ids.NewNodeId()})
	modified := itemstate.WrapNode(&itemstate.NodeState{ID: ids.NewNodeId()})
	removed := itemstate.WrapNode(&itemstate.NodeState{ID: ids.NewNodeId()})

	change := &itemstate.ChangeLog{
		New:      []*itemstate.NodeOrPropertyState{added},
		Modified: []*itemstate.NodeOrPropertyState{modified},
		Removed:  []*itemstate.NodeOrPropertyState{removed},
		PreRemovalPaths: map[ids.ItemId]string{
			removed.ID(): "/a/removed",
		},
	}
	if err := m.Execute(ctx, change); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Kind != itemstate.EventAdded || got[1].Kind != itemstate.EventModified || got[2].Kind != itemstate.EventRemoved {
		t.Errorf("got kinds %v, %v, %v", got[0].Kind, got[1].Kind, got[2].Kind)
	}
	if got[2].PreImagePath != "/a/removed" {
		t.Errorf("got pre-image path %q", got[2].PreImagePath)
	}
}

func TestNotFound(t *testing.T) {
	if !NotFound(repoerr.New(repoerr.NoSuchItemState, "gone")) {
		t.Error("expected a NoSuchItemState error to report NotFound")
	}
	if NotFound(repoerr.New(repoerr.ConstraintViolation, "nope")) {
		t.Error("expected a non-NoSuchItemState error to not report NotFound")
	}
	if NotFound(nil) {
		t.Error("expected a nil error to not report NotFound")
	}
}
