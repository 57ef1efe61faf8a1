package itemstate

import "github.com/coralrepo/coral/internal/ids"

// Operation is the narrow view the change log needs of a pending batched
// item operation (spec §4.3 "list of pending operations", §4.4 step 4): just
// enough to decide whether a save's affected-state set intersects it. The
// concrete operation types live in the ops package; itemstate only needs the
// interface, which keeps this package free of a dependency on ops.
type Operation interface {
	// AffectedStates returns every item this operation touched.
	AffectedStates() []ids.ItemId
	// Kind is a short operation name for logging ("addNode", "move", ...).
	Kind() string
}

// ReferenceUpdate records that a REFERENCE-typed property's set of target
// nodes changed, for the workspace state manager to fold into its
// references index on commit (spec §3 "node references index").
type ReferenceUpdate struct {
	Property ids.PropertyId
	Added    []ids.NodeId
	Removed  []ids.NodeId
}

// ChangeLog is the unit of commit (spec §4.4): the three affected-state
// sets plus the ordered operations that produced them and the reference-
// index deltas those operations implied.
type ChangeLog struct {
	New      []*NodeOrPropertyState
	Modified []*NodeOrPropertyState
	Removed  []*NodeOrPropertyState

	ReferenceUpdates []ReferenceUpdate

	// PreRemovalPaths records the hierarchy path each removed item had
	// before removal, resolved while the transient tree still exists, for
	// the observation callback's pre-image path (spec §6 "Observation
	// callback").
	PreRemovalPaths map[ids.ItemId]string

	Operations []Operation
}

// NodeOrPropertyState wraps exactly one of a NodeState/PropertyState so the
// three change-log sets can hold a homogeneous slice.
type NodeOrPropertyState struct {
	Node     *NodeState
	Property *PropertyState
}

func (s *NodeOrPropertyState) ID() ids.ItemId {
	if s.Node != nil {
		return ids.NewNodeItemId(s.Node.ID)
	}
	return ids.NewPropertyItemId(s.Property.ID())
}

func WrapNode(n *NodeState) *NodeOrPropertyState         { return &NodeOrPropertyState{Node: n} }
func WrapProperty(p *PropertyState) *NodeOrPropertyState { return &NodeOrPropertyState{Property: p} }

// EventKind classifies an observation event (spec §6 "Observation
// callback").
type EventKind int

const (
	EventAdded EventKind = iota
	EventModified
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventModified:
		return "modified"
	case EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is one observation payload, emitted in commit order.
type Event struct {
	Item         ids.ItemId
	Kind         EventKind
	PreImagePath string
}
