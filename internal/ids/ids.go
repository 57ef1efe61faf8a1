// Package ids defines the identifier types shared across the repository
// core: node UUIDs, qualified names, and the composite item identifiers that
// address either a node or a property.
package ids

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// NodeId is the 128-bit identity of a node. It never changes after creation.
type NodeId uuid.UUID

// NewNodeId allocates a fresh random NodeId.
func NewNodeId() NodeId {
	return NodeId(uuid.New())
}

// ParseNodeId parses the canonical string form of a NodeId.
func ParseNodeId(s string) (NodeId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeId{}, fmt.Errorf("parse node id %q: %w", s, err)
	}
	return NodeId(u), nil
}

func (n NodeId) String() string { return uuid.UUID(n).String() }

func (n NodeId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

func (n *NodeId) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*n = NodeId{}
		return nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", s, err)
	}
	*n = NodeId(u)
	return nil
}

// IsZero reports whether n is the zero-value NodeId (never a real node).
func (n NodeId) IsZero() bool { return n == NodeId{} }

// QualifiedName is a (namespace URI, local name) pair. Names are unique per
// namespace; the empty namespace is the default/unqualified namespace.
type QualifiedName struct {
	Namespace string
	Local     string
}

// Residual is the reserved local name "*" matching any name not covered by
// an explicit child-node or property definition.
const Residual = "*"

func (q QualifiedName) IsResidual() bool { return q.Local == Residual }

func (q QualifiedName) String() string {
	if q.Namespace == "" {
		return q.Local
	}
	return "{" + q.Namespace + "}" + q.Local
}

func (q QualifiedName) Less(o QualifiedName) bool {
	if q.Namespace != o.Namespace {
		return q.Namespace < o.Namespace
	}
	return q.Local < o.Local
}

// PropertyId addresses a property by its parent node and qualified name.
// Properties have no UUID of their own.
type PropertyId struct {
	Parent NodeId
	Name   QualifiedName
}

func (p PropertyId) String() string {
	return p.Parent.String() + "/" + p.Name.String()
}

// ItemId is the sum type over NodeId and PropertyId. The zero value is not a
// valid ItemId; use NewNodeItemId/NewPropertyItemId to construct one.
type ItemId struct {
	node     NodeId
	prop     PropertyId
	isProp   bool
	assigned bool
}

func NewNodeItemId(id NodeId) ItemId {
	return ItemId{node: id, assigned: true}
}

func NewPropertyItemId(id PropertyId) ItemId {
	return ItemId{prop: id, isProp: true, assigned: true}
}

func (id ItemId) IsProperty() bool { return id.assigned && id.isProp }
func (id ItemId) IsNode() bool     { return id.assigned && !id.isProp }
func (id ItemId) Valid() bool      { return id.assigned }

// NodeID returns the node identity. Valid only when IsNode() is true; for a
// property item it returns the parent's NodeId, which is occasionally useful
// for logging but must not be mistaken for the property's own identity.
func (id ItemId) NodeID() NodeId {
	if id.isProp {
		return id.prop.Parent
	}
	return id.node
}

// PropertyID returns the property identity. Only valid when IsProperty().
func (id ItemId) PropertyID() PropertyId { return id.prop }

func (id ItemId) String() string {
	if !id.assigned {
		return "<unassigned>"
	}
	if id.isProp {
		return id.prop.String()
	}
	return id.node.String()
}

// SortNames returns a copy of names sorted lexicographically by their
// string form.
func SortNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

// JoinNames renders a sorted set of names for use as a cache key component.
func JoinNames(names []string) string {
	return strings.Join(SortNames(names), ",")
}
