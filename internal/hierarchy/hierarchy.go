// Package hierarchy implements the path resolver of spec §4.6: a stateless
// view over a session's item-state accessor that turns paths into item ids
// and back.
package hierarchy

import (
	"context"
	"strconv"
	"strings"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/itemstate"
	"github.com/coralrepo/coral/internal/repoerr"
)

// Step is one path segment: a name plus an optional same-name-sibling index.
// Index 0 means "absent", equivalent to index 1 (spec §4.6 "indices are
// 1-based; absence of an index means index 1").
type Step struct {
	Name  ids.QualifiedName
	Index int
}

// Path is a root-relative sequence of steps. The empty Path denotes the root
// node itself.
type Path []Step

// Accessor is the narrow view of a session's state manager the resolver
// needs: look up a node by id, and find a named child or property under it.
// The transient state manager satisfies this directly.
type Accessor interface {
	Node(ctx context.Context, id ids.NodeId) (*itemstate.NodeState, error)
}

// Resolver resolves paths against one session's Accessor.
type Resolver struct {
	accessor Accessor
	root     ids.NodeId
}

func New(accessor Accessor, root ids.NodeId) *Resolver {
	return &Resolver{accessor: accessor, root: root}
}

// Parse splits a "/"-separated path string into Steps. Each segment may
// carry an explicit same-name-sibling index as "name[2]".
func Parse(s string) (Path, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Path{}, nil
	}
	parts := strings.Split(s, "/")
	out := make(Path, 0, len(parts))
	for _, part := range parts {
		step, err := parseStep(part)
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}

func parseStep(part string) (Step, error) {
	name, idxStr := part, ""
	if i := strings.IndexByte(part, '['); i >= 0 && strings.HasSuffix(part, "]") {
		name, idxStr = part[:i], part[i+1:len(part)-1]
	}
	if name == "" {
		return Step{}, repoerr.New(repoerr.PathNotFound, "empty path segment in %q", part)
	}
	step := Step{Name: ids.QualifiedName{Local: name}}
	if idxStr != "" {
		n, err := strconv.Atoi(idxStr)
		if err != nil || n < 1 {
			return Step{}, repoerr.New(repoerr.PathNotFound, "invalid same-name-sibling index in %q", part)
		}
		step.Index = n
	}
	return step, nil
}

func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, s := range p {
		b.WriteByte('/')
		b.WriteString(s.Name.String())
		if s.Index > 1 {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
		}
	}
	return b.String()
}

// ResolveNode walks path from the root, following child-node entries, and
// returns the node id at the end. Fails with PathNotFound on any missing
// step.
func (r *Resolver) ResolveNode(ctx context.Context, path Path) (ids.NodeId, error) {
	current := r.root
	for _, step := range path {
		n, err := r.accessor.Node(ctx, current)
		if err != nil {
			return ids.NodeId{}, repoerr.Wrap(repoerr.PathNotFound, err, "resolve %s", path)
		}
		entry, ok := n.ChildByNameIndex(step.Name, step.Index)
		if !ok {
			return ids.NodeId{}, repoerr.New(repoerr.PathNotFound, "no child named %s at %s", step.Name, path)
		}
		current = entry.ID
	}
	return current, nil
}

// ResolveItem resolves path to either a node or a property: the last step is
// tried first as a child node, then as a property name on the parent.
func (r *Resolver) ResolveItem(ctx context.Context, path Path) (ids.ItemId, error) {
	if len(path) == 0 {
		return ids.NewNodeItemId(r.root), nil
	}
	parentPath, last := path[:len(path)-1], path[len(path)-1]
	parentID, err := r.ResolveNode(ctx, parentPath)
	if err != nil {
		return ids.ItemId{}, err
	}
	parent, err := r.accessor.Node(ctx, parentID)
	if err != nil {
		return ids.ItemId{}, repoerr.Wrap(repoerr.PathNotFound, err, "resolve %s", path)
	}
	if entry, ok := parent.ChildByNameIndex(last.Name, last.Index); ok {
		return ids.NewNodeItemId(entry.ID), nil
	}
	if last.Index <= 1 && parent.HasProperty(last.Name) {
		return ids.NewPropertyItemId(ids.PropertyId{Parent: parentID, Name: last.Name}), nil
	}
	return ids.ItemId{}, repoerr.New(repoerr.PathNotFound, "no item named %s at %s", last.Name, path)
}

// PathOf climbs primary parents from id back to the root, building the path
// a node currently has. The accessor resolves each ancestor in turn; ties
// (same-name siblings) are broken by scanning the parent's child list for
// id's position among same-named entries.
func (r *Resolver) PathOf(ctx context.Context, id ids.NodeId) (Path, error) {
	var reversed Path
	current := id
	for current != r.root {
		n, err := r.accessor.Node(ctx, current)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.PathNotFound, err, "resolve path to %s", id)
		}
		parentID, ok := n.PrimaryParent()
		if !ok {
			return nil, repoerr.New(repoerr.PathNotFound, "%s has no primary parent and is not the root", current)
		}
		parent, err := r.accessor.Node(ctx, parentID)
		if err != nil {
			return nil, repoerr.Wrap(repoerr.PathNotFound, err, "resolve path to %s", id)
		}
		name, index, err := childNameAndIndex(parent, current)
		if err != nil {
			return nil, err
		}
		reversed = append(reversed, Step{Name: name, Index: index})
		current = parentID
	}
	out := make(Path, len(reversed))
	for i, s := range reversed {
		out[len(reversed)-1-i] = s
	}
	return out, nil
}

func childNameAndIndex(parent *itemstate.NodeState, child ids.NodeId) (ids.QualifiedName, int, error) {
	seen := map[ids.QualifiedName]int{}
	for _, c := range parent.ChildNodes {
		seen[c.Name]++
		if c.ID == child {
			return c.Name, seen[c.Name], nil
		}
	}
	return ids.QualifiedName{}, 0, repoerr.New(repoerr.PathNotFound, "%s is not listed as a child of its own parent", child)
}
