package scripttest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"rsc.io/script"

	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/nodetype"
	"github.com/coralrepo/coral/internal/ops"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/values"
)

// cmdRegister implements `register <name> <supertypes-csv|-> [prop:TYPE[:mandatory] ...]`,
// spec §4.1's register operation restricted to the shape spec §8's scenarios
// need: a name, a supertype set, and zero or more property definitions.
func cmdRegister(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "register a node-type definition",
			Args:    "name supertypes prop:TYPE[:mandatory] ...",
		},
		sync(func(s *script.State, args []string) error {
			def, err := parseDef(args)
			if err != nil {
				return err
			}
			return h.repo.RegisterNodeTypes(def)
		}),
	)
}

// cmdRegisterFail implements `registerfail <errkind> <substr> <name>=<supertypes> ...`,
// spec §8 scenario 3 (cycle rejection): registers the whole batch and
// asserts it fails with the named error kind and that the message contains
// substr (e.g. "cycle", or the cycle path "a -> b -> a").
func cmdRegisterFail(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{
			Summary: "register a batch and assert it fails",
			Args:    "errkind substr name=supertypes ...",
		},
		sync(func(s *script.State, args []string) error {
			if len(args) < 2 {
				return fmt.Errorf("registerfail: need errkind, substr, and at least one def")
			}
			wantKind, substr, specs := args[0], args[1], args[2:]
			defs := make([]nodetype.Def, 0, len(specs))
			for _, spec := range specs {
				nameSup := strings.SplitN(spec, "=", 2)
				if len(nameSup) != 2 {
					return fmt.Errorf("registerfail: bad def %q, want name=supertypes", spec)
				}
				def, err := parseDef([]string{nameSup[0], nameSup[1]})
				if err != nil {
					return err
				}
				defs = append(defs, def)
			}
			err := h.repo.Types().RegisterBatch(defs)
			if err == nil {
				return fmt.Errorf("registerfail: batch unexpectedly succeeded")
			}
			if got := string(repoerr.KindOf(err)); got != wantKind {
				return fmt.Errorf("registerfail: got kind %s, want %s (%v)", got, wantKind, err)
			}
			if !strings.Contains(err.Error(), substr) {
				return fmt.Errorf("registerfail: error %q does not contain %q", err.Error(), substr)
			}
			return nil
		}),
	)
}

func parseDef(args []string) (nodetype.Def, error) {
	if len(args) < 2 {
		return nodetype.Def{}, fmt.Errorf("register: need at least name and supertypes")
	}
	def := nodetype.Def{Name: qn(args[0])}
	if args[1] != "-" {
		for _, s := range strings.Split(args[1], ",") {
			def.Supertypes = append(def.Supertypes, qn(s))
		}
	}
	for _, propSpec := range args[2:] {
		parts := strings.Split(propSpec, ":")
		if len(parts) < 2 {
			return nodetype.Def{}, fmt.Errorf("register: bad property spec %q, want name:TYPE[:mandatory]", propSpec)
		}
		typ, err := values.ParseType(parts[1])
		if err != nil {
			return nodetype.Def{}, err
		}
		pd := nodetype.PropertyDef{
			DeclaringType: def.Name,
			Name:          qn(parts[0]),
			RequiredType:  typ,
		}
		if len(parts) > 2 && parts[2] == "mandatory" {
			pd.Mandatory = true
		}
		def.PropertyDefs = append(def.PropertyDefs, pd)
	}
	def.NodeDefs = []nodetype.NodeDef{{
		DeclaringType:          def.Name,
		Name:                   ids.QualifiedName{Local: ids.Residual},
		AllowsSameNameSiblings: true,
	}}
	return def, nil
}

// cmdAdd implements `add <path> <type>` (spec §4.5.1).
func cmdAdd(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "add a node", Args: "path type"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("add: want path and type")
			}
			ctx := context.Background()
			parentPath, name, err := splitPath(args[0])
			if err != nil {
				return err
			}
			parentID, err := parentNodeID(ctx, h, parentPath)
			if err != nil {
				return err
			}
			parent, err := h.sess.Node(ctx, parentID)
			if err != nil {
				return err
			}
			_, err = h.sess.Ops().AddNode(ctx, parent, parentPath, name, qn(args[1]), nil, ops.All)
			return err
		}),
	)
}

// cmdSet implements `set <path> <value>`: sets an existing property's value,
// or adds a new single-valued property if none exists yet at that path
// (spec §4.5.2).
func cmdSet(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "set a property value", Args: "path value"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("set: want path and value")
			}
			ctx := context.Background()
			val := parseValue(args[1])

			item, err := h.sess.Resolve(ctx, args[0])
			if err == nil && item.IsProperty() {
				p, err := h.sess.Property(ctx, item.PropertyID())
				if err != nil {
					return err
				}
				return h.sess.Ops().SetPropertyValue(ctx, p, []values.Value{val}, ops.All)
			}

			parentPath, name, err := splitPath(args[0])
			if err != nil {
				return err
			}
			parentID, err := parentNodeID(ctx, h, parentPath)
			if err != nil {
				return err
			}
			parent, err := h.sess.Node(ctx, parentID)
			if err != nil {
				return err
			}
			_, err = h.sess.Ops().AddProperty(ctx, parent, parentPath, name, []values.Value{val}, false, ops.All)
			return err
		}),
	)
}

// cmdSave implements `save <path>` (spec §4.4).
func cmdSave(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "save a subtree", Args: "path"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("save: want a path")
			}
			ctx := context.Background()
			id, _, err := h.resolveNode(ctx, args[0])
			if err != nil {
				return err
			}
			return h.sess.Save(ctx, id)
		}),
	)
}

// cmdSaveFail implements `savefail <errkind> <substr> <path>`: asserts that
// save(path) fails with the named kind and a message containing substr
// (spec §8 scenarios 2 and 6).
func cmdSaveFail(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "save a subtree and assert it fails", Args: "errkind substr path"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 3 {
				return fmt.Errorf("savefail: want errkind, substr, path")
			}
			ctx := context.Background()
			id, _, err := h.resolveNode(ctx, args[2])
			if err != nil {
				return err
			}
			err = h.sess.Save(ctx, id)
			if err == nil {
				return fmt.Errorf("savefail: save(%s) unexpectedly succeeded", args[2])
			}
			if got := string(repoerr.KindOf(err)); got != args[0] {
				return fmt.Errorf("savefail: got kind %s, want %s (%v)", got, args[0], err)
			}
			if !strings.Contains(err.Error(), args[1]) {
				return fmt.Errorf("savefail: error %q does not contain %q", err.Error(), args[1])
			}
			return nil
		}),
	)
}

// cmdRevert implements `revert <path>` (spec §4.3 revert).
func cmdRevert(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "revert a subtree's transient overlay", Args: "path"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("revert: want a path")
			}
			ctx := context.Background()
			id, _, err := h.resolveNode(ctx, args[0])
			if err != nil {
				return err
			}
			return h.sess.Revert(ctx, id)
		}),
	)
}

// cmdMove implements `move <src> <dst>` (spec §4.5.4). dst names the new
// location in full, including its new name; no explicit SNS index is
// accepted on the destination.
func cmdMove(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "move a node", Args: "src dst"},
		sync(func(s *script.State, args []string) error {
			return doMove(h, args)
		}),
	)
}

// cmdMoveFail implements `movefail <errkind> <substr> <src> <dst>` (spec §8
// scenario 6's "moving a node to one of its own descendants fails" and the
// general boundary-behavior list).
func cmdMoveFail(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "move a node and assert it fails", Args: "errkind substr src dst"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 4 {
				return fmt.Errorf("movefail: want errkind, substr, src, dst")
			}
			err := doMove(h, args[2:])
			if err == nil {
				return fmt.Errorf("movefail: move(%s -> %s) unexpectedly succeeded", args[2], args[3])
			}
			if got := string(repoerr.KindOf(err)); got != args[0] {
				return fmt.Errorf("movefail: got kind %s, want %s (%v)", got, args[0], err)
			}
			if !strings.Contains(err.Error(), args[1]) {
				return fmt.Errorf("movefail: error %q does not contain %q", err.Error(), args[1])
			}
			return nil
		}),
	)
}

func doMove(h *harness, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("move: want src and dst")
	}
	ctx := context.Background()
	sourceID, sourcePath, err := h.resolveNode(ctx, args[0])
	if err != nil {
		return err
	}
	source, err := h.sess.Node(ctx, sourceID)
	if err != nil {
		return err
	}
	destParentPath, destName, err := splitPath(args[1])
	if err != nil {
		return err
	}
	destPath, err := hierarchy.Parse(args[1])
	if err != nil {
		return err
	}
	destIndex := destPath[len(destPath)-1].Index
	destParentID, err := parentNodeID(ctx, h, destParentPath)
	if err != nil {
		return err
	}
	destParent, err := h.sess.Node(ctx, destParentID)
	if err != nil {
		return err
	}
	return h.sess.Ops().Move(ctx, source, sourcePath, destParent, destParentPath, destName, destIndex, ops.All)
}

// cmdCopyMode implements `copy`/`clone`/`clonere <src> <dst>` (spec §4.5.5).
func cmdCopyMode(h *harness, mode ops.Mode) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "copy/clone a subtree", Args: "src dst"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("copy/clone: want src and dst")
			}
			ctx := context.Background()
			sourceID, _, err := h.resolveNode(ctx, args[0])
			if err != nil {
				return err
			}
			source, err := h.sess.Node(ctx, sourceID)
			if err != nil {
				return err
			}
			destParentPath, destName, err := splitPath(args[1])
			if err != nil {
				return err
			}
			destParentID, err := parentNodeID(ctx, h, destParentPath)
			if err != nil {
				return err
			}
			destParent, err := h.sess.Node(ctx, destParentID)
			if err != nil {
				return err
			}
			_, err = h.sess.Ops().CopyOrClone(ctx, source, destParent, destParentPath, destName, mode, ops.All)
			return err
		}),
	)
}

// cmdRemove implements `remove <path>` (spec §4.5.3).
func cmdRemove(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "remove a node", Args: "path"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("remove: want a path")
			}
			ctx := context.Background()
			targetID, targetPath, err := h.resolveNode(ctx, args[0])
			if err != nil {
				return err
			}
			target, err := h.sess.Node(ctx, targetID)
			if err != nil {
				return err
			}
			parent, ok := target.PrimaryParent()
			if !ok {
				return fmt.Errorf("remove: cannot remove the root node")
			}
			return h.sess.Ops().RemoveNode(ctx, target, targetPath, parent, ops.All)
		}),
	)
}

// cmdReopen implements `reopen`, closing and reopening the repository
// against the same store path with a fresh session (spec §8's "re-opened
// session" phrasing).
func cmdReopen(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "close and reopen the repository"},
		sync(func(s *script.State, args []string) error {
			return h.reopen(context.Background())
		}),
	)
}

// cmdRead implements `read <path> <expected>` (spec §8 scenario 1's "reads
// /root/a/title = hi"): resolves path to a property and asserts its single
// value formats to expected.
func cmdRead(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "read a property and assert its value", Args: "path expected [TYPE]"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 && len(args) != 3 {
				return fmt.Errorf("read: want path, expected value, and optionally a type")
			}
			ctx := context.Background()
			item, err := h.sess.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if !item.IsProperty() {
				return fmt.Errorf("read: %s is not a property", args[0])
			}
			p, err := h.sess.Property(ctx, item.PropertyID())
			if err != nil {
				return err
			}
			if len(p.Values) != 1 {
				return fmt.Errorf("read: %s has %d values, want 1", args[0], len(p.Values))
			}
			if got := fmtValue(p.Values[0]); got != args[1] {
				return fmt.Errorf("read: %s = %q, want %q", args[0], got, args[1])
			}
			if len(args) == 3 {
				wantType, err := values.ParseType(args[2])
				if err != nil {
					return err
				}
				if p.Type != wantType {
					return fmt.Errorf("read: %s has type %s, want %s", args[0], p.Type, wantType)
				}
			}
			return nil
		}),
	)
}

// cmdSetMixin implements `setmixin <path> <mixin>`: adds mixin to a node's
// MixinTypes (the registry's §4.1.1 register/"add mixin" step is out of
// this package's literal vocabulary, so scripts poke the state directly,
// same as the ops layer itself treats NodeState fields as plain data).
func cmdSetMixin(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "add a mixin type to a node", Args: "path mixin"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("setmixin: want path and mixin")
			}
			ctx := context.Background()
			id, _, err := h.resolveNode(ctx, args[0])
			if err != nil {
				return err
			}
			n, err := h.sess.Node(ctx, id)
			if err != nil {
				return err
			}
			n.MixinTypes = append(n.MixinTypes, qn(args[1]))
			return nil
		}),
	)
}

// cmdSetRef implements `setref <path> <targetPath>`: sets a REFERENCE-typed
// property to point at the node currently resolved by targetPath (scripts
// can't spell out a UUID they were never told, spec §8 scenario 4).
func cmdSetRef(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "set a REFERENCE property to a node's current id", Args: "path targetPath"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("setref: want path and targetPath")
			}
			ctx := context.Background()
			targetID, _, err := h.resolveNode(ctx, args[1])
			if err != nil {
				return err
			}
			val := values.NewReference(targetID)

			item, err := h.sess.Resolve(ctx, args[0])
			if err == nil && item.IsProperty() {
				p, err := h.sess.Property(ctx, item.PropertyID())
				if err != nil {
					return err
				}
				return h.sess.Ops().SetPropertyValue(ctx, p, []values.Value{val}, ops.All)
			}

			parentPath, name, err := splitPath(args[0])
			if err != nil {
				return err
			}
			parentID, err := parentNodeID(ctx, h, parentPath)
			if err != nil {
				return err
			}
			parent, err := h.sess.Node(ctx, parentID)
			if err != nil {
				return err
			}
			_, err = h.sess.Ops().AddProperty(ctx, parent, parentPath, name, []values.Value{val}, false, ops.All)
			return err
		}),
	)
}

// cmdReadRef implements `readref <path> <targetPath>`: asserts a REFERENCE
// property's single value equals targetPath's current node id.
func cmdReadRef(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "assert a REFERENCE property points at targetPath", Args: "path targetPath"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("readref: want path and targetPath")
			}
			ctx := context.Background()
			item, err := h.sess.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if !item.IsProperty() {
				return fmt.Errorf("readref: %s is not a property", args[0])
			}
			p, err := h.sess.Property(ctx, item.PropertyID())
			if err != nil {
				return err
			}
			targetID, _, err := h.resolveNode(ctx, args[1])
			if err != nil {
				return err
			}
			if len(p.Values) != 1 || p.Values[0].Reference() != targetID {
				return fmt.Errorf("readref: %s does not reference %s", args[0], args[1])
			}
			return nil
		}),
	)
}

// cmdRefCount implements `refcount <path> <n>`: asserts the references index
// for the node at path has exactly n entries (spec §6 "references index").
func cmdRefCount(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "assert a node's references-index size", Args: "path n"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("refcount: want path and n")
			}
			ctx := context.Background()
			id, _, err := h.resolveNode(ctx, args[0])
			if err != nil {
				return err
			}
			want, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			refs, err := h.repo.References(ctx, id)
			if err != nil {
				return err
			}
			got := 0
			if refs != nil {
				got = len(refs.Properties)
			}
			if got != want {
				return fmt.Errorf("refcount: %s has %d references, want %d", args[0], got, want)
			}
			return nil
		}),
	)
}

// cmdGone implements `gone <path>`: asserts path no longer resolves to
// anything (spec §8 scenario 5's "the previous /elsewhere is gone").
func cmdGone(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "assert a path no longer resolves", Args: "path"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("gone: want a path")
			}
			ctx := context.Background()
			if _, err := h.sess.Resolve(ctx, args[0]); err == nil {
				return fmt.Errorf("gone: %s still resolves", args[0])
			}
			return nil
		}),
	)
}

// cmdExists implements `exists <path>`: asserts path resolves to a node
// (spec §8 scenario 5's "the clone is reachable at its new location").
func cmdExists(h *harness) script.Cmd {
	return script.Command(
		script.CmdUsage{Summary: "assert a path resolves to a node", Args: "path"},
		sync(func(s *script.State, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exists: want a path")
			}
			ctx := context.Background()
			if _, _, err := h.resolveNode(ctx, args[0]); err != nil {
				return fmt.Errorf("exists: %s does not resolve: %w", args[0], err)
			}
			return nil
		}),
	)
}

// parentNodeID resolves a parent hierarchy.Path (as split off by splitPath)
// back to the node id it names, the empty path meaning the session root.
func parentNodeID(ctx context.Context, h *harness, parentPath hierarchy.Path) (ids.NodeId, error) {
	item, err := h.sess.Resolve(ctx, parentPath.String())
	if err != nil {
		return ids.NodeId{}, err
	}
	if !item.IsNode() {
		return ids.NodeId{}, fmt.Errorf("parent path %s does not resolve to a node", parentPath)
	}
	return item.NodeID(), nil
}
