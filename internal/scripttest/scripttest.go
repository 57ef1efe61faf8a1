// Package scripttest drives an in-process repository through rsc.io/script,
// giving spec §8's literal end-to-end scenarios re-runnable scripts instead
// of hand-written Go assertions alone (SPEC_FULL.md §A.4). Grounded on the
// teacher's go.mod dependency on rsc.io/script; the command vocabulary below
// (register/add/set/save/move/copy/clone/remove/reopen/read) is this
// package's own, there being no retained call site in the example pack to
// imitate directly.
package scripttest

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"rsc.io/script"

	coral "github.com/coralrepo/coral"
	"github.com/coralrepo/coral/internal/config"
	"github.com/coralrepo/coral/internal/hierarchy"
	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/ops"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/values"
)

// harness owns the repository a single script file drives and adapts it to
// rsc.io/script's Cmd interface. A fresh harness backs each script run.
type harness struct {
	dir  string
	cfg  config.Config
	repo *coral.Repository
	sess *coral.Session
}

func newHarness(dir string) (*harness, error) {
	cfg := config.Config{StorePath: filepath.Join(dir, "repo.db")}
	repo, err := coral.Open(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &harness{dir: dir, cfg: cfg, repo: repo, sess: repo.NewSession()}, nil
}

func (h *harness) close() {
	if h.repo != nil {
		h.repo.Close()
	}
}

// reopen closes the current repository and reopens it against the same
// store path with a fresh session, simulating the "re-opened session" of
// spec §8's scenarios.
func (h *harness) reopen(ctx context.Context) error {
	h.repo.Close()
	repo, err := coral.Open(ctx, h.cfg)
	if err != nil {
		return err
	}
	h.repo = repo
	h.sess = repo.NewSession()
	return nil
}

// engine builds an rsc.io/script Engine whose commands all operate on one
// harness, so a script file's command sequence reads as a literal transcript
// of spec §8's scenarios.
func engine(h *harness) *script.Engine {
	e := script.NewEngine()
	e.Cmds = map[string]script.Cmd{
		"register":     cmdRegister(h),
		"registerfail": cmdRegisterFail(h),
		"add":          cmdAdd(h),
		"set":          cmdSet(h),
		"save":         cmdSave(h),
		"savefail":     cmdSaveFail(h),
		"revert":       cmdRevert(h),
		"move":         cmdMove(h),
		"movefail":     cmdMoveFail(h),
		"copy":         cmdCopyMode(h, ops.Copy),
		"clone":        cmdCopyMode(h, ops.Clone),
		"clonere":      cmdCopyMode(h, ops.CloneRemoveExisting),
		"remove":       cmdRemove(h),
		"reopen":       cmdReopen(h),
		"read":         cmdRead(h),
		"setmixin":     cmdSetMixin(h),
		"setref":       cmdSetRef(h),
		"readref":      cmdReadRef(h),
		"refcount":     cmdRefCount(h),
		"gone":         cmdGone(h),
		"exists":       cmdExists(h),
	}
	return e
}

func sync(run func(*script.State, []string) error) func(*script.State, ...string) (script.WaitFunc, error) {
	return func(s *script.State, args ...string) (script.WaitFunc, error) {
		return nil, run(s, args)
	}
}

// qn splits a "prefix:local" or bare "local" script-level type/property name
// into a QualifiedName, the same "prefix":="namespace" convention the
// built-in schema's own parseName uses (internal/nodetype/builtin/builtin.go).
func qn(s string) ids.QualifiedName {
	if s == ids.Residual {
		return ids.QualifiedName{Local: ids.Residual}
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return ids.QualifiedName{Namespace: s[:i], Local: s[i+1:]}
	}
	return ids.QualifiedName{Local: s}
}

// splitPath splits a "/"-path into its hierarchy.Path parent and final
// qualified name, for commands that resolve an existing node's parent
// before adding/moving/removing a named child under it.
func splitPath(path string) (hierarchy.Path, ids.QualifiedName, error) {
	p, err := hierarchy.Parse(path)
	if err != nil {
		return nil, ids.QualifiedName{}, err
	}
	if len(p) == 0 {
		return nil, ids.QualifiedName{}, repoerr.New(repoerr.PathNotFound, "cannot split the root path")
	}
	return p[:len(p)-1], p[len(p)-1].Name, nil
}

func (h *harness) resolveNode(ctx context.Context, path string) (ids.NodeId, hierarchy.Path, error) {
	p, err := hierarchy.Parse(path)
	if err != nil {
		return ids.NodeId{}, nil, err
	}
	id, err := h.sess.Resolve(ctx, path)
	if err != nil {
		return ids.NodeId{}, nil, err
	}
	if !id.IsNode() {
		return ids.NodeId{}, nil, repoerr.New(repoerr.PathNotFound, "%s is a property, not a node", path)
	}
	return id.NodeID(), p, nil
}

func parseValue(raw string) values.Value {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return values.NewLong(n)
	}
	return values.NewString(raw)
}

func fmtValue(v values.Value) string {
	switch v.Type() {
	case values.Long:
		return strconv.FormatInt(v.Long(), 10)
	case values.Reference:
		return v.Reference().String()
	default:
		return v.String()
	}
}

// RunFile opens a fresh harness rooted at a temp directory, executes the
// script at path against it, and fails t if the script (or an
// unexpectedly-erroring command within it) does not run to completion.
func RunFile(t TestingT, path string) {
	t.Helper()
	dir := t.TempDir()
	h, err := newHarness(dir)
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	defer h.close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open script %s: %v", path, err)
	}
	defer f.Close()

	e := engine(h)
	ctx := context.Background()
	state, err := script.NewState(ctx, dir, os.Environ())
	if err != nil {
		t.Fatalf("new script state: %v", err)
	}
	if err := e.Execute(state, filepath.Base(path), bufio.NewReader(f), io.Discard); err != nil {
		t.Fatalf("script %s failed: %v", path, err)
	}
}

// TestingT is the slice of *testing.T this package needs, kept narrow so
// non-test callers (a future CLI "replay" command, say) can drive RunFile
// too without pulling in the testing package.
type TestingT interface {
	Helper()
	TempDir() string
	Fatalf(format string, args ...any)
}
