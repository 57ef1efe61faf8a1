package nodetype

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/repoerr"
	"github.com/coralrepo/coral/internal/repolog"
)

// ContentClearanceHook answers "is it safe to unregister/non-trivially
// reregister this node type given existing persisted content?" (spec §4.1,
// §9 open questions). A nil hook always reports Unsupported, matching the
// spec's directive to surface Unsupported rather than silently succeed.
type ContentClearanceHook func(ctx context.Context, name ids.QualifiedName) (safe bool, err error)

// Registry is the schema engine of spec §4.1: built-in + custom definition
// stores, a provisional-map validator, and the weighted effective-type
// cache. Reads are concurrent-safe; writes are serialized under mu.
type Registry struct {
	mu sync.RWMutex

	builtin map[ids.QualifiedName]Def
	custom  map[ids.QualifiedName]Def

	cache *effectiveCache

	namespaces     NamespaceChecker
	contentCleared ContentClearanceHook

	log *slog.Logger
}

// New builds a registry from an already-validated built-in definition set
// (loaded by the caller, typically from internal/nodetype/builtin). The
// built-in set is assumed internally consistent and is not re-validated.
func New(builtinDefs []Def, ns NamespaceChecker, hook ContentClearanceHook, log *slog.Logger) *Registry {
	if log == nil {
		log = repolog.Discard
	}
	r := &Registry{
		builtin:        map[ids.QualifiedName]Def{},
		custom:         map[ids.QualifiedName]Def{},
		cache:          newEffectiveCache(),
		namespaces:     ns,
		contentCleared: hook,
		log:            log,
	}
	for _, d := range builtinDefs {
		r.builtin[d.Name] = d
	}
	return r
}

func (r *Registry) allDefsLocked() map[ids.QualifiedName]Def {
	out := make(map[ids.QualifiedName]Def, len(r.builtin)+len(r.custom))
	for n, d := range r.builtin {
		out[n] = d
	}
	for n, d := range r.custom {
		out[n] = d
	}
	return out
}

// Register validates def against the current committed definitions and, on
// success, adds it to the custom store.
func (r *Registry) Register(def Def) error {
	return r.RegisterBatch([]Def{def})
}

// RegisterBatch validates every definition in batch against a shadow map
// that already contains the whole batch (so a group may cross-reference
// within itself), then commits all of them atomically.
func (r *Registry) RegisterBatch(batch []Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	shadow := r.allDefsLocked()
	for _, d := range batch {
		if _, exists := shadow[d.Name]; exists {
			return repoerr.New(repoerr.ItemExists, "node type %s already registered", d.Name)
		}
		shadow[d.Name] = d
	}
	for _, d := range batch {
		if err := validateDef(d, shadow, r.namespaces); err != nil {
			return err
		}
	}
	for _, d := range batch {
		r.custom[d.Name] = d
	}
	r.log.Debug("registered node types", "count", len(batch))
	return nil
}

// Unregister removes name from the custom store.
func (r *Registry) Unregister(name ids.QualifiedName) error {
	return r.UnregisterBatch([]ids.QualifiedName{name})
}

// UnregisterBatch removes every name in batch, failing the whole batch if
// any one of them cannot be safely removed.
func (r *Registry) UnregisterBatch(batch []ids.QualifiedName) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removing := make(map[ids.QualifiedName]bool, len(batch))
	for _, n := range batch {
		removing[n] = true
	}

	for _, n := range batch {
		if _, ok := r.builtin[n]; ok {
			return repoerr.New(repoerr.InvalidNodeTypeDef, "%s is a built-in node type and cannot be unregistered", n)
		}
		if _, ok := r.custom[n]; !ok {
			return repoerr.New(repoerr.ItemNotFound, "node type %s is not registered", n)
		}
		for other, d := range r.allDefsLocked() {
			if removing[other] {
				continue
			}
			for _, dep := range d.Dependencies() {
				if dep == n {
					return repoerr.New(repoerr.InvalidNodeTypeDef,
						"node type %s still depends on %s", other, n)
				}
			}
		}
		if r.contentCleared == nil {
			return repoerr.New(repoerr.Unsupported, "content-reference scan for %s is not implemented", n)
		}
		safe, err := r.contentCleared(context.Background(), n)
		if err != nil {
			return repoerr.Wrap(repoerr.Unsupported, err, "content-clearance check for %s failed", n)
		}
		if !safe {
			return repoerr.New(repoerr.InvalidNodeTypeDef, "existing content still references %s", n)
		}
	}

	for _, n := range batch {
		delete(r.custom, n)
		r.cache.evictContaining(n)
	}
	return nil
}

// Reregister replaces an existing custom definition. Trivial (additive,
// non-content-affecting) changes are always permitted; anything else
// requires the content-clearance hook to report the change safe.
func (r *Registry) Reregister(def Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.custom[def.Name]
	if !ok {
		if _, isBuiltin := r.builtin[def.Name]; isBuiltin {
			return repoerr.New(repoerr.InvalidNodeTypeDef, "%s is a built-in node type and cannot be reregistered", def.Name)
		}
		return repoerr.New(repoerr.ItemNotFound, "node type %s is not registered", def.Name)
	}

	shadow := r.allDefsLocked()
	shadow[def.Name] = def
	if err := validateDef(def, shadow, r.namespaces); err != nil {
		return err
	}

	if !IsTrivialChange(old, def) {
		if r.contentCleared == nil {
			return repoerr.New(repoerr.Unsupported, "content-reference scan for %s is not implemented", def.Name)
		}
		safe, err := r.contentCleared(context.Background(), def.Name)
		if err != nil {
			return repoerr.Wrap(repoerr.Unsupported, err, "content-clearance check for %s failed", def.Name)
		}
		if !safe {
			return repoerr.New(repoerr.ConstraintViolation, "existing content is not compatible with the new definition of %s", def.Name)
		}
	}

	r.custom[def.Name] = def
	r.cache.evictContaining(def.Name)
	return nil
}

// GetEffectiveNodeType returns the merged type for a single node-type name.
func (r *Registry) GetEffectiveNodeType(name ids.QualifiedName) (*EffectiveNodeType, error) {
	return r.GetEffectiveNodeTypeSet([]ids.QualifiedName{name})
}

// GetEffectiveNodeTypeSet returns the merged type for a set of node-type
// names (primary type + mixins), consulting and populating the weighted
// cache.
func (r *Registry) GetEffectiveNodeTypeSet(names []ids.QualifiedName) (*EffectiveNodeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	build := func(name ids.QualifiedName) (*EffectiveNodeType, error) {
		shadow := r.allDefsLocked()
		return buildEffectiveForOne(shadow, name, map[ids.QualifiedName]bool{})
	}
	return r.cache.get(names, build)
}

// GetDef returns the committed definition for name.
func (r *Registry) GetDef(name ids.QualifiedName) (Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.custom[name]; ok {
		return d, true
	}
	d, ok := r.builtin[name]
	return d, ok
}

// CustomDefs returns a snapshot of every definition in the custom store,
// sorted by name, for a caller (e.g. the repository's defio persistence
// layer) to serialize.
func (r *Registry) CustomDefs() []Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Def, 0, len(r.custom))
	for _, d := range r.custom {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name.Less(out[j].Name) })
	return out
}

// GetDependents returns every registered type whose dependency set contains
// name.
func (r *Registry) GetDependents(name ids.QualifiedName) []ids.QualifiedName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ids.QualifiedName
	for n, d := range r.allDefsLocked() {
		for _, dep := range d.Dependencies() {
			if dep == name {
				out = append(out, n)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
