package nodetype

import (
	"sort"
	"strings"
	"sync"

	"github.com/coralrepo/coral/internal/ids"
)

// effectiveCache is the weighted effective-type cache of spec §4.1.2. Keys
// are the sorted set of *explicit* requested member names; the weight used
// for ordering is the size of the fully transitive member set the cached
// aggregate ended up with. Two entries with identical explicit member sets
// are the same cache slot regardless of weight.
type effectiveCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	explicit []ids.QualifiedName // sorted
	eff      *EffectiveNodeType
}

func (e *cacheEntry) weight() int { return len(e.eff.Members) }

func newEffectiveCache() *effectiveCache {
	return &effectiveCache{entries: map[string]*cacheEntry{}}
}

func sortedNames(names []ids.QualifiedName) []ids.QualifiedName {
	out := append([]ids.QualifiedName(nil), names...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func joinKey(names []ids.QualifiedName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n.String()
	}
	return strings.Join(parts, "\x1f")
}

// buildSingle computes the effective type of exactly one name from the
// registry's committed definitions, used when the cache has no usable
// partial aggregate to reuse.
type buildSingleFunc func(name ids.QualifiedName) (*EffectiveNodeType, error)

// get returns the effective type for names, building and caching whatever
// the current cache contents don't already cover (spec §4.1.2 scan-and-
// subtract algorithm).
func (c *effectiveCache) get(names []ids.QualifiedName, build buildSingleFunc) (*EffectiveNodeType, error) {
	sorted := sortedNames(names)
	key := joinKey(sorted)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		return e.eff, nil
	}

	remaining := make(map[ids.QualifiedName]bool, len(sorted))
	for _, n := range sorted {
		remaining[n] = true
	}

	ordered := c.orderedEntriesLocked()

	var explicitSoFar []ids.QualifiedName
	var result *EffectiveNodeType

	merge1 := func(part *EffectiveNodeType, partExplicit []ids.QualifiedName) error {
		explicitSoFar = unionMembers(explicitSoFar, partExplicit)
		if result == nil {
			result = part
		} else {
			merged, err := merge(result, part)
			if err != nil {
				return err
			}
			result = merged
		}
		// Cache the running partial aggregate so a later request for this
		// same prefix of names hits it directly.
		c.storeLocked(explicitSoFar, result)
		return nil
	}

	for _, e := range ordered {
		if len(remaining) == 0 {
			break
		}
		if len(e.explicit) == 0 || !subsetOf(e.explicit, remaining) {
			continue
		}
		if err := merge1(e.eff, e.explicit); err != nil {
			return nil, err
		}
		for _, n := range e.explicit {
			delete(remaining, n)
		}
	}

	var leftover []ids.QualifiedName
	for n := range remaining {
		leftover = append(leftover, n)
	}
	leftover = sortedNames(leftover)

	for _, n := range leftover {
		single, err := build(n)
		if err != nil {
			return nil, err
		}
		c.storeLocked([]ids.QualifiedName{n}, single)
		if err := merge1(single, []ids.QualifiedName{n}); err != nil {
			return nil, err
		}
	}

	if result == nil {
		return nil, nil
	}
	c.storeLocked(sorted, result)
	return result, nil
}

func subsetOf(subset []ids.QualifiedName, set map[ids.QualifiedName]bool) bool {
	for _, n := range subset {
		if !set[n] {
			return false
		}
	}
	return true
}

func (c *effectiveCache) storeLocked(explicit []ids.QualifiedName, eff *EffectiveNodeType) {
	sorted := sortedNames(explicit)
	key := joinKey(sorted)
	c.entries[key] = &cacheEntry{explicit: sorted, eff: eff}
}

// orderedEntriesLocked returns cached entries ordered by descending weight,
// then ascending lexicographic key, as required by the scan-and-subtract
// algorithm. Caller must hold c.mu.
func (c *effectiveCache) orderedEntriesLocked() []*cacheEntry {
	out := make([]*cacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		wi, wj := out[i].weight(), out[j].weight()
		if wi != wj {
			return wi > wj
		}
		return joinKey(out[i].explicit) < joinKey(out[j].explicit)
	})
	return out
}

// evictContaining drops every cached aggregate whose transitive member set
// or explicit request set mentions name (spec §4.1.2: "unregistering a type
// evicts every cached aggregate whose member set contains that name").
func (c *effectiveCache) evictContaining(name ids.QualifiedName) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.eff.HasMember(name) {
			delete(c.entries, key)
			continue
		}
		for _, n := range e.explicit {
			if n == name {
				delete(c.entries, key)
				break
			}
		}
	}
}

func (c *effectiveCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*cacheEntry{}
}
