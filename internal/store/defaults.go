package store

import (
	"context"
	"sync"

	"github.com/coralrepo/coral/internal/ids"
)

// InMemoryNamespaces is a simple NamespaceRegistry backed by a map, useful
// for tests and for repositories that don't need a persisted namespace
// table. Reserved namespaces (jcr, nt, mix) are pre-registered.
type InMemoryNamespaces struct {
	mu        sync.RWMutex
	prefixURI map[string]string
	uriPrefix map[string]string
}

func NewInMemoryNamespaces() *InMemoryNamespaces {
	n := &InMemoryNamespaces{prefixURI: map[string]string{}, uriPrefix: map[string]string{}}
	for prefix, uri := range map[string]string{
		"jcr": "internal://jcr",
		"nt":  "internal://nt",
		"mix": "internal://mix",
		"":    "",
	} {
		n.Register(prefix, uri)
	}
	return n
}

func (n *InMemoryNamespaces) Register(prefix, uri string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prefixURI[prefix] = uri
	n.uriPrefix[uri] = prefix
}

func (n *InMemoryNamespaces) PrefixFor(uri string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.uriPrefix[uri]
	return p, ok
}

func (n *InMemoryNamespaces) URIFor(prefix string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	u, ok := n.prefixURI[prefix]
	return u, ok
}

func (n *InMemoryNamespaces) IsRegistered(uri string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.prefixURI[uri]
	return ok
}

// AllowAllAccess grants every request; suitable for embedding the core into
// a host that enforces access control elsewhere, or for tests.
type AllowAllAccess struct{}

func (AllowAllAccess) IsGranted(ctx context.Context, id ids.ItemId, perm Permission) (bool, error) {
	return true, nil
}

// AlwaysCheckedOut reports every path as checked-out, i.e. versioning is not
// enforced.
type AlwaysCheckedOut struct{}

func (AlwaysCheckedOut) IsCheckedOut(ctx context.Context, path string) (bool, error) {
	return true, nil
}

// NoLocks reports every path as unlocked.
type NoLocks struct{}

func (NoLocks) CheckLock(ctx context.Context, path string, session string) error {
	return nil
}
