// Package watchregistry tracks which source Secrets feed each watched
// destination. Entries are only ever added: a source that disappears or
// stops declaring a destination leaves its edge behind, and the sync engine
// resolves such stale edges lazily as "not found" at sync time. The mapping
// is volatile and rebuilt from the initial listing after a restart.
package watchregistry

import (
	"sync"

	"github.com/praekeltfoundation/secret-sync-controller/internal/secretref"
)

// Registry maps destination references to the set of sources that sync to
// them. Safe for concurrent use. Use New, not the zero value.
type Registry struct {
	mu      sync.RWMutex
	sources map[secretref.SecretRef]map[secretref.SecretRef]struct{}
}

func New() *Registry {
	return &Registry{
		sources: make(map[secretref.SecretRef]map[secretref.SecretRef]struct{}),
	}
}

// Record adds src to dst's source set. Recording the same edge again is a
// no-op.
func (r *Registry) Record(src, dst secretref.SecretRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sources[dst]
	if !ok {
		set = make(map[secretref.SecretRef]struct{})
		r.sources[dst] = set
	}
	set[src] = struct{}{}
}

// SourcesFor returns the sources currently registered for dst, in no
// particular order. The slice is a copy; an unknown destination yields an
// empty result.
func (r *Registry) SourcesFor(dst secretref.SecretRef) []secretref.SecretRef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]secretref.SecretRef, 0, len(r.sources[dst]))
	for src := range r.sources[dst] {
		refs = append(refs, src)
	}
	return refs
}

// Len reports how many destinations have at least one registered source.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}
