package remotedb

import (
	"sync"

	"github.com/armon/go-radix"
)

// nameTrie is a typed wrapper around a radix tree keyed by package name,
// used for prefix lookups (name completion, "packages starting with
// lua-") over an Index. A thin, mutex-guarded wrapper that hides the
// interface{} value type of the underlying tree.
type nameTrie struct {
	mu sync.RWMutex
	t  *radix.Tree
}

func newNameTrie() *nameTrie {
	return &nameTrie{t: radix.New()}
}

func (t *nameTrie) insert(name string, entries []versionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.t.Insert(name, entries)
}

func (t *nameTrie) get(name string) ([]versionEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.t.Get(name)
	if !ok {
		return nil, false
	}
	return v.([]versionEntry), true
}

// prefixNames returns every package name in the tree with the given
// prefix, in radix-tree iteration order (lexicographic).
func (t *nameTrie) prefixNames(prefix string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var names []string
	t.t.WalkPrefix(prefix, func(s string, _ interface{}) bool {
		names = append(names, s)
		return false
	})
	return names
}

func (t *nameTrie) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.t.Len()
}
