package lockfile

import (
	"encoding/json"
	"sort"

	"github.com/iancoleman/orderedmap"
	"github.com/pkg/errors"
)

// Body is the shape shared by every lockfile section (the single-tree
// form's top level, and each of a ProjectLockfile's three dependency
// classes): a map of id to LocalPackage plus the list of entrypoint ids.
//
// The map is backed by an order-preserving map so that re-serializing an
// unmodified Body produces byte-identical output; on marshal the keys are
// additionally sorted by id.
type Body struct {
	rocks       *orderedmap.OrderedMap
	Entrypoints []string
}

// NewBody returns an empty Body.
func NewBody() *Body {
	return &Body{rocks: orderedmap.New()}
}

// Get looks up a package by id.
func (b *Body) Get(id string) (*LocalPackage, bool) {
	v, ok := b.rocks.Get(id)
	if !ok {
		return nil, false
	}
	lp, ok := v.(*LocalPackage)
	return lp, ok
}

// Put inserts or replaces a package entry.
func (b *Body) Put(lp *LocalPackage) {
	b.rocks.Set(lp.ID, lp)
}

// Delete removes a package entry by id.
func (b *Body) Delete(id string) {
	b.rocks.Delete(id)
}

// IDs returns every package id currently stored, in the map's current
// iteration order (sorted immediately before marshaling).
func (b *Body) IDs() []string {
	return append([]string(nil), b.rocks.Keys()...)
}

// Len reports how many packages are stored.
func (b *Body) Len() int { return len(b.rocks.Keys()) }

// IsEmpty reports whether the body has neither packages nor entrypoints,
// used to decide whether a ProjectLockfile section should be omitted.
func (b *Body) IsEmpty() bool { return b == nil || (b.Len() == 0 && len(b.Entrypoints) == 0) }

// Each calls fn for every stored package, in sorted-by-id order.
func (b *Body) Each(fn func(*LocalPackage)) {
	ids := b.IDs()
	sort.Strings(ids)
	for _, id := range ids {
		lp, ok := b.Get(id)
		if ok {
			fn(lp)
		}
	}
}

// Transitive returns the closure of roots under the Dependencies relation,
// including the roots themselves. Ids with no matching entry are skipped
// (the caller is expected to have validated the lockfile already).
func (b *Body) Transitive(roots []string) map[string]bool {
	seen := make(map[string]bool, len(roots))
	var walk func(id string)
	walk = func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		lp, ok := b.Get(id)
		if !ok {
			return
		}
		for _, dep := range lp.Dependencies {
			walk(dep)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return seen
}

// Validate checks the body's referential invariants: every entrypoint id
// and every dependency-list id must resolve to a stored package.
func (b *Body) Validate() error {
	for _, id := range b.Entrypoints {
		if _, ok := b.Get(id); !ok {
			return errors.Errorf("lockfile entrypoint %q has no corresponding package entry", id)
		}
	}
	var bad error
	b.Each(func(lp *LocalPackage) {
		if bad != nil {
			return
		}
		for _, dep := range lp.Dependencies {
			if _, ok := b.Get(dep); !ok {
				bad = errors.Errorf("package %q depends on %q, which has no entry", lp.ID, dep)
				return
			}
		}
	})
	return bad
}

type jsonBody struct {
	Rocks       json.RawMessage `json:"rocks,omitempty"`
	Entrypoints []string        `json:"entrypoints,omitempty"`
}

// MarshalJSON sorts the rocks map by id before encoding it, so that two
// Bodies differing only in insertion order produce identical bytes.
func (b *Body) MarshalJSON() ([]byte, error) {
	sorted := orderedmap.New()
	ids := b.IDs()
	sort.Strings(ids)
	for _, id := range ids {
		lp, _ := b.Get(id)
		sorted.Set(id, lp)
	}

	rocksJSON, err := json.Marshal(sorted)
	if err != nil {
		return nil, errors.Wrap(err, "encoding rocks map")
	}

	return json.Marshal(jsonBody{Rocks: rocksJSON, Entrypoints: b.Entrypoints})
}

// UnmarshalJSON rebuilds a Body from its wire form.
func (b *Body) UnmarshalJSON(data []byte) error {
	var j jsonBody
	if err := json.Unmarshal(data, &j); err != nil {
		return errors.Wrap(err, "decoding lockfile body")
	}

	b.rocks = orderedmap.New()
	b.Entrypoints = j.Entrypoints

	if len(j.Rocks) == 0 {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(j.Rocks, &raw); err != nil {
		return errors.Wrap(err, "decoding rocks map")
	}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		var lp LocalPackage
		if err := json.Unmarshal(raw[id], &lp); err != nil {
			return errors.Wrapf(err, "decoding rocks[%q]", id)
		}
		b.rocks.Set(id, &lp)
	}
	return nil
}
