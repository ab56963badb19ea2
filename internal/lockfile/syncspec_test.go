package lockfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvim-neorocks/lux/internal/version"
)

func req(t *testing.T, s string) version.Requirement {
	t.Helper()
	r, err := version.ParseRequirement(s)
	require.NoError(t, err)
	return r
}

func ver(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	require.NoError(t, err)
	return v
}

func pkg(t *testing.T, id, name, v string, constraint string, deps ...string) *LocalPackage {
	lp := &LocalPackage{
		ID:           id,
		Name:         name,
		Version:      ver(t, v),
		Dependencies: deps,
	}
	if constraint != "" {
		r := req(t, constraint)
		lp.Constraint = &r
	}
	return lp
}

func fiveRockBody(t *testing.T) *Body {
	b := NewBody()
	b.Put(pkg(t, "a", "alpha", "1.0.0-1", ""))
	b.Put(pkg(t, "b", "beta", "1.0.0-1", ""))
	b.Put(pkg(t, "c", "gamma", "1.0.0-1", ""))
	b.Put(pkg(t, "d", "delta", "1.0.0-1", ""))
	b.Put(pkg(t, "e", "epsilon", "1.0.0-1", ""))
	b.Entrypoints = []string{"a", "b", "c", "d", "e"}
	return b
}

func TestEmptySyncRemovesEverything(t *testing.T) {
	b := fiveRockBody(t)
	result := PackageSyncSpec(nil, b)

	assert.Empty(t, result.ToAdd)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, result.ToRemove)
	assert.Empty(t, result.Kept)
}

func TestConstraintTighteningTriggersReadd(t *testing.T) {
	b := NewBody()
	nio := pkg(t, "nio1", "nvim-nio", "1.7.0-1", ">=1.7.0, <1.8.0")
	b.Put(nio)
	b.Entrypoints = []string{"nio1"}

	declared := []DeclaredDependency{{Name: "nvim-nio", Requirement: req(t, ">=2.0.0")}}
	result := PackageSyncSpec(declared, b)

	require.Len(t, result.ToAdd, 1)
	assert.Equal(t, "nvim-nio", result.ToAdd[0].Name)
	assert.Contains(t, result.ToRemove, "nio1")
}

func TestEntrypointRetentionKeepsTransitiveDeps(t *testing.T) {
	b := NewBody()
	neorg := pkg(t, "neorg-id", "neorg", "8.8.1-1", "", "dep1", "dep2")
	b.Put(neorg)
	b.Put(pkg(t, "dep1", "plenary", "1.0.0-1", "", "dep3"))
	b.Put(pkg(t, "dep2", "nui", "1.0.0-1", ""))
	b.Put(pkg(t, "dep3", "luafun", "1.0.0-1", ""))
	b.Put(pkg(t, "cjson-id", "lua-cjson", "2.1.0-1", "2.1.0"))
	b.Entrypoints = []string{"neorg-id", "cjson-id"}

	declared := []DeclaredDependency{
		{Name: "neorg", Requirement: req(t, "*")},
		{Name: "lua-cjson", Requirement: req(t, "2.1.0")},
		{Name: "nonexistent", Requirement: req(t, "*")},
	}
	// neorg's installed constraint must structurally equal the declared
	// requirement for it to be kept; the fixture installs it unconstrained
	// (Any), matching the declared "*" (Any) requirement.
	result := PackageSyncSpec(declared, b)

	require.Len(t, result.ToAdd, 1)
	assert.Equal(t, "nonexistent", result.ToAdd[0].Name)
	assert.NotContains(t, result.ToRemove, "dep1")
	assert.NotContains(t, result.ToRemove, "dep2")
	assert.NotContains(t, result.ToRemove, "dep3")
}

func TestSyncPartitionInvariant(t *testing.T) {
	b := fiveRockBody(t)
	// add a dependency edge so the transitive closure has something to walk
	a, _ := b.Get("a")
	a.Dependencies = []string{"b"}

	declared := []DeclaredDependency{{Name: "alpha", Requirement: version.Any}}
	result := PackageSyncSpec(declared, b)

	all := b.IDs()
	unionSet := make(map[string]bool)
	for _, id := range result.Kept {
		unionSet[id] = true
	}
	for _, id := range result.ToRemove {
		assert.False(t, unionSet[id], "kept and removed must be disjoint")
		unionSet[id] = true
	}
	assert.ElementsMatch(t, all, keys(unionSet))
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestAddingAlreadyPresentDependencyIsNoOp(t *testing.T) {
	b := NewBody()
	b.Put(pkg(t, "a", "alpha", "1.0.0-1", ""))
	b.Entrypoints = []string{"a"}

	declared := []DeclaredDependency{{Name: "alpha", Requirement: version.Any}}
	result := PackageSyncSpec(declared, b)

	assert.Empty(t, result.ToAdd)
	assert.Empty(t, result.ToRemove)
	assert.Contains(t, result.Kept, "a")
}
