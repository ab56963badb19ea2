package remotedb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvim-neorocks/lux/internal/version"
)

const sampleIndex = `{
  "lua-cjson": {
    "2.1.0-1": [{"arch": "linux-x86_64"}, {"arch": "rockspec"}],
    "2.0.0-1": [{"arch": "rockspec"}]
  },
  "neorg": {
    "8.8.1-1": [{"arch": "src"}],
    "8.7.0-1": [{"arch": "rockspec"}, {"arch": "unknown-future-tag"}]
  }
}`

func reqFor(t *testing.T, s string) version.Requirement {
	t.Helper()
	r, err := version.ParseRequirement(s)
	require.NoError(t, err)
	return r
}

const sampleIndexYAML = `
neorg:
  8.8.1-1:
    - arch: src
  8.7.0-1:
    - arch: rockspec
`

func TestParseIndexFallsBackToYAMLWhenNotJSON(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndexYAML))
	require.NoError(t, err)

	hit, ok := idx.Find("neorg", version.Any, Filter{Rockspec: true, Src: true})
	require.True(t, ok)
	assert.Equal(t, "8.8.1-1", hit.Version.String())
}

func TestParseIndexRejectsGarbageInNeitherFormat(t *testing.T) {
	_, err := ParseIndex([]byte("not json: {{{ nor valid yaml: ]["))
	require.Error(t, err)
}

func TestFindPicksNewestVersionThenHighestArchPriority(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	hit, ok := idx.Find("lua-cjson", version.Any, Filter{Rockspec: true, Binary: true})
	require.True(t, ok)
	assert.Equal(t, "2.1.0-1", hit.Version.String())
	assert.Equal(t, ArchTag("linux-x86_64"), hit.Arch) // binary outranks rockspec at the same version
}

func TestFindRespectsFilter(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	hit, ok := idx.Find("lua-cjson", version.Any, Filter{Rockspec: true})
	require.True(t, ok)
	assert.Equal(t, "2.1.0-1", hit.Version.String())
	assert.Equal(t, ArchRockspec, hit.Arch)
}

func TestFindHonorsRequirement(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	hit, ok := idx.Find("lua-cjson", reqFor(t, "2.0.0"), Filter{Rockspec: true, Binary: true})
	require.True(t, ok)
	assert.Equal(t, "2.0.0-1", hit.Version.String())
}

func TestFindUnknownNameNotFound(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	_, ok := idx.Find("nonexistent", version.Any, Filter{Rockspec: true, Src: true, Binary: true})
	assert.False(t, ok)
}

func TestFindUnknownArchTagIsKeptAsPlatformTriplet(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	hit, ok := idx.Find("neorg", reqFor(t, "8.7.0"), Filter{Binary: true})
	require.True(t, ok)
	assert.Equal(t, ArchTag("unknown-future-tag"), hit.Arch)
}

func TestNamesWithPrefix(t *testing.T) {
	idx, err := ParseIndex([]byte(sampleIndex))
	require.NoError(t, err)

	names := idx.NamesWithPrefix("lua-")
	assert.Equal(t, []string{"lua-cjson"}, names)
	assert.Equal(t, 2, idx.Len())
}
