package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvim-neorocks/lux/internal/version"
)

func TestParseBareVersionDependency(t *testing.T) {
	doc := `
package = "my-plugin"
version = "1.0.0-1"
lang = ">=5.1"

[dependencies]
neorg = "1.0.0"
`
	m, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "my-plugin", m.Package)
	assert.Equal(t, "1.0.0-1", m.Version)

	entry, ok := m.Dependencies["neorg"]
	require.True(t, ok)
	assert.Equal(t, "==1.0.0", entry.Requirement.String())
	assert.False(t, entry.Pin)
	assert.False(t, entry.Opt)
}

func TestParseTableDependencyWithPinAndSource(t *testing.T) {
	doc := `
package = "my-plugin"
version = "1.0.0-1"

[dependencies]
penlight = { version = ">=1.0.0", pin = true, opt = true, source = "https://example.com/penlight.git" }
`
	m, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	entry, ok := m.Dependencies["penlight"]
	require.True(t, ok)
	assert.True(t, entry.Pin)
	assert.True(t, entry.Opt)
	assert.Equal(t, "https://example.com/penlight.git", entry.Source)
	assert.True(t, entry.Requirement.Matches(mustVer(t, "1.5.0-1")))
}

func TestParseAllFourDependencyTables(t *testing.T) {
	doc := `
package = "my-plugin"
version = "1.0.0-1"

[dependencies]
a = "1.0.0"

[build_dependencies]
b = "1.0.0"

[test_dependencies]
c = "1.0.0"

[external_dependencies]
openssl = { header = "openssl/ssl.h", library = "ssl" }
`
	m, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Contains(t, m.Dependencies, "a")
	assert.Contains(t, m.BuildDependencies, "b")
	assert.Contains(t, m.TestDependencies, "c")
	ext, ok := m.ExternalDependencies["openssl"]
	require.True(t, ok)
	assert.Equal(t, "ssl", ext.Library)
}

func TestMergeExtraWinsOnScalarConflict(t *testing.T) {
	base, err := Parse(strings.NewReader(`package = "p"
version = "1.0.0-1"

[dependencies]
a = "1.0.0"
b = "1.0.0"
`))
	require.NoError(t, err)

	extra, err := Parse(strings.NewReader(`version = "2.0.0-1"

[dependencies]
a = "2.0.0"
`))
	require.NoError(t, err)

	merged := Merge(base, extra)
	assert.Equal(t, "p", merged.Package) // unset in extra, base wins
	assert.Equal(t, "2.0.0-1", merged.Version)

	aEntry := merged.Dependencies["a"]
	assert.Equal(t, "==2.0.0", aEntry.Requirement.String())
	bEntry := merged.Dependencies["b"]
	assert.Equal(t, "==1.0.0", bEntry.Requirement.String())
}

func TestLoadMergesSiblingExtraRockspec(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(`package = "p"
version = "1.0.0-1"

[dependencies]
a = "1.0.0"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ExtraRockspecName), []byte(`
[dependencies]
a = "1.5.0"
extra-only = "1.0.0"
`), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "==1.5.0", m.Dependencies["a"].Requirement.String())
	assert.Contains(t, m.Dependencies, "extra-only")
}

func TestLoadWithoutExtraRockspecIsFine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestName), []byte(`package = "p"
version = "1.0.0-1"
`), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "p", m.Package)
}

func mustVer(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	require.NoError(t, err)
	return v
}
