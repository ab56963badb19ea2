package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvim-neorocks/lux/internal/lockfile"
	"github.com/nvim-neorocks/lux/internal/version"
)

func ver(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	require.NoError(t, err)
	return v
}

func req(t *testing.T, s string) version.Requirement {
	t.Helper()
	r, err := version.ParseRequirement(s)
	require.NoError(t, err)
	return r
}

func TestInstalledRockLayoutCreatesDirsIdempotently(t *testing.T) {
	root := t.TempDir()
	tr := New(root, "5.1", LayoutConfig{})

	l1, err := tr.InstalledRockLayout("abc", "neorg", ver(t, "8.8.1-1"))
	require.NoError(t, err)
	assert.DirExists(t, l1.Lib)
	assert.DirExists(t, l1.Src)
	assert.DirExists(t, l1.Etc)
	assert.Equal(t, filepath.Join(l1.Root, "etc"), l1.Etc)

	l2, err := tr.InstalledRockLayout("abc", "neorg", ver(t, "8.8.1-1"))
	require.NoError(t, err)
	assert.Equal(t, l1, l2)
}

func TestInstalledRockLayoutSharedEtc(t *testing.T) {
	root := t.TempDir()
	tr := New(root, "5.1", LayoutConfig{SharedEtc: true})

	l, err := tr.InstalledRockLayout("abc", "neorg", ver(t, "8.8.1-1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "neorg"), l.Etc)
}

func TestMatchRocksSingleReturnsNewest(t *testing.T) {
	b := lockfile.NewBody()
	b.Put(&lockfile.LocalPackage{ID: "old", Name: "neorg", Version: ver(t, "1.0.0-1")})
	b.Put(&lockfile.LocalPackage{ID: "new", Name: "neorg", Version: ver(t, "2.0.0-1")})

	tr := New(t.TempDir(), "5.1", LayoutConfig{})
	result := tr.MatchRocks(b, "neorg", req(t, ">=1.0.0"))
	require.Equal(t, MatchMany, result.Kind)
	assert.Equal(t, []string{"new", "old"}, result.IDs)

	narrow := tr.MatchRocks(b, "neorg", req(t, ">=2.0.0"))
	require.Equal(t, MatchSingle, narrow.Kind)
	assert.Equal(t, []string{"new"}, narrow.IDs)
}

func TestMatchRocksNotFound(t *testing.T) {
	b := lockfile.NewBody()
	tr := New(t.TempDir(), "5.1", LayoutConfig{})
	result := tr.MatchRocks(b, "missing", version.Any)
	assert.Equal(t, MatchNotFound, result.Kind)
}

func TestOrphansListsUnknownDirectoriesOnly(t *testing.T) {
	root := t.TempDir()
	tr := New(root, "5.1", LayoutConfig{})

	_, err := tr.InstalledRockLayout("abc", "neorg", ver(t, "8.8.1-1"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "5.1", "stray-pkg@9.9.9"), 0o755))

	b := lockfile.NewBody()
	b.Put(&lockfile.LocalPackage{ID: "abc", Name: "neorg", Version: ver(t, "8.8.1-1")})

	orphans, err := tr.Orphans(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"stray-pkg@9.9.9"}, orphans)
}

func TestOrphansOnMissingVersionRootIsEmpty(t *testing.T) {
	tr := New(t.TempDir(), "5.4", LayoutConfig{})
	orphans, err := tr.Orphans(lockfile.NewBody())
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
