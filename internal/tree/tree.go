// Package tree implements the on-disk install tree layout: per-lua-version
// roots, content-addressed per-package directories, and the shared binary
// directory.
package tree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/lockfile"
	"github.com/nvim-neorocks/lux/internal/version"
)

// LayoutConfig controls where a package's etc/ directory is placed: either
// nested under the package's own root, or under a shared sibling directory
// keyed by package name.
type LayoutConfig struct {
	SharedEtc bool
}

// Tree is one install root holding packages for a single lua version.
type Tree struct {
	LuaVersion string
	Root       string
	Layout     LayoutConfig
}

// New returns a Tree rooted at root for the given lua version.
func New(root, luaVersion string, layout LayoutConfig) *Tree {
	return &Tree{LuaVersion: luaVersion, Root: root, Layout: layout}
}

// versionRoot is root/<lua_version>/.
func (t *Tree) versionRoot() string {
	return filepath.Join(t.Root, t.LuaVersion)
}

// Bin is the tree's shared wrapped-executable directory, root/bin/,
// shared across lua versions.
func (t *Tree) Bin() string {
	return filepath.Join(t.Root, "bin")
}

// dirName renders "<id>-<name>@<version>" for a package's root directory.
func dirName(id, name string, v version.Version) string {
	return fmt.Sprintf("%s-%s@%s", id, name, v.String())
}

// RootFor returns the per-package root directory for a package.
func (t *Tree) RootFor(id, name string, v version.Version) string {
	return filepath.Join(t.versionRoot(), dirName(id, name, v))
}

// RockLayout is the concrete set of directories backing one installed
// package: lib/ for native libraries, src/ for language sources, etc/ for
// docs and config (location depends on LayoutConfig).
type RockLayout struct {
	Root string
	Lib  string
	Src  string
	Etc  string
}

// InstalledRockLayout creates (idempotently) and returns the RockLayout
// for a package. lib/ and src/ are always created on demand; etc/ is
// derived from the tree's LayoutConfig.
func (t *Tree) InstalledRockLayout(id, name string, v version.Version) (RockLayout, error) {
	root := t.RootFor(id, name, v)
	layout := RockLayout{
		Root: root,
		Lib:  filepath.Join(root, "lib"),
		Src:  filepath.Join(root, "src"),
	}
	if t.Layout.SharedEtc {
		layout.Etc = filepath.Join(t.Root, "etc", name)
	} else {
		layout.Etc = filepath.Join(root, "etc")
	}

	for _, dir := range []string{layout.Lib, layout.Src, layout.Etc, t.Bin()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return RockLayout{}, errors.Wrapf(err, "creating tree directory %s", dir)
		}
	}
	return layout, nil
}

// MatchKind tags a MatchRocks result.
type MatchKind uint8

const (
	MatchNotFound MatchKind = iota
	MatchSingle
	MatchMany
)

// MatchResult is NotFound, Single (one id), or Many (several ids).
type MatchResult struct {
	Kind MatchKind
	IDs  []string // newest first; len 1 when Kind == MatchSingle
}

// MatchRocks enumerates body's entries whose name matches, filters by
// req, and returns the newest match as Single when there is exactly one,
// or the full (newest-first) set as Many otherwise.
func (t *Tree) MatchRocks(body *lockfile.Body, name string, req version.Requirement) MatchResult {
	type hit struct {
		id string
		v  version.Version
	}
	var hits []hit
	body.Each(func(lp *lockfile.LocalPackage) {
		if lp.Name != name {
			return
		}
		if !req.Matches(lp.Version) {
			return
		}
		hits = append(hits, hit{id: lp.ID, v: lp.Version})
	})

	if len(hits) == 0 {
		return MatchResult{Kind: MatchNotFound}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].v.Less(hits[j].v) })
	// reverse into newest-first order
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[len(hits)-1-i] = h.id
	}

	if len(ids) == 1 {
		return MatchResult{Kind: MatchSingle, IDs: ids}
	}
	return MatchResult{Kind: MatchMany, IDs: ids}
}

// Orphans lists on-disk package directories under the tree's version root
// that have no corresponding entry in body. Diagnostic only: the tree
// never deletes directories implicitly.
func (t *Tree) Orphans(body *lockfile.Body) ([]string, error) {
	known := make(map[string]bool)
	body.Each(func(lp *lockfile.LocalPackage) {
		known[dirName(lp.ID, lp.Name, lp.Version)] = true
	})

	root := t.versionRoot()
	entries, err := godirwalk.ReadDirents(root, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "scanning tree root %s", root)
	}

	var orphans []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if !known[e.Name()] {
			orphans = append(orphans, e.Name())
		}
	}
	sort.Strings(orphans)
	return orphans, nil
}
