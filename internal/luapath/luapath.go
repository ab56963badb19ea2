// Package luapath implements path composition: assembling LUA_PATH,
// LUA_CPATH, and PATH-prefix entries from a tree's installed packages,
// for run/test/shell-style command launches.
package luapath

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/nvim-neorocks/lux/internal/lockfile"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// SharedLibExt returns the platform's native-library extension used by
// LuaCPath entries ("so", "dylib", or "dll").
func SharedLibExt() string {
	switch runtime.GOOS {
	case "windows":
		return "dll"
	case "darwin":
		return "dylib"
	default:
		return "so"
	}
}

// LuaPath returns, in body's iteration order, the "src/?.lua" and
// "src/?/init.lua" entries for every installed package, de-duplicated.
func LuaPath(t *tree.Tree, body *lockfile.Body) []string {
	var entries []string
	body.Each(func(lp *lockfile.LocalPackage) {
		src := filepath.Join(t.RootFor(lp.ID, lp.Name, lp.Version), "src")
		entries = append(entries, filepath.Join(src, "?.lua"), filepath.Join(src, "?", "init.lua"))
	})
	return dedup(entries)
}

// LuaCPath returns the "lib/?.<ext>" entries for every installed package,
// de-duplicated.
func LuaCPath(t *tree.Tree, body *lockfile.Body) []string {
	ext := SharedLibExt()
	var entries []string
	body.Each(func(lp *lockfile.LocalPackage) {
		lib := filepath.Join(t.RootFor(lp.ID, lp.Name, lp.Version), "lib")
		entries = append(entries, filepath.Join(lib, "?."+ext))
	})
	return dedup(entries)
}

// PathPrefix returns the tree's shared bin directory as a one-entry PATH
// prefix.
func PathPrefix(t *tree.Tree) []string {
	return []string{t.Bin()}
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func splitEnvList(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, string(os.PathListSeparator))
}

// prepend joins tree-derived entries, existing's own (de-duplicated
// against what's already present), in that order, using the platform
// path-list separator.
func prepend(entries []string, existing string) string {
	combined := append(append([]string(nil), entries...), splitEnvList(existing)...)
	return strings.Join(dedup(combined), string(os.PathListSeparator))
}

// LuaPathPrepended renders LuaPath's entries prepended to the calling
// process's current LUA_PATH.
func LuaPathPrepended(t *tree.Tree, body *lockfile.Body) string {
	return prepend(LuaPath(t, body), os.Getenv("LUA_PATH"))
}

// LuaCPathPrepended renders LuaCPath's entries prepended to the calling
// process's current LUA_CPATH.
func LuaCPathPrepended(t *tree.Tree, body *lockfile.Body) string {
	return prepend(LuaCPath(t, body), os.Getenv("LUA_CPATH"))
}

// PathPrepended renders the tree's bin directory prepended to the calling
// process's current PATH.
func PathPrepended(t *tree.Tree) string {
	return prepend(PathPrefix(t), os.Getenv("PATH"))
}
