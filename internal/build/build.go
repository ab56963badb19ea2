// Package build implements the build back-end dispatch: a tagged variant
// over the built-in copier, make, cmake, command, and the external
// luarocks-compat tool, each populating a per-package RockLayout.
package build

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/fsutil"
	"github.com/nvim-neorocks/lux/internal/procexec"
	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// Backend tags which strategy a Spec dispatches to.
type Backend uint8

const (
	BackendBuiltin Backend = iota
	BackendMake
	BackendCMake
	BackendCommand
	BackendExternal
)

// CommandSpec is one make/cmake/command phase: an argv template (with
// $(VAR) placeholders) and whether the phase is disabled.
type CommandSpec struct {
	Argv     []string
	Disabled bool
}

// Spec is the manifest-declared, back-end-specific build description.
type Spec struct {
	Backend Backend

	// BackendBuiltin
	Modules  map[string]string // explicit module name -> source-relative path; wins over auto-detected
	CSources []string          // compiled with the platform C toolchain, placed under layout.Lib

	// BackendMake / BackendCMake / BackendCommand
	BuildPass   CommandSpec
	InstallPass CommandSpec
	CMakeLists  string // optional text written to build dir before configuring

	// BackendExternal
	ExternalTool string
	ExternalArgs []string

	// ExternalDependencies are name -> {header, library} hints passed as
	// extra $(EXTERNAL_<NAME>_INCDIR) and $(EXTERNAL_<NAME>_LIBDIR)
	// substitution variables.
	ExternalDependencies map[string]ExternalHint
}

// ExternalHint mirrors manifest.ExternalDependencyEntry without importing
// the manifest package (which this package has no other need of).
type ExternalHint struct {
	Header  string
	Library string
}

// RuntimeInfo describes the runtime the build targets. BinDir is the
// tree's shared bin directory: $(BINDIR) substitutes to it, and the
// external back-end installs executables there directly.
type RuntimeInfo struct {
	LuaVersion string
	Platform   string
	BinDir     string
}

// Info is what a successful Build call reports back: the module names it
// installed and the binaries it wrote into the tree's bin directory.
type Info struct {
	Modules  map[string]string
	Binaries []string
}

// Backender is the contract every back-end implements: consume a spec, a
// target layout, a runtime descriptor, a build directory, and a progress
// sink; produce an Info or an error.
type Backender interface {
	Build(ctx context.Context, spec Spec, layout tree.RockLayout, rt RuntimeInfo, buildDir string, sink progress.Sink) (Info, error)
}

// Dispatch returns the Backender for spec.Backend.
func Dispatch(kind Backend) (Backender, error) {
	switch kind {
	case BackendBuiltin:
		return builtinBackend{}, nil
	case BackendMake:
		return makeBackend{}, nil
	case BackendCMake:
		return cmakeBackend{}, nil
	case BackendCommand:
		return commandBackend{}, nil
	case BackendExternal:
		return externalBackend{}, nil
	}
	return nil, errors.Errorf("unsupported build back-end %d", kind)
}

// varPattern matches a $(NAME) substitution placeholder.
var varPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// substitute rewrites every $(NAME) occurrence in tok for which vars has
// an entry; unknown names are left literal.
func substitute(tok string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(tok, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return m
	})
}

func substituteArgv(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = substitute(a, vars)
	}
	return out
}

// layoutVars renders the known substitution variables ($(PREFIX),
// $(LIBDIR), $(LUADIR), $(BINDIR), $(CONFDIR), $(DOCDIR)) plus the
// external-dependency hints.
func layoutVars(layout tree.RockLayout, binDir string, externals map[string]ExternalHint) map[string]string {
	vars := map[string]string{
		"PREFIX":  layout.Root,
		"LIBDIR":  layout.Lib,
		"LUADIR":  layout.Src,
		"BINDIR":  binDir,
		"CONFDIR": layout.Etc,
		"DOCDIR":  layout.Etc,
	}
	for name, hint := range externals {
		key := strings.ToUpper(name)
		if hint.Header != "" {
			vars[fmt.Sprintf("EXTERNAL_%s_INCDIR", key)] = hint.Header
		}
		if hint.Library != "" {
			vars[fmt.Sprintf("EXTERNAL_%s_LIBDIR", key)] = hint.Library
		}
	}
	return vars
}

func runPhase(ctx context.Context, dir string, phase CommandSpec, vars map[string]string) ([]byte, error) {
	if phase.Disabled || len(phase.Argv) == 0 {
		return nil, nil
	}
	argv := substituteArgv(phase.Argv, vars)
	res, err := procexec.Run(ctx, dir, nil, 0, argv[0], argv[1:]...)
	if err != nil {
		return res.Combined(), errors.Wrapf(err, "running %s: %s", strings.Join(argv, " "), res.Combined())
	}
	return res.Combined(), nil
}

// copyTree copies src into dst, which may already exist: the back-ends
// merge their outputs into layout directories the tree has already
// created.
func copyTree(src, dst string, ignoreDirs ...string) error {
	return fsutil.MergeTree(src, dst, ignoreDirs...)
}
