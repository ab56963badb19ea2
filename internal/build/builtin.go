package build

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/procexec"
	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// builtinBackend auto-detects .lua files under src/, lua/, and lib/,
// installs each mirroring its relative path, merges in spec.Modules
// (explicit wins), and compiles any declared C sources into layout.Lib.
type builtinBackend struct{}

var builtinSourceDirs = []string{"src", "lua", "lib"}

func (builtinBackend) Build(ctx context.Context, spec Spec, layout tree.RockLayout, rt RuntimeInfo, buildDir string, sink progress.Sink) (Info, error) {
	modules, err := detectModules(buildDir)
	if err != nil {
		return Info{}, err
	}
	for name, relpath := range spec.Modules {
		modules[name] = relpath
	}

	sink.Start("builtin: install modules", len(modules))
	for name, relpath := range modules {
		src := filepath.Join(buildDir, relpath)
		dst := filepath.Join(layout.Src, filepath.FromSlash(moduleRelpath(name)))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			sink.Done("builtin: install modules", err)
			return Info{}, errors.Wrapf(err, "creating module directory for %s", name)
		}
		if err := copyFile(src, dst); err != nil {
			sink.Done("builtin: install modules", err)
			return Info{}, errors.Wrapf(err, "installing module %s", name)
		}
		sink.Advance("builtin: install modules", 1)
	}
	sink.Done("builtin: install modules", nil)

	if len(spec.CSources) > 0 {
		if err := compileCSources(ctx, spec.CSources, buildDir, layout, sink); err != nil {
			return Info{}, err
		}
	}

	return Info{Modules: modules}, nil
}

// moduleRelpath turns a dotted module name ("foo.bar") into its
// filesystem path ("foo/bar.lua").
func moduleRelpath(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".lua"
}

// moduleName is the inverse of moduleRelpath, used when auto-detecting
// modules from a directory walk.
func moduleName(relpath string) string {
	relpath = strings.TrimSuffix(relpath, ".lua")
	relpath = filepath.ToSlash(relpath)
	if strings.HasSuffix(relpath, "/init") {
		relpath = strings.TrimSuffix(relpath, "/init")
	}
	return strings.ReplaceAll(relpath, "/", ".")
}

// detectModules walks the known source directories under root and returns
// every .lua file found, keyed by its inferred dotted module name.
func detectModules(root string) (map[string]string, error) {
	modules := make(map[string]string)
	for _, dir := range builtinSourceDirs {
		base := filepath.Join(root, dir)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			continue
		}
		err := godirwalk.Walk(base, &godirwalk.Options{
			Callback: func(path string, de *godirwalk.Dirent) error {
				if de.IsDir() || !strings.HasSuffix(path, ".lua") {
					return nil
				}
				rel, err := filepath.Rel(base, path)
				if err != nil {
					return err
				}
				modules[moduleName(rel)] = filepath.Join(dir, rel)
				return nil
			},
			Unsorted: true,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "scanning %s for lua modules", base)
		}
	}
	return modules, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.ReadFrom(in)
	return err
}

// compileCSources invokes the platform C toolchain (cc, via CC if set) to
// build each declared C source into a shared object under layout.Lib.
func compileCSources(ctx context.Context, sources []string, buildDir string, layout tree.RockLayout, sink progress.Sink) error {
	cc := os.Getenv("CC")
	if cc == "" {
		cc = "cc"
	}
	sink.Start("builtin: compile C sources", len(sources))
	for _, src := range sources {
		name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
		out := filepath.Join(layout.Lib, name+".so")
		if err := os.MkdirAll(layout.Lib, 0o755); err != nil {
			return err
		}
		_, err := procexec.Run(ctx, buildDir, nil, 0, cc, "-shared", "-fPIC", "-O2", "-o", out, src)
		if err != nil {
			sink.Done("builtin: compile C sources", err)
			return errors.Wrapf(err, "compiling %s", src)
		}
		sink.Advance("builtin: compile C sources", 1)
	}
	sink.Done("builtin: compile C sources", nil)
	return nil
}
