package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// cmakeBackend optionally writes a provided CMakeLists.txt into the build
// directory, then runs configure+build+install with the same $(VAR)
// substitution as makeBackend.
type cmakeBackend struct{}

func (cmakeBackend) Build(ctx context.Context, spec Spec, layout tree.RockLayout, rt RuntimeInfo, buildDir string, sink progress.Sink) (Info, error) {
	if spec.CMakeLists != "" {
		path := filepath.Join(buildDir, "CMakeLists.txt")
		if err := os.WriteFile(path, []byte(spec.CMakeLists), 0o644); err != nil {
			return Info{}, errors.Wrapf(err, "writing %s", path)
		}
	}

	vars := layoutVars(layout, rt.BinDir, spec.ExternalDependencies)
	vars["BUILDDIR"] = buildDir

	sink.Start("cmake: configure", 1)
	configure := CommandSpec{Argv: []string{"cmake", ".", "-DCMAKE_INSTALL_PREFIX=$(PREFIX)"}}
	if _, err := runPhase(ctx, buildDir, configure, vars); err != nil {
		sink.Done("cmake: configure", err)
		return Info{}, err
	}
	sink.Done("cmake: configure", nil)

	sink.Start("cmake: build", 1)
	if _, err := runPhase(ctx, buildDir, orDefaultCMake(spec.BuildPass, "--build", "."), vars); err != nil {
		sink.Done("cmake: build", err)
		return Info{}, err
	}
	sink.Done("cmake: build", nil)

	sink.Start("cmake: install", 1)
	if _, err := runPhase(ctx, buildDir, orDefaultCMake(spec.InstallPass, "--build", ".", "--target", "install"), vars); err != nil {
		sink.Done("cmake: install", err)
		return Info{}, err
	}
	sink.Done("cmake: install", nil)

	return Info{}, nil
}

func orDefaultCMake(phase CommandSpec, args ...string) CommandSpec {
	if phase.Disabled || len(phase.Argv) > 0 {
		return phase
	}
	return CommandSpec{Argv: append([]string{"cmake"}, args...)}
}
