package build

import (
	"context"

	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// makeBackend invokes the platform make twice (once for the build
// target, once for install) with $(VAR) substitution in each phase's
// argv. Either phase may be disabled; a non-zero exit is
// fatal and carries the combined stdout+stderr.
type makeBackend struct{}

func (makeBackend) Build(ctx context.Context, spec Spec, layout tree.RockLayout, rt RuntimeInfo, buildDir string, sink progress.Sink) (Info, error) {
	vars := layoutVars(layout, rt.BinDir, spec.ExternalDependencies)

	sink.Start("make: build", 1)
	if _, err := runPhase(ctx, buildDir, orDefaultMake(spec.BuildPass, "build"), vars); err != nil {
		sink.Done("make: build", err)
		return Info{}, err
	}
	sink.Done("make: build", nil)

	sink.Start("make: install", 1)
	if _, err := runPhase(ctx, buildDir, orDefaultMake(spec.InstallPass, "install"), vars); err != nil {
		sink.Done("make: install", err)
		return Info{}, err
	}
	sink.Done("make: install", nil)

	return Info{}, nil
}

// orDefaultMake falls back to a bare "make [target]" invocation when the
// manifest didn't supply an explicit argv for the phase.
func orDefaultMake(phase CommandSpec, target string) CommandSpec {
	if phase.Disabled || len(phase.Argv) > 0 {
		return phase
	}
	return CommandSpec{Argv: []string{"make", target}}
}
