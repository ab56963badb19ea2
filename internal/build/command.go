package build

import (
	"context"

	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// commandBackend runs arbitrary build/install argvs with $(VAR)
// substitution and nothing else.
type commandBackend struct{}

func (commandBackend) Build(ctx context.Context, spec Spec, layout tree.RockLayout, rt RuntimeInfo, buildDir string, sink progress.Sink) (Info, error) {
	vars := layoutVars(layout, rt.BinDir, spec.ExternalDependencies)

	sink.Start("command: build", 1)
	if _, err := runPhase(ctx, buildDir, spec.BuildPass, vars); err != nil {
		sink.Done("command: build", err)
		return Info{}, err
	}
	sink.Done("command: build", nil)

	sink.Start("command: install", 1)
	if _, err := runPhase(ctx, buildDir, spec.InstallPass, vars); err != nil {
		sink.Done("command: install", err)
		return Info{}, err
	}
	sink.Done("command: install", nil)

	return Info{}, nil
}
