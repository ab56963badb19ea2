package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/procexec"
	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// externalBackend shells out to a bundled external (luarocks-compatible)
// tool in a scratch tree, then copies its lib/lua/<ver>, share/lua/<ver>,
// and bin/ outputs into the target RockLayout.
type externalBackend struct{}

func (externalBackend) Build(ctx context.Context, spec Spec, layout tree.RockLayout, rt RuntimeInfo, buildDir string, sink progress.Sink) (Info, error) {
	if spec.ExternalTool == "" {
		return Info{}, errors.New("external back-end requires a tool path")
	}

	scratch := filepath.Join(buildDir, ".lux-external-tree")
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return Info{}, errors.Wrap(err, "creating external tool scratch tree")
	}

	args := append([]string{"--tree=" + scratch}, spec.ExternalArgs...)

	sink.Start("external: build", 1)
	if _, err := procexec.Run(ctx, buildDir, nil, 0, spec.ExternalTool, args...); err != nil {
		sink.Done("external: build", err)
		return Info{}, errors.Wrapf(err, "running external build tool %s", spec.ExternalTool)
	}
	sink.Done("external: build", nil)

	luaDir := filepath.Join(scratch, "lib", "lua", rt.LuaVersion)
	shareDir := filepath.Join(scratch, "share", "lua", rt.LuaVersion)
	binDir := filepath.Join(scratch, "bin")

	if err := copyTree(luaDir, layout.Lib); err != nil {
		return Info{}, errors.Wrap(err, "copying external tool's compiled modules")
	}
	if err := copyTree(shareDir, layout.Src); err != nil {
		return Info{}, errors.Wrap(err, "copying external tool's lua sources")
	}

	var binaries []string
	if entries, err := os.ReadDir(binDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			binaries = append(binaries, e.Name())
		}
		if len(binaries) > 0 {
			if rt.BinDir == "" {
				return Info{}, errors.New("external back-end requires the tree bin directory")
			}
			// straight into the tree's shared bin: these names are
			// reported back through Info.Binaries already installed.
			if err := copyTree(binDir, rt.BinDir); err != nil {
				return Info{}, errors.Wrap(err, "copying external tool's binaries")
			}
		}
	}

	return Info{Binaries: binaries}, nil
}
