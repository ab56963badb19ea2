// Package install implements the install pipeline: for each
// resolver-produced install spec it materializes a source tree,
// dispatches the declared build back-end into a tree layout, copies
// binaries and extra directories, and returns the resulting LocalPackage
// records for the caller to fold into a single lockfile write session.
package install

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/vcs"
	"github.com/pkg/errors"
	"github.com/sdboyer/constext"
	"github.com/termie/go-shutil"
	"golang.org/x/sync/errgroup"

	"github.com/nvim-neorocks/lux/internal/build"
	"github.com/nvim-neorocks/lux/internal/download"
	"github.com/nvim-neorocks/lux/internal/fsutil"
	"github.com/nvim-neorocks/lux/internal/lockfile"
	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/resolver"
	"github.com/nvim-neorocks/lux/internal/tree"
)

// Downloader is the subset of *download.Client the pipeline needs to
// re-fetch an install spec's declared archive source.
type Downloader interface {
	Fetch(ctx context.Context, req download.Request) (download.Artifact, error)
}

// Pipeline drives the per-spec install tasks against one tree. Regular
// and build dependencies target different trees, so callers construct a
// Pipeline per dependency class and invoke Run once on each.
type Pipeline struct {
	Tree              *tree.Tree
	Downloader        Downloader
	PerPackageTimeout time.Duration // <=0 disables the per-package timeout
	Sink              progress.Sink
}

// Outcome is one task's result: the materialized package plus its tree
// layout, or the error that aborted it.
type Outcome struct {
	Spec   resolver.InstallSpec
	Local  *lockfile.LocalPackage
	Layout tree.RockLayout
}

// Run executes one build task per spec concurrently. A single task's
// failure cancels the others at their next suspension point
// (errgroup.WithContext) and Run returns that error; tree files already
// written by tasks that had completed are not rolled back. The tree is
// additive and idempotent, so partial state is harmless.
func (p *Pipeline) Run(ctx context.Context, specs []resolver.InstallSpec) ([]Outcome, error) {
	outcomes := make([]Outcome, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			out, err := p.runOne(gctx, spec)
			if err != nil {
				return errors.Wrapf(err, "installing %s %s", spec.Name, spec.Version)
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *Pipeline) runOne(ctx context.Context, spec resolver.InstallSpec) (Outcome, error) {
	taskCtx := ctx
	cancel := func() {}
	if p.PerPackageTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), p.PerPackageTimeout)
		merged, mergedCancel := constext.Cons(ctx, timeoutCtx)
		taskCtx = merged
		cancel = func() { mergedCancel(); timeoutCancel() }
	}
	defer cancel()

	// a scoped temporary directory, released when the task ends
	// regardless of outcome.
	buildDir, err := os.MkdirTemp("", "lux-build-*")
	if err != nil {
		return Outcome{}, errors.Wrap(err, "creating scoped build directory")
	}
	defer os.RemoveAll(buildDir)

	p.Sink.Start(spec.Name, 1)

	// materialize the source.
	if err := p.materialize(taskCtx, spec, buildDir); err != nil {
		p.Sink.Done(spec.Name, err)
		return Outcome{}, errors.Wrap(err, "materializing source")
	}

	// compute the target RockLayout via the tree.
	layout, err := p.Tree.InstalledRockLayout(spec.ID, spec.Name, spec.Version)
	if err != nil {
		p.Sink.Done(spec.Name, err)
		return Outcome{}, err
	}

	// dispatch to the build back-end.
	backend, err := build.Dispatch(spec.Build.Backend)
	if err != nil {
		p.Sink.Done(spec.Name, err)
		return Outcome{}, err
	}
	rt := build.RuntimeInfo{LuaVersion: p.Tree.LuaVersion, BinDir: p.Tree.Bin()}
	info, err := backend.Build(taskCtx, spec.Build, layout, rt, buildDir, p.Sink)
	if err != nil {
		p.Sink.Done(spec.Name, err)
		return Outcome{}, errors.Wrap(err, "build back-end")
	}

	// copy the manifest-declared binaries out of the build directory
	// into tree.bin(). Back-end-reported binaries (info.Binaries) are
	// already installed there by the back-end itself; the merged list is
	// recorded on the LocalPackage either way.
	binaries := dedupStrings(append(append([]string(nil), spec.Binaries...), info.Binaries...))
	if err := p.installBinaries(buildDir, spec.Binaries); err != nil {
		p.Sink.Done(spec.Name, err)
		return Outcome{}, err
	}

	// copy each copy_directories entry under layout.etc.
	for _, dir := range spec.CopyDirectories {
		src := filepath.Join(buildDir, dir)
		dst := filepath.Join(layout.Etc, dir)
		if _, statErr := os.Stat(src); os.IsNotExist(statErr) {
			continue
		}
		// a rebuild of the same package finds the destination already
		// populated; the merge keeps the step idempotent.
		if err := fsutil.MergeTree(src, dst); err != nil {
			p.Sink.Done(spec.Name, err)
			return Outcome{}, errors.Wrapf(err, "copying %s into %s", dir, layout.Etc)
		}
	}

	p.Sink.Done(spec.Name, nil)

	// the materialized LocalPackage.
	local := &lockfile.LocalPackage{
		ID:           spec.ID,
		Name:         spec.Name,
		Version:      spec.Version,
		Pinned:       bool(spec.Pinned),
		Opt:          bool(spec.Opt),
		Dependencies: spec.Dependencies,
		Constraint:   spec.Constraint,
		Binaries:     binaries,
		SourceTag:    sourceTagName(spec.SourceTag),
		SourceURL:    spec.SourceURL,
		RockspecHash: spec.RockspecHash,
		SourceHash:   spec.SourceHash,
	}
	return Outcome{Spec: spec, Local: local, Layout: layout}, nil
}

// materialize populates buildDir from the spec's declared source: a git
// clone at a ref, a fetched archive, or a local copy.
func (p *Pipeline) materialize(ctx context.Context, spec resolver.InstallSpec, buildDir string) error {
	switch spec.Source.Kind {
	case resolver.SourceKindGit:
		return materializeGit(spec.Source.URL, spec.Source.Ref, buildDir)
	case resolver.SourceKindLocal:
		// buildDir already exists, so the copy merges into it.
		return fsutil.MergeTree(spec.Source.Path, buildDir)
	default:
		return p.materializeArchive(ctx, spec, buildDir)
	}
}

// materializeGit clones remote and checks out ref. Masterminds/vcs wraps
// the git binary with the same Get/UpdateVersion contract across every
// VCS it supports.
func materializeGit(remote, ref, dst string) error {
	repo, err := vcs.NewGitRepo(remote, dst)
	if err != nil {
		return errors.Wrapf(err, "preparing git repo for %s", remote)
	}
	if err := repo.Get(); err != nil {
		return errors.Wrapf(err, "cloning %s", remote)
	}
	if ref != "" {
		if err := repo.UpdateVersion(ref); err != nil {
			return errors.Wrapf(err, "checking out %s at %s", remote, ref)
		}
	}
	return nil
}

// materializeArchive re-fetches the spec's declared archive (the
// resolver's InstallSpec deliberately doesn't carry the raw bytes
// forward, keeping it a lightweight, serializable record) and unpacks it
// with download.ExtractArchive. The archive is fetched as a plain
// download, so it need not carry an embedded manifest; the raw response
// bytes arrive in the artifact's ManifestText.
func (p *Pipeline) materializeArchive(ctx context.Context, spec resolver.InstallSpec, buildDir string) error {
	url := spec.Source.URL
	if url == "" {
		url = spec.SourceURL
	}
	if url == "" {
		return errors.Errorf("%s has no archive source to materialize", spec.Name)
	}
	artifact, err := p.Downloader.Fetch(ctx, download.Request{
		Tag:     download.SourceRockspecOnly,
		Name:    spec.Name,
		Version: spec.Version.String(),
		URL:     url,
	})
	if err != nil {
		return errors.Wrapf(err, "fetching archive %s", url)
	}
	return download.ExtractArchive([]byte(artifact.ManifestText), buildDir)
}

func (p *Pipeline) installBinaries(buildDir string, binaries []string) error {
	if len(binaries) == 0 {
		return nil
	}
	binDir := p.Tree.Bin()
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", binDir)
	}
	for _, name := range binaries {
		src := filepath.Join(buildDir, name)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(binDir, filepath.Base(name))
		if _, err := shutil.Copy(src, dst, false); err != nil {
			return errors.Wrapf(err, "installing binary %s", name)
		}
		if err := os.Chmod(dst, 0o755); err != nil {
			return errors.Wrapf(err, "marking %s executable", dst)
		}
	}
	return nil
}

func sourceTagName(tag download.SourceTag) string {
	switch tag {
	case download.SourceRockspecOnly:
		return "rockspec"
	case download.SourceInline:
		return "inline"
	case download.SourceBinaryArchive:
		return "binary"
	case download.SourceSourceArchive:
		return "source"
	default:
		return "unknown"
	}
}

func dedupStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Record folds every outcome's LocalPackage and dependency edges into
// body. All packages are inserted before any dependency edge is added,
// so AddDependency always finds both ends; callers run Record under a
// single write session after every task has completed.
func Record(body *lockfile.Body, outcomes []Outcome) error {
	for _, o := range outcomes {
		body.Put(o.Local)
	}
	for _, o := range outcomes {
		if o.Spec.EntryType == resolver.EntrypointType {
			lockfile.AddEntrypoint(body, o.Local)
		}
		for _, child := range o.Spec.Dependencies {
			if err := lockfile.AddDependency(body, o.Local.ID, child); err != nil {
				return err
			}
		}
	}
	return nil
}

