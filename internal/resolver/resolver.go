// Package resolver implements the parallel transitive dependency walk:
// it consults the remote package database and downloader for each
// declared dependency, recurses into its own manifest-declared
// dependencies, and emits install specs for the regular and build
// dependency trees separately, never mixing the two.
//
// Rockspec-grammar parsing is an external collaborator; this package
// depends on a ManifestParser interface for it rather than parsing
// manifest text itself.
package resolver

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/nvim-neorocks/lux/internal/build"
	"github.com/nvim-neorocks/lux/internal/download"
	"github.com/nvim-neorocks/lux/internal/integrity"
	"github.com/nvim-neorocks/lux/internal/lockfile"
	"github.com/nvim-neorocks/lux/internal/pkgid"
	"github.com/nvim-neorocks/lux/internal/progress"
	"github.com/nvim-neorocks/lux/internal/remotedb"
	"github.com/nvim-neorocks/lux/internal/version"
)

// Behaviour controls whether an already-locked package is reused or
// force-rebuilt.
type Behaviour uint8

const (
	BehaviourNormal Behaviour = iota
	BehaviourForce
)

// EntryType tags whether a resolved package should be recorded as an
// entrypoint or as a dependency-only entry.
type EntryType uint8

const (
	EntrypointType EntryType = iota
	DependencyOnlyType
)

// Dep is one dependency named by a fetched manifest, already filtered
// for the target platform.
type Dep struct {
	Name        string
	Requirement version.Requirement
	Pinned      pkgid.PinnedState
	Opt         pkgid.OptState
}

// SourceKind tags how the install pipeline must materialize a package's
// actual source tree, distinct from how its manifest text was obtained.
type SourceKind uint8

const (
	SourceKindArchive SourceKind = iota
	SourceKindGit
	SourceKindLocal
)

// SourceLocation is the manifest's declared "source" table: where the
// buildable tree comes from.
type SourceLocation struct {
	Kind SourceKind
	URL  string // SourceKindArchive: archive URL; SourceKindGit: repository URL
	Ref  string // SourceKindGit only: the ref/tag/commit to check out
	Path string // SourceKindLocal only: a filesystem path
}

// RockManifest is the structured result of parsing a fetched rockspec
// manifest: its declared dependency edges (regular and build), the build
// back-end spec, and the extra install-time data the pipeline needs.
type RockManifest struct {
	Dependencies      []Dep
	BuildDependencies []Dep
	Binaries          []string
	CopyDirectories   []string
	Source            SourceLocation
	Build             build.Spec
}

// ManifestParser turns fetched manifest text into a RockManifest. The
// rockspec grammar itself lives behind this interface.
type ManifestParser interface {
	Parse(manifestText string, platform string) (RockManifest, error)
}

// DB is the subset of *remotedb.Index the resolver needs: resolving a
// requirement to a concrete version and architecture tag.
type DB interface {
	Find(name string, req version.Requirement, filter remotedb.Filter) (remotedb.Hit, bool)
}

// URLResolver derives a fetchable URL for a database hit. The registry's
// URL convention is a repository-layout detail, so it stays behind an
// interface like ManifestParser.
type URLResolver interface {
	URLFor(name string, v version.Version, arch remotedb.ArchTag) (string, error)
}

// Downloader is the subset of *download.Client the resolver needs.
type Downloader interface {
	Fetch(ctx context.Context, req download.Request) (download.Artifact, error)
}

// InputDep is one declared dependency spec fed to Resolve: a name and
// requirement plus build-behaviour, pinned state, opt state, an optional
// pre-resolved source, and an entry-type.
type InputDep struct {
	Name        string
	Requirement version.Requirement
	Pinned      pkgid.PinnedState
	Opt         pkgid.OptState
	Behaviour   Behaviour
	EntryType   EntryType
	// Source, when non-nil, is used instead of consulting DB/URLResolver.
	Source *download.Request
}

// InstallSpec is what the resolver emits on its regular/build channels:
// everything the install pipeline needs to materialize, build, and
// record one package.
type InstallSpec struct {
	ID           string
	Name         string
	Version      version.Version
	Pinned       pkgid.PinnedState
	Opt          pkgid.OptState
	Constraint   *version.Requirement
	EntryType    EntryType
	Dependencies []string // direct child ids, both regular and build-dep children

	SourceTag    download.SourceTag
	SourceURL    string
	RockspecHash integrity.Integrity
	SourceHash   integrity.Integrity

	Binaries        []string
	CopyDirectories []string
	Source          SourceLocation
	Build           build.Spec
}

// Result is what Resolve returns: the top-level ids (in input order) plus
// every emitted install spec, already drained from the internal channels.
type Result struct {
	RootIDs []string
	Regular []InstallSpec
	Build   []InstallSpec
}

// Resolver walks declared dependencies to produce install specs. DB,
// Downloader, URLResolver, and ManifestParser are external collaborators;
// MainLock/BuildLock are read-only snapshots of the current lockfile
// state used only for the already-installed skip check; Resolve never
// mutates them.
type Resolver struct {
	DB             DB
	Downloader     Downloader
	URLs           URLResolver
	ManifestParser ManifestParser
	MainLock       *lockfile.Body
	BuildLock      *lockfile.Body
	Platform       string
	Sink           progress.Sink
}

// Resolve walks deps: every input is resolved concurrently, each
// recursing into its own manifest's dependencies (against MainLock) and
// build_dependencies (against BuildLock; all of a build-dependency's own
// transitive regular dependencies resolve against BuildLock too). It is
// safe against diamond dependencies: two branches resolving the same id
// concurrently each complete independently and produce structurally
// equal specs.
func (r *Resolver) Resolve(ctx context.Context, deps []InputDep) (Result, error) {
	var (
		mu      sync.Mutex
		regular []InstallSpec
		builds  []InstallSpec
	)
	emit := func(spec InstallSpec, isBuildDep bool) {
		mu.Lock()
		defer mu.Unlock()
		if isBuildDep {
			builds = append(builds, spec)
		} else {
			regular = append(regular, spec)
		}
	}

	rootIDs := make([]string, len(deps))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range deps {
		i, d := i, d
		g.Go(func() error {
			id, err := r.resolveOne(gctx, d, false, emit)
			if err != nil {
				return err
			}
			rootIDs[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{RootIDs: rootIDs, Regular: regular, Build: builds}, nil
}

type emitFunc func(spec InstallSpec, isBuildDep bool)

// resolveOne resolves a single dependency and recurses. isBuildDep says
// which lockfile this branch resolves against and which channel its
// emitted spec (and every descendant's) lands on; once true it stays true
// for every descendant, realizing the hard rule that a build-dependency's
// own regular dependencies land in the build tree too.
func (r *Resolver) resolveOne(ctx context.Context, d InputDep, isBuildDep bool, emit emitFunc) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lockBody := r.MainLock
	if isBuildDep {
		lockBody = r.BuildLock
	}

	if d.Behaviour != BehaviourForce {
		if id, ok := findInstalled(lockBody, d.Name, d.Requirement); ok {
			return id, nil
		}
	}

	req, hit, err := r.resolveSource(ctx, d)
	if err != nil {
		if errors.Is(err, errOptionalMissing) {
			// an optional, unmatched dependency is silently absent, not
			// an error; the caller sees no child id.
			return "", nil
		}
		return "", errors.Wrapf(err, "resolving %s %s", d.Name, d.Requirement)
	}

	r.Sink.Start(d.Name, 1)
	artifact, err := r.Downloader.Fetch(ctx, req)
	if err != nil {
		r.Sink.Done(d.Name, err)
		return "", errors.Wrapf(err, "downloading %s", d.Name)
	}

	manifest, err := r.ManifestParser.Parse(artifact.ManifestText, r.Platform)
	if err != nil {
		r.Sink.Done(d.Name, err)
		return "", errors.Wrapf(err, "parsing manifest for %s", d.Name)
	}

	childIDs, err := r.resolveChildren(ctx, manifest, isBuildDep, emit)
	if err != nil {
		r.Sink.Done(d.Name, err)
		return "", err
	}

	v := hit.Version
	var constraint *version.Requirement
	if d.Requirement.Kind() != version.ReqKindAny {
		c := d.Requirement
		constraint = &c
	}
	id := pkgid.New(d.Name, v, d.Pinned, d.Opt, constraint)

	source := manifest.Source
	if source.Kind == SourceKindArchive && source.URL == "" {
		// the manifest didn't declare a separate source table; the
		// artifact already fetched for the manifest itself is the source.
		source.URL = req.URL
	}

	entryType := d.EntryType
	if entryType != EntrypointType && isEntrypoint(lockBody, id) {
		entryType = EntrypointType
	}

	rockspecHash, err := integrity.New(integrity.SHA256, []byte(artifact.ManifestText))
	if err != nil {
		r.Sink.Done(d.Name, err)
		return "", err
	}
	var sourceHash integrity.Integrity
	if len(artifact.ArchiveBytes) > 0 {
		sourceHash, err = integrity.New(integrity.SHA256, artifact.ArchiveBytes)
		if err != nil {
			r.Sink.Done(d.Name, err)
			return "", err
		}
	}

	spec := InstallSpec{
		ID:              id,
		Name:            d.Name,
		Version:         v,
		Pinned:          d.Pinned,
		Opt:             d.Opt,
		Constraint:      constraint,
		EntryType:       entryType,
		Dependencies:    childIDs,
		SourceTag:       req.Tag,
		SourceURL:       req.URL,
		RockspecHash:    rockspecHash,
		SourceHash:      sourceHash,
		Binaries:        manifest.Binaries,
		CopyDirectories: manifest.CopyDirectories,
		Source:          source,
		Build:           manifest.Build,
	}
	emit(spec, isBuildDep)
	r.Sink.Done(d.Name, nil)
	return id, nil
}

// resolveChildren recurses into manifest's regular and build dependency
// lists and returns the ids to record on the parent's Dependencies.
// Regular dependencies inherit isBuildDep from the parent; build
// dependencies (and everything beneath them) always resolve with
// isBuildDep forced to true, never mixing into the main lockfile.
//
// A parent's Dependencies list may only reference ids that live in the
// same lockfile body as the parent itself, so a regular parent's build
// children are excluded from the returned ids; they are resolved as
// entrypoints of the build body instead, since they are the directly
// requested roots of that tree. Once a branch is already in the build
// body, its build children share the body and are ordinary dependencies.
func (r *Resolver) resolveChildren(ctx context.Context, manifest RockManifest, isBuildDep bool, emit emitFunc) ([]string, error) {
	total := len(manifest.Dependencies) + len(manifest.BuildDependencies)
	ids := make([]string, total)

	g, gctx := errgroup.WithContext(ctx)
	for i, cd := range manifest.Dependencies {
		i, cd := i, cd
		g.Go(func() error {
			id, err := r.resolveOne(gctx, childInput(cd, DependencyOnlyType), isBuildDep, emit)
			if err != nil {
				return err
			}
			ids[i] = id
			return nil
		})
	}
	crossesBody := !isBuildDep
	for i, cd := range manifest.BuildDependencies {
		i, cd := i, cd
		g.Go(func() error {
			entryType := DependencyOnlyType
			if crossesBody {
				entryType = EntrypointType
			}
			id, err := r.resolveOne(gctx, childInput(cd, entryType), true, emit)
			if err != nil {
				return err
			}
			if !crossesBody {
				ids[len(manifest.Dependencies)+i] = id
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func childInput(d Dep, entryType EntryType) InputDep {
	return InputDep{
		Name:        d.Name,
		Requirement: d.Requirement,
		Pinned:      d.Pinned,
		Opt:         d.Opt,
		Behaviour:   BehaviourNormal,
		EntryType:   entryType,
	}
}

// resolveSource produces a download.Request and the database hit behind
// it, preferring an already-supplied InputDep.Source over a fresh lookup.
func (r *Resolver) resolveSource(ctx context.Context, d InputDep) (download.Request, remotedb.Hit, error) {
	if d.Source != nil {
		return *d.Source, remotedb.Hit{}, nil
	}

	hit, ok := r.DB.Find(d.Name, d.Requirement, remotedb.Filter{Rockspec: true, Src: true, Binary: true})
	if !ok {
		if d.Opt == pkgid.Optional {
			return download.Request{}, remotedb.Hit{}, errOptionalMissing
		}
		return download.Request{}, remotedb.Hit{}, errors.Errorf("no version of %q matches %s", d.Name, d.Requirement)
	}

	url, err := r.URLs.URLFor(d.Name, hit.Version, hit.Arch)
	if err != nil {
		return download.Request{}, remotedb.Hit{}, err
	}

	return download.Request{
		Tag:     sourceTagFor(hit.Arch),
		Name:    d.Name,
		Version: hit.Version.String(),
		URL:     url,
	}, hit, nil
}

// errOptionalMissing signals resolveOne to skip silently rather than
// fail.
var errOptionalMissing = errors.New("optional dependency has no matching package")

func sourceTagFor(arch remotedb.ArchTag) download.SourceTag {
	switch arch {
	case remotedb.ArchRockspec:
		return download.SourceRockspecOnly
	case remotedb.ArchSrc:
		return download.SourceSourceArchive
	default:
		return download.SourceBinaryArchive
	}
}

func findInstalled(body *lockfile.Body, name string, req version.Requirement) (string, bool) {
	if body == nil {
		return "", false
	}
	var found string
	var ok bool
	body.Each(func(lp *lockfile.LocalPackage) {
		if ok || lp.Name != name {
			return
		}
		if req.Matches(lp.Version) {
			found, ok = lp.ID, true
		}
	})
	return found, ok
}

func isEntrypoint(body *lockfile.Body, id string) bool {
	if body == nil {
		return false
	}
	for _, e := range body.Entrypoints {
		if e == id {
			return true
		}
	}
	return false
}
