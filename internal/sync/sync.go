// Package sync implements reconciliation of a declared dependency set
// against a project lockfile body: compute the add/remove partition,
// install the additions, and drop the removals from the lockfile. It
// also carries the pin/unpin command surface and the outdated-check.
package sync

import (
	"context"

	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/install"
	"github.com/nvim-neorocks/lux/internal/lockfile"
	"github.com/nvim-neorocks/lux/internal/pkgid"
	"github.com/nvim-neorocks/lux/internal/remotedb"
	"github.com/nvim-neorocks/lux/internal/resolver"
	"github.com/nvim-neorocks/lux/internal/version"
)

// Resolver is the subset of *resolver.Resolver Sync needs.
type Resolver interface {
	Resolve(ctx context.Context, deps []resolver.InputDep) (resolver.Result, error)
}

// Installer is the subset of *install.Pipeline Sync needs, parameterized
// so regular and build dependency classes can target different trees.
type Installer interface {
	Run(ctx context.Context, specs []resolver.InstallSpec) ([]install.Outcome, error)
}

// Option configures a Sync call.
type Option func(*syncConfig)

type syncConfig struct {
	buildBody      *lockfile.Body
	buildInstaller Installer
}

// WithBuildTarget wires the build dependency class into a Sync call: any
// build-time dependencies a newly added package pulls in are installed
// via inst (typically a pipeline against the build tree) and recorded
// into buildBody. Without this option, a resolve that produces build
// specs is an error rather than a silent drop.
func WithBuildTarget(buildBody *lockfile.Body, inst Installer) Option {
	return func(c *syncConfig) {
		c.buildBody = buildBody
		c.buildInstaller = inst
	}
}

// Sync reconciles declared against body, installs every addition via r
// and inst, records the results, and removes every computed-obsolete
// entry from body. It is a no-op (no resolve, no install, no removal)
// when every declared requirement equals the installed constraint of a
// same-named package and every stored package is reachable from a kept
// entrypoint: PackageSyncSpec's ToAdd/ToRemove are both empty in that case and this
// function returns immediately after computing them.
//
// A pinned entrypoint is never removed, even if the currently declared
// set no longer names it: its own installed constraint is folded into
// the effective declared set before computing the sync partition, so it
// always counts as "still declared".
func Sync(ctx context.Context, declared []lockfile.DeclaredDependency, body *lockfile.Body, r Resolver, inst Installer, opts ...Option) (lockfile.SyncSpec, error) {
	var cfg syncConfig
	for _, o := range opts {
		o(&cfg)
	}

	effective := withPinnedEntrypoints(declared, body)
	spec := lockfile.PackageSyncSpec(effective, body)

	if len(spec.ToAdd) == 0 && len(spec.ToRemove) == 0 {
		return spec, nil
	}

	if len(spec.ToAdd) > 0 {
		deps := make([]resolver.InputDep, len(spec.ToAdd))
		for i, d := range spec.ToAdd {
			deps[i] = resolver.InputDep{
				Name:        d.Name,
				Requirement: d.Requirement,
				Pinned:      pkgid.Unpinned,
				Opt:         pkgid.Required,
				Behaviour:   resolver.BehaviourNormal,
				EntryType:   resolver.EntrypointType,
			}
		}

		result, err := r.Resolve(ctx, deps)
		if err != nil {
			return lockfile.SyncSpec{}, errors.Wrap(err, "resolving sync additions")
		}

		if len(result.Build) > 0 {
			if cfg.buildBody == nil {
				return lockfile.SyncSpec{}, errors.Errorf(
					"sync additions require %d build-time dependencies but no build target is configured", len(result.Build))
			}
			buildOutcomes, err := cfg.buildInstaller.Run(ctx, result.Build)
			if err != nil {
				return lockfile.SyncSpec{}, errors.Wrap(err, "installing build-time dependencies of sync additions")
			}
			if err := install.Record(cfg.buildBody, buildOutcomes); err != nil {
				return lockfile.SyncSpec{}, errors.Wrap(err, "recording build-time dependencies of sync additions")
			}
		}

		outcomes, err := inst.Run(ctx, result.Regular)
		if err != nil {
			return lockfile.SyncSpec{}, errors.Wrap(err, "installing sync additions")
		}
		if err := install.Record(body, outcomes); err != nil {
			return lockfile.SyncSpec{}, errors.Wrap(err, "recording sync additions")
		}
	}

	for _, id := range spec.ToRemove {
		if lp, ok := body.Get(id); ok && lp.Pinned {
			continue
		}
		body.Delete(id)
	}

	return spec, nil
}

// withPinnedEntrypoints returns declared plus a synthetic
// DeclaredDependency for every currently-pinned entrypoint in body,
// using its own installed constraint (or Any, if unconstrained) so
// PackageSyncSpec always counts it as still wanted.
func withPinnedEntrypoints(declared []lockfile.DeclaredDependency, body *lockfile.Body) []lockfile.DeclaredDependency {
	out := append([]lockfile.DeclaredDependency(nil), declared...)
	for _, id := range body.Entrypoints {
		lp, ok := body.Get(id)
		if !ok || !lp.Pinned {
			continue
		}
		req := version.Any
		if lp.Constraint != nil {
			req = *lp.Constraint
		}
		out = append(out, lockfile.DeclaredDependency{Name: lp.Name, Requirement: req})
	}
	return out
}

// Pin marks the package identified by id as pinned: sync will never
// remove or rebuild it regardless of what the declared set says.
func Pin(body *lockfile.Body, id string) error {
	lp, ok := body.Get(id)
	if !ok {
		return errors.Errorf("pin: package %q not found", id)
	}
	lp.Pinned = true
	body.Put(lp)
	return nil
}

// Unpin clears a package's pinned flag.
func Unpin(body *lockfile.Body, id string) error {
	lp, ok := body.Get(id)
	if !ok {
		return errors.Errorf("unpin: package %q not found", id)
	}
	lp.Pinned = false
	body.Put(lp)
	return nil
}

// DB is the subset of *remotedb.Index Outdated needs.
type DB interface {
	Find(name string, req version.Requirement, filter remotedb.Filter) (remotedb.Hit, bool)
}

// Outdated is one installed package whose locked version is behind the
// newest version the remote database currently offers under the
// package's installed constraint (any version when it has none).
type Outdated struct {
	ID        string
	Name      string
	Installed version.Version
	Latest    version.Version
}

// FindOutdated compares every package in body against db's newest
// matching version, without installing anything. A package is reported
// only when a strictly newer version exists; pinned packages are still
// reported (pinning blocks automatic upgrade, not the diagnostic).
func FindOutdated(body *lockfile.Body, db DB) ([]Outdated, error) {
	var out []Outdated
	var firstErr error
	body.Each(func(lp *lockfile.LocalPackage) {
		if firstErr != nil {
			return
		}
		req := version.Any
		if lp.Constraint != nil {
			req = *lp.Constraint
		}
		hit, ok := db.Find(lp.Name, req, remotedb.Filter{Rockspec: true, Src: true, Binary: true})
		if !ok {
			return
		}
		if hit.Version.Less(lp.Version) || hit.Version.Equal(lp.Version) {
			return
		}
		out = append(out, Outdated{ID: lp.ID, Name: lp.Name, Installed: lp.Version, Latest: hit.Version})
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
