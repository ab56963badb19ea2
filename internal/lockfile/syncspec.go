package lockfile

import "github.com/nvim-neorocks/lux/internal/version"

// DeclaredDependency is one entry a manifest declares: a package name and
// the version requirement the user wrote for it.
type DeclaredDependency struct {
	Name        string
	Requirement version.Requirement
}

// SyncSpec is the result of reconciling a set of declared dependencies
// against a lockfile body. It never touches disk or the tree; Add/Remove
// are computed, not executed.
type SyncSpec struct {
	// ToAdd holds declared requirements with no installed package of the
	// same name whose constraint structurally equals the requirement.
	ToAdd []DeclaredDependency
	// ToRemove holds ids of installed packages outside the kept closure.
	ToRemove []string
	// Kept holds ids reachable from a retained entrypoint, inclusive.
	Kept []string
}

// requirementOf returns body's installed constraint for a LocalPackage as
// a Requirement, treating an unconstrained package as Any.
func requirementOf(lp *LocalPackage) version.Requirement {
	if lp.Constraint == nil {
		return version.Any
	}
	return *lp.Constraint
}

// PackageSyncSpec computes the (add, remove) partition of body against a
// freshly declared dependency set, without installing or removing
// anything. Kept and removed partition the stored packages exactly, and
// adding an already-present (by equal constraint) dependency is a no-op.
func PackageSyncSpec(declared []DeclaredDependency, body *Body) SyncSpec {
	matchesSomeDeclared := func(name string, req version.Requirement) bool {
		for _, d := range declared {
			if d.Name == name && d.Requirement.Equal(req) {
				return true
			}
		}
		return false
	}

	var keptEntrypoints []string
	for _, id := range body.Entrypoints {
		lp, ok := body.Get(id)
		if !ok {
			continue
		}
		if matchesSomeDeclared(lp.Name, requirementOf(lp)) {
			keptEntrypoints = append(keptEntrypoints, id)
		}
	}

	keptSet := body.Transitive(keptEntrypoints)
	kept := make([]string, 0, len(keptSet))
	for id := range keptSet {
		kept = append(kept, id)
	}

	var toRemove []string
	body.Each(func(lp *LocalPackage) {
		if !keptSet[lp.ID] {
			toRemove = append(toRemove, lp.ID)
		}
	})

	var toAdd []DeclaredDependency
	for _, d := range declared {
		found := false
		body.Each(func(lp *LocalPackage) {
			if found {
				return
			}
			if lp.Name == d.Name && requirementOf(lp).Equal(d.Requirement) {
				found = true
			}
		})
		if !found {
			toAdd = append(toAdd, d)
		}
	}

	return SyncSpec{ToAdd: toAdd, ToRemove: toRemove, Kept: kept}
}

