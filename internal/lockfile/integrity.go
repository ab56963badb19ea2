package lockfile

import (
	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/integrity"
	"github.com/nvim-neorocks/lux/internal/version"
)

// IntegrityMismatchError reports which hash failed and what was expected
// versus found.
type IntegrityMismatchError struct {
	Field    string // "rockspec" or "source"
	Name     string
	Expected integrity.Integrity
	Actual   integrity.Integrity
}

func (e *IntegrityMismatchError) Error() string {
	return "integrity mismatch for " + e.Name + " " + e.Field + ": expected " +
		e.Expected.String() + ", got " + e.Actual.String()
}

// ValidatePackageIntegrity finds the lockfile entry for (name, v) and
// compares its recorded rockspec/source hashes against actual. Either
// mismatch is reported; a missing entry is its own integrity error.
func ValidatePackageIntegrity(body *Body, name string, v version.Version, actualRockspec, actualSource integrity.Integrity) error {
	var found *LocalPackage
	body.Each(func(lp *LocalPackage) {
		if found != nil {
			return
		}
		if lp.Name == name && lp.Version.Equal(v) {
			found = lp
		}
	})
	if found == nil {
		return errors.Errorf("package %s %s not found in lockfile during integrity validation", name, v.String())
	}

	if !actualRockspec.IsZero() && !found.RockspecHash.IsZero() && !found.RockspecHash.Matches(actualRockspec) {
		return &IntegrityMismatchError{Field: "rockspec", Name: name, Expected: found.RockspecHash, Actual: actualRockspec}
	}
	if !actualSource.IsZero() && !found.SourceHash.IsZero() && !found.SourceHash.Matches(actualSource) {
		return &IntegrityMismatchError{Field: "source", Name: name, Expected: found.SourceHash, Actual: actualSource}
	}
	return nil
}
