package lockfile

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/integrity"
	"github.com/nvim-neorocks/lux/internal/version"
)

// LocalPackage is the persistent record of one installed package:
// identity, dependency edges, source provenance, and content hashes.
// Dependencies holds direct dependency ids only; the transitive closure
// is obtained by walking the lockfile.
type LocalPackage struct {
	ID           string
	Name         string
	Version      version.Version
	Pinned       bool
	Opt          bool
	Dependencies []string
	Constraint   *version.Requirement
	Binaries     []string
	SourceTag    string
	SourceURL    string
	RockspecHash integrity.Integrity
	SourceHash   integrity.Integrity
}

type jsonLocalPackage struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Pinned       bool     `json:"pinned"`
	Opt          bool     `json:"opt"`
	Dependencies []string `json:"dependencies"`
	Constraint   string   `json:"constraint,omitempty"`
	Binaries     []string `json:"binaries,omitempty"`
	SourceTag    string   `json:"source_tag,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
	Hashes       struct {
		Rockspec string `json:"rockspec,omitempty"`
		Source   string `json:"source,omitempty"`
	} `json:"hashes,omitempty"`
}

// MarshalJSON renders the wire form of a LocalPackage.
func (lp LocalPackage) MarshalJSON() ([]byte, error) {
	j := jsonLocalPackage{
		ID:           lp.ID,
		Name:         lp.Name,
		Version:      lp.Version.String(),
		Pinned:       lp.Pinned,
		Opt:          lp.Opt,
		Dependencies: lp.Dependencies,
		Binaries:     lp.Binaries,
		SourceTag:    lp.SourceTag,
		SourceURL:    lp.SourceURL,
	}
	if lp.Constraint != nil {
		j.Constraint = lp.Constraint.String()
	}
	if !lp.RockspecHash.IsZero() {
		j.Hashes.Rockspec = lp.RockspecHash.String()
	}
	if !lp.SourceHash.IsZero() {
		j.Hashes.Source = lp.SourceHash.String()
	}
	return json.Marshal(j)
}

// UnmarshalJSON tolerates unknown keys in the package object, so a
// lockfile written by a newer release still reads: it decodes into a
// struct with only the fields this version understands and ignores the
// rest.
func (lp *LocalPackage) UnmarshalJSON(b []byte) error {
	var j jsonLocalPackage
	if err := json.Unmarshal(b, &j); err != nil {
		return errors.Wrap(err, "decoding lockfile package entry")
	}

	v, err := version.Parse(j.Version)
	if err != nil {
		return errors.Wrapf(err, "package %q has malformed version %q", j.Name, j.Version)
	}

	*lp = LocalPackage{
		ID:           j.ID,
		Name:         j.Name,
		Version:      v,
		Pinned:       j.Pinned,
		Opt:          j.Opt,
		Dependencies: j.Dependencies,
		Binaries:     j.Binaries,
		SourceTag:    j.SourceTag,
		SourceURL:    j.SourceURL,
	}

	if j.Constraint != "" {
		req, err := version.ParseRequirement(j.Constraint)
		if err != nil {
			return errors.Wrapf(err, "package %q has malformed constraint %q", j.Name, j.Constraint)
		}
		lp.Constraint = &req
	}
	if j.Hashes.Rockspec != "" {
		in, err := integrity.Parse(j.Hashes.Rockspec)
		if err != nil {
			return errors.Wrapf(err, "package %q has malformed rockspec hash", j.Name)
		}
		lp.RockspecHash = in
	}
	if j.Hashes.Source != "" {
		in, err := integrity.Parse(j.Hashes.Source)
		if err != nil {
			return errors.Wrapf(err, "package %q has malformed source hash", j.Name)
		}
		lp.SourceHash = in
	}
	return nil
}

// Clone returns a deep-enough copy for defensive hand-off across a write
// session boundary (slices are copied; Constraint is re-pointed to a copy).
func (lp LocalPackage) Clone() LocalPackage {
	out := lp
	out.Dependencies = append([]string(nil), lp.Dependencies...)
	out.Binaries = append([]string(nil), lp.Binaries...)
	if lp.Constraint != nil {
		c := *lp.Constraint
		out.Constraint = &c
	}
	return out
}
