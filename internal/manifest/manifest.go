// Package manifest parses a project's lux.toml manifest: the package
// name, its runtime-version constraint, and its four dependency tables.
// An optional sibling extra.rockspec is merged in on load.
package manifest

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/nvim-neorocks/lux/internal/version"
)

// ExtraRockspecName is the optional sibling file merged into a manifest
// on load, extra winning on any conflict.
const ExtraRockspecName = "extra.rockspec"

// ManifestName is the conventional project manifest filename.
const ManifestName = "lux.toml"

// DependencyEntry is either a bare version-requirement string or a table
// with version/pin/opt/source. It decodes from either TOML shape via
// UnmarshalTOML.
type DependencyEntry struct {
	Requirement version.Requirement
	Pin         bool
	Opt         bool
	Source      string
}

// UnmarshalTOML implements toml.Unmarshaler, accepting either a bare
// string or a table.
func (d *DependencyEntry) UnmarshalTOML(value interface{}) error {
	switch v := value.(type) {
	case string:
		r, err := version.ParseRequirement(v)
		if err != nil {
			return errors.Wrapf(err, "parsing dependency version %q", v)
		}
		d.Requirement = r
		return nil
	case map[string]interface{}:
		if raw, ok := v["version"]; ok {
			s, ok := raw.(string)
			if !ok {
				return errors.Errorf("dependency table's \"version\" must be a string, got %T", raw)
			}
			r, err := version.ParseRequirement(s)
			if err != nil {
				return errors.Wrapf(err, "parsing dependency version %q", s)
			}
			d.Requirement = r
		} else {
			d.Requirement = version.Any
		}
		if raw, ok := v["pin"]; ok {
			b, ok := raw.(bool)
			if !ok {
				return errors.Errorf("dependency table's \"pin\" must be a bool, got %T", raw)
			}
			d.Pin = b
		}
		if raw, ok := v["opt"]; ok {
			b, ok := raw.(bool)
			if !ok {
				return errors.Errorf("dependency table's \"opt\" must be a bool, got %T", raw)
			}
			d.Opt = b
		}
		if raw, ok := v["source"]; ok {
			s, ok := raw.(string)
			if !ok {
				return errors.Errorf("dependency table's \"source\" must be a string, got %T", raw)
			}
			d.Source = s
		}
		return nil
	default:
		return errors.Errorf("dependency entry must be a string or a table, got %T", value)
	}
}

// ExternalDependencyEntry is a name-to-{header, library} hint passed
// opaquely to the make/cmake/command back-ends as extra substitution
// variables. The built-in back-end ignores these.
type ExternalDependencyEntry struct {
	Header  string `toml:"header"`
	Library string `toml:"library"`
}

// DependencyTable is a name-keyed set of dependency entries.
type DependencyTable map[string]DependencyEntry

// rawManifest is the direct TOML decoding target for lux.toml.
type rawManifest struct {
	Package              string                             `toml:"package"`
	Version              string                             `toml:"version"`
	Lang                 string                             `toml:"lang"`
	Dependencies         DependencyTable                    `toml:"dependencies"`
	BuildDependencies    DependencyTable                    `toml:"build_dependencies"`
	TestDependencies     DependencyTable                    `toml:"test_dependencies"`
	ExternalDependencies map[string]ExternalDependencyEntry `toml:"external_dependencies"`
}

// Manifest is a fully parsed, possibly extra.rockspec-merged, project
// manifest.
type Manifest struct {
	Package              string
	Version              string
	Lang                 version.Requirement
	Dependencies         DependencyTable
	BuildDependencies    DependencyTable
	TestDependencies     DependencyTable
	ExternalDependencies map[string]ExternalDependencyEntry
}

func fromRaw(r rawManifest) (*Manifest, error) {
	lang := version.Any
	if r.Lang != "" {
		var err error
		lang, err = version.ParseRequirement(r.Lang)
		if err != nil {
			return nil, errors.Wrap(err, "parsing lang constraint")
		}
	}
	return &Manifest{
		Package:              r.Package,
		Version:              r.Version,
		Lang:                 lang,
		Dependencies:         r.Dependencies,
		BuildDependencies:    r.BuildDependencies,
		TestDependencies:     r.TestDependencies,
		ExternalDependencies: r.ExternalDependencies,
	}, nil
}

// Parse decodes a single TOML document (either a lux.toml or an
// extra.rockspec, both share the same grammar) into a Manifest.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	var raw rawManifest
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parsing manifest TOML")
	}
	return fromRaw(raw)
}

// Load reads dir/lux.toml and, if present, merges dir/extra.rockspec on
// top of it (extra wins on conflict, per Merge).
func Load(dir string) (*Manifest, error) {
	f, err := os.Open(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", ManifestName)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", ManifestName)
	}

	extraPath := filepath.Join(dir, ExtraRockspecName)
	extraFile, err := os.Open(extraPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, errors.Wrapf(err, "opening %s", ExtraRockspecName)
	}
	defer extraFile.Close()

	extra, err := Parse(extraFile)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", ExtraRockspecName)
	}

	return Merge(m, extra), nil
}

// Merge combines base and extra, with extra winning on any conflict.
// Scalar fields are replaced wholesale when extra sets them; dependency
// tables are merged key-by-key, with extra's entry for a given package
// name replacing base's entirely (no field-level merge within an entry).
func Merge(base, extra *Manifest) *Manifest {
	out := &Manifest{
		Package:              base.Package,
		Version:              base.Version,
		Lang:                 base.Lang,
		Dependencies:         mergeTables(base.Dependencies, extra.Dependencies),
		BuildDependencies:    mergeTables(base.BuildDependencies, extra.BuildDependencies),
		TestDependencies:     mergeTables(base.TestDependencies, extra.TestDependencies),
		ExternalDependencies: mergeExternal(base.ExternalDependencies, extra.ExternalDependencies),
	}
	if extra.Package != "" {
		out.Package = extra.Package
	}
	if extra.Version != "" {
		out.Version = extra.Version
	}
	if extra.Lang.Kind() != version.ReqKindAny {
		out.Lang = extra.Lang
	}
	return out
}

func mergeTables(base, extra DependencyTable) DependencyTable {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(DependencyTable, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func mergeExternal(base, extra map[string]ExternalDependencyEntry) map[string]ExternalDependencyEntry {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]ExternalDependencyEntry, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
