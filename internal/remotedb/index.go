// Package remotedb implements the remote package database: manifest fetch
// with a cache-freshness protocol, and the find query that selects a
// matching (version, architecture) pair for a requirement.
//
// The wire grammar of the upstream manifest snippet (a Lua-table
// assignment in the source ecosystem) is an external concern. This
// package consumes the index as an already-schema-validated document,
// decoded primarily with encoding/json, with a YAML fallback for
// registries that serve a YAML-flavored index snippet.
package remotedb

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvim-neorocks/lux/internal/version"
)

// ArchTag is one of the index's architecture tags: "rockspec"
// (manifest-only), "src", "all" (binary any-arch), or a platform-specific
// triplet. Decoding keeps every non-empty tag outside the first three as a
// platform triplet; tags are not checked against a list of known
// triplets, and only empty tags are dropped.
type ArchTag string

const (
	ArchRockspec ArchTag = "rockspec"
	ArchSrc      ArchTag = "src"
	ArchAll      ArchTag = "all"
)

// priority orders tags for the find query's max-by-(version,priority)
// selection: Rockspec < Src < Binary, where "Binary" covers "all" and any
// platform triplet.
func (a ArchTag) priority() int {
	switch a {
	case ArchRockspec:
		return 0
	case ArchSrc:
		return 1
	default:
		return 2
	}
}

// versionEntry is one version-string's decoded architecture list, kept
// alongside its parsed version.Version for matching/sorting.
type versionEntry struct {
	raw   string
	v     version.Version
	archs []ArchTag
}

// Index is the remote package database for a single lua-version-compatible
// repository: name -> version-string -> architecture tags. Lookups by
// exact name and by prefix both go through the same radix-backed trie.
type Index struct {
	names *nameTrie
}

// NamesWithPrefix lists every package name in the index starting with
// prefix, for completion-style queries.
func (idx *Index) NamesWithPrefix(prefix string) []string {
	return idx.names.prefixNames(prefix)
}

// Len reports how many distinct package names the index carries.
func (idx *Index) Len() int {
	return idx.names.len()
}

// rawIndex is the wire shape: name -> version -> [{arch}].
type rawIndex map[string]map[string][]struct {
	Arch string `json:"arch" yaml:"arch"`
}

// decodeRawIndex tries data as JSON, falling back to YAML on failure. The
// two formats share the same field-name convention, so a single rawIndex
// shape serves both.
func decodeRawIndex(data []byte) (rawIndex, error) {
	var raw rawIndex
	jsonErr := json.Unmarshal(data, &raw)
	if jsonErr == nil {
		return raw, nil
	}
	if yamlErr := yaml.Unmarshal(data, &raw); yamlErr == nil {
		return raw, nil
	}
	return nil, errors.Wrap(jsonErr, "decoding remote index")
}

// ParseIndex decodes raw manifest bytes into an Index. Versions that fail
// to parse, and empty architecture tags, are silently dropped; any other
// tag outside "rockspec", "src" and "all" is kept as a platform triplet.
// The index is tried as JSON first; registries that instead
// publish a YAML-flavored snippet decode on the json.Unmarshal failure
// path.
func ParseIndex(data []byte) (*Index, error) {
	raw, err := decodeRawIndex(data)
	if err != nil {
		return nil, err
	}

	byName := make(map[string][]versionEntry, len(raw))
	for name, versions := range raw {
		for vstr, archEntries := range versions {
			v, err := version.Parse(vstr)
			if err != nil {
				continue
			}
			var archs []ArchTag
			for _, e := range archEntries {
				switch ArchTag(e.Arch) {
				case ArchRockspec, ArchSrc, ArchAll:
					archs = append(archs, ArchTag(e.Arch))
				default:
					if e.Arch != "" {
						archs = append(archs, ArchTag(e.Arch)) // platform triplet
					}
				}
			}
			byName[name] = append(byName[name], versionEntry{raw: vstr, v: v, archs: archs})
		}
	}

	idx := &Index{names: newNameTrie()}
	for name, entries := range byName {
		idx.names.insert(name, entries)
	}
	return idx, nil
}

// Filter selects which architecture classes a Find query accepts.
type Filter struct {
	Rockspec bool
	Src      bool
	Binary   bool
}

func (f Filter) accepts(a ArchTag) bool {
	switch a {
	case ArchRockspec:
		return f.Rockspec
	case ArchSrc:
		return f.Src
	default:
		return f.Binary
	}
}

// Hit is a Find match: the resolved version and the winning architecture
// tag.
type Hit struct {
	Version version.Version
	Arch    ArchTag
}

// Find enumerates every (version, arch) pair for name, keeps the ones
// where req matches the version and filter accepts the arch, then picks
// the maximum by (version, arch-priority). Ties in version
// are broken by arch priority (Rockspec < Src < Binary); among entries
// with the same version and the same tied priority, the first one in
// encounter order wins. Returns ok=false if nothing remains.
func (idx *Index) Find(name string, req version.Requirement, filter Filter) (Hit, bool) {
	type candidate struct {
		v    version.Version
		arch ArchTag
	}
	entries, ok := idx.names.get(name)
	if !ok {
		return Hit{}, false
	}

	var candidates []candidate
	for _, ve := range entries {
		if !req.Matches(ve.v) {
			continue
		}
		for _, a := range ve.archs {
			if filter.accepts(a) {
				candidates = append(candidates, candidate{v: ve.v, arch: a})
			}
		}
	}
	if len(candidates) == 0 {
		return Hit{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if c := candidates[i].v.Compare(candidates[j].v); c != 0 {
			return c > 0
		}
		return candidates[i].arch.priority() > candidates[j].arch.priority()
	})
	best := candidates[0]
	return Hit{Version: best.v, Arch: best.arch}, true
}
