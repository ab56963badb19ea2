// Package version implements the version and version-requirement algebra
// for package manifests: semantic, development (scm/dev), and opaque
// string version variants, plus the constraint grammar used to match them.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
	xmodsemver "golang.org/x/mod/semver"
)

// Kind tags the variant held by a Version.
type Kind uint8

const (
	// KindString is an opaque, uncomparable-by-structure version literal.
	KindString Kind = iota
	// KindSemVer is a 1-3 component semantic version, with an optional
	// pre-release carrying any fourth-and-later dotted component.
	KindSemVer
	// KindDev is a floating "dev" or "scm" marker.
	KindDev
)

// DevMarker distinguishes the two floating development markers.
type DevMarker uint8

const (
	DevMarkerDev DevMarker = iota
	DevMarkerSCM
)

func (m DevMarker) String() string {
	if m == DevMarkerSCM {
		return "scm"
	}
	return "dev"
}

// Version is a tagged union over SemVer, DevVer, and StringVer, per the
// data model. specrev defaults to 1 when the source string carries none.
type Version struct {
	kind    Kind
	specrev uint16

	sv             *semver.Version
	componentCount uint8 // 1, 2, or 3; only meaningful for KindSemVer

	marker DevMarker

	literal string
}

// Kind reports which variant the version holds.
func (v Version) Kind() Kind { return v.kind }

// Specrev reports the trailing repackaging revision.
func (v Version) Specrev() uint16 { return v.specrev }

// ErrInvalidSpecrev is returned when a version string has a trailing
// "-suffix" whose suffix is not a run of ASCII digits.
var ErrInvalidSpecrev = errors.New("invalid specrev: trailing version suffix is not numeric")

// Parse parses a version string of the form "<modrev>[-<specrev>]".
func Parse(s string) (Version, error) {
	modrev, specrev, err := splitSpecrev(s)
	if err != nil {
		return Version{}, errors.Wrapf(err, "parsing version %q", s)
	}

	switch modrev {
	case "scm":
		return Version{kind: KindDev, marker: DevMarkerSCM, specrev: specrev}, nil
	case "dev":
		return Version{kind: KindDev, marker: DevMarkerDev, specrev: specrev}, nil
	}

	if sv, cc, ok := parseSemVer(modrev); ok {
		return Version{kind: KindSemVer, sv: sv, componentCount: cc, specrev: specrev}, nil
	}

	return Version{kind: KindString, literal: modrev, specrev: specrev}, nil
}

// splitSpecrev splits on the last '-' into (modrev, specrev). Absence of a
// dash yields specrev 1. A dash whose suffix isn't all-digits is an error.
func splitSpecrev(s string) (string, uint16, error) {
	idx := strings.LastIndexByte(s, '-')
	if idx < 0 {
		return s, 1, nil
	}

	modrev, suffix := s[:idx], s[idx+1:]
	if suffix == "" || !isAllDigits(suffix) {
		return "", 0, ErrInvalidSpecrev
	}

	n, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return "", 0, errors.Wrap(ErrInvalidSpecrev, err.Error())
	}
	return modrev, uint16(n), nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// parseSemVer accepts 1-3 dotted numeric components, optionally followed
// by further dotted components which are folded into the pre-release
// field (e.g. "1.0.0.10" -> semver "1.0.0-10"). Missing minor/patch are
// padded with zeros; componentCount preserves the original width so that
// String can round-trip it.
func parseSemVer(modrev string) (*semver.Version, uint8, bool) {
	parts := strings.Split(modrev, ".")
	if len(parts) == 0 {
		return nil, 0, false
	}

	width := len(parts)
	if width > 3 {
		width = 3
	}

	for _, p := range parts[:min(len(parts), 3)] {
		if !isAllDigits(p) || p == "" {
			return nil, 0, false
		}
	}

	core := append([]string{}, parts[:min(len(parts), 3)]...)
	for len(core) < 3 {
		core = append(core, "0")
	}

	rendered := strings.Join(core, ".")
	if len(parts) > 3 {
		rendered += "-" + strings.Join(parts[3:], ".")
	}

	sv, err := semver.NewVersion(rendered)
	if err != nil {
		return nil, 0, false
	}
	return sv, uint8(width), true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// String renders the canonical form: the modrev plus "-specrev". The
// specrev suffix is always rendered, so a bare version normalizes to
// "-1" and Parse(s).String() == s for every canonical s.
func (v Version) String() string {
	var modrev string
	switch v.kind {
	case KindDev:
		modrev = v.marker.String()
	case KindString:
		modrev = v.literal
	case KindSemVer:
		modrev = v.semverString()
	}
	return fmt.Sprintf("%s-%d", modrev, v.specrev)
}

func (v Version) semverString() string {
	core := []string{strconv.FormatUint(v.sv.Major(), 10)}
	if v.componentCount >= 2 {
		core = append(core, strconv.FormatUint(v.sv.Minor(), 10))
	}
	if v.componentCount >= 3 {
		core = append(core, strconv.FormatUint(v.sv.Patch(), 10))
	}
	s := strings.Join(core, ".")
	if pre := v.sv.Prerelease(); pre != "" {
		s += "." + pre
	}
	return s
}

// tagRank orders the three kinds for cross-tag comparison: StringVer <
// SemVer < DevVer.
func (k Kind) tagRank() int {
	switch k {
	case KindString:
		return 0
	case KindSemVer:
		return 1
	case KindDev:
		return 2
	}
	return -1
}

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater
// than other. Across kinds, StringVer < SemVer < DevVer.
func (v Version) Compare(other Version) int {
	if v.kind != other.kind {
		if v.kind.tagRank() < other.kind.tagRank() {
			return -1
		}
		return 1
	}

	switch v.kind {
	case KindString:
		return strings.Compare(v.literal, other.literal)
	case KindDev:
		// specrev compares before marker: newer specrev wins regardless
		// of which marker it is attached to.
		if v.specrev != other.specrev {
			if v.specrev < other.specrev {
				return -1
			}
			return 1
		}
		if v.marker == other.marker {
			return 0
		}
		if v.marker < other.marker {
			return -1
		}
		return 1
	case KindSemVer:
		if c := v.sv.Compare(other.sv); c != 0 {
			return c
		}
		if v.specrev != other.specrev {
			if v.specrev < other.specrev {
				return -1
			}
			return 1
		}
		return 0
	}
	return 0
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool { return v.Compare(other) < 0 }

// CrossCheckOrder double-checks Compare's semver ordering against
// golang.org/x/mod/semver's independent implementation, so a test can
// assert the two never disagree. It only
// applies to the core major.minor.patch precedence both implementations
// understand; applicable is false for non-semver versions or versions
// whose specrev differs (x/mod/semver has no specrev concept, so its
// answer only means something when that tiebreaker isn't in play).
func CrossCheckOrder(a, b Version) (agree, applicable bool) {
	if a.kind != KindSemVer || b.kind != KindSemVer || a.specrev != b.specrev {
		return false, false
	}
	as, bs := "v"+a.sv.String(), "v"+b.sv.String()
	if !xmodsemver.IsValid(as) || !xmodsemver.IsValid(bs) {
		return false, false
	}
	want := sign(a.sv.Compare(b.sv))
	got := sign(xmodsemver.Compare(as, bs))
	return want == got, true
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

// Equal reports structural equality, used by the lockfile's identity and
// sync-spec invariants.
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }
