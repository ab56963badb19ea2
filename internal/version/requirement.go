package version

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Op is a semver range comparison operator.
type Op uint8

const (
	OpEq Op = iota
	OpGt
	OpGte
	OpLt
	OpLte
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	}
	return "?"
}

// Clause is a single "<op><semver>" range test, ANDed with its siblings
// inside a Requirement of ReqKindSemVer.
type Clause struct {
	Op Op
	V  *semver.Version
}

// ReqKind tags the Requirement variant.
type ReqKind uint8

const (
	ReqKindAny ReqKind = iota
	ReqKindSemVer
	ReqKindDev
	ReqKindString
)

// Requirement is a tagged union over a semver range, a dev marker, an
// opaque string literal, and the match-anything Any.
type Requirement struct {
	kind    ReqKind
	clauses []Clause // ReqKindSemVer
	marker  DevMarker
	literal string
}

// Any is the requirement that matches every version.
var Any = Requirement{kind: ReqKindAny}

func (r Requirement) Kind() ReqKind { return r.kind }

// String renders a stable, canonical form of the requirement. It is part
// of the LocalPackageId hash input, so its rendering must be
// deterministic for structurally-equal requirements.
func (r Requirement) String() string {
	switch r.kind {
	case ReqKindAny:
		return "*"
	case ReqKindDev:
		return "==" + r.marker.String()
	case ReqKindString:
		return "==" + r.literal
	case ReqKindSemVer:
		parts := make([]string, len(r.clauses))
		for i, c := range r.clauses {
			parts[i] = c.Op.String() + c.V.String()
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

var devTokens = map[string]DevMarker{
	"dev": DevMarkerDev,
	"scm": DevMarkerSCM,
	"git": DevMarkerSCM,
}

// ParseRequirement parses a constraint string: HTML entities are
// unescaped first; "==" and "@" are aliases for "="; "~>X.Y[.Z]" expands
// to a pessimistic range; bare alphanumeric tokens are treated as
// "=token"; comma-separated clauses are ANDed.
func ParseRequirement(s string) (Requirement, error) {
	s = html.UnescapeString(strings.TrimSpace(s))
	if s == "" || s == "*" {
		return Any, nil
	}

	var rawClauses []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		expanded, err := expandClause(tok)
		if err != nil {
			return Requirement{}, err
		}
		rawClauses = append(rawClauses, expanded...)
	}
	if len(rawClauses) == 0 {
		return Any, nil
	}

	// The requirement's variant is decided by the first clause; luarocks
	// constraints never mix kinds within one requirement string.
	kind, err := classify(rawClauses[0])
	if err != nil {
		return Requirement{}, err
	}

	switch kind {
	case ReqKindDev:
		_, rhs := splitOp(rawClauses[0])
		return Requirement{kind: ReqKindDev, marker: devTokens[rhs]}, nil
	case ReqKindString:
		_, rhs := splitOp(rawClauses[0])
		return Requirement{kind: ReqKindString, literal: rhs}, nil
	}

	clauses := make([]Clause, 0, len(rawClauses))
	for _, raw := range rawClauses {
		c, err := parseSemVerClause(raw)
		if err != nil {
			return Requirement{}, errors.Wrapf(err, "parsing constraint clause %q", raw)
		}
		clauses = append(clauses, c)
	}
	return Requirement{kind: ReqKindSemVer, clauses: clauses}, nil
}

// expandClause normalizes operator aliases and expands "~>" into its
// constituent range clauses.
func expandClause(tok string) ([]string, error) {
	switch {
	case strings.HasPrefix(tok, "=="):
		return []string{"=" + strings.TrimPrefix(tok, "==")}, nil
	case strings.HasPrefix(tok, "@"):
		return []string{"=" + strings.TrimPrefix(tok, "@")}, nil
	case strings.HasPrefix(tok, "~>"):
		return expandPessimistic(strings.TrimSpace(strings.TrimPrefix(tok, "~>")))
	case strings.HasPrefix(tok, ">="), strings.HasPrefix(tok, "<="),
		strings.HasPrefix(tok, ">"), strings.HasPrefix(tok, "<"), strings.HasPrefix(tok, "="):
		return []string{tok}, nil
	default:
		// bare alphanumeric token -> "=token"
		return []string{"=" + tok}, nil
	}
}

func expandPessimistic(rhs string) ([]string, error) {
	parts := strings.Split(rhs, ".")
	for _, p := range parts {
		if !isAllDigits(p) {
			return nil, errors.Errorf("invalid ~> constraint operand %q", rhs)
		}
	}
	if len(parts) < 2 {
		return nil, errors.Errorf("~> constraint requires at least major.minor, got %q", rhs)
	}

	if len(parts) > 3 {
		// No meaningful "next" bound beyond three components: the caller
		// supplies an explicit upper-bound clause of their own.
		return []string{">=" + rhs}, nil
	}

	major, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, err
	}
	minor, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, err
	}

	return []string{
		">=" + rhs,
		fmt.Sprintf("<%d.%d.0", major, minor+1),
	}, nil
}

func splitOp(raw string) (Op, string) {
	switch {
	case strings.HasPrefix(raw, ">="):
		return OpGte, raw[2:]
	case strings.HasPrefix(raw, "<="):
		return OpLte, raw[2:]
	case strings.HasPrefix(raw, ">"):
		return OpGt, raw[1:]
	case strings.HasPrefix(raw, "<"):
		return OpLt, raw[1:]
	case strings.HasPrefix(raw, "="):
		return OpEq, raw[1:]
	}
	return OpEq, raw
}

// classify determines whether the clause's operand is a semver-, dev-, or
// string-shaped literal.
func classify(raw string) (ReqKind, error) {
	_, rhs := splitOp(raw)
	rhs = strings.TrimSpace(rhs)
	if rhs == "" {
		return 0, errors.Errorf("empty constraint operand in %q", raw)
	}
	if _, ok := devTokens[rhs]; ok {
		return ReqKindDev, nil
	}
	if _, err := padAndParseSemVer(rhs); err == nil {
		return ReqKindSemVer, nil
	}
	return ReqKindString, nil
}

func parseSemVerClause(raw string) (Clause, error) {
	op, rhs := splitOp(raw)
	sv, err := padAndParseSemVer(strings.TrimSpace(rhs))
	if err != nil {
		return Clause{}, err
	}
	return Clause{Op: op, V: sv}, nil
}

// padAndParseSemVer accepts the same dotted-number grammar as version
// parsing: 1-3 numeric components padded with zeros, with any fourth and
// later component folded into the pre-release (so ">=2.1.0.10" bounds at
// 2.1.0-10).
func padAndParseSemVer(s string) (*semver.Version, error) {
	sv, _, ok := parseSemVer(s)
	if !ok {
		return nil, errors.Errorf("not a semver operand: %q", s)
	}
	return sv, nil
}

// Matches reports whether v satisfies the requirement. A requirement
// only ever matches versions of its own tag, except Any which matches
// everything.
func (r Requirement) Matches(v Version) bool {
	switch r.kind {
	case ReqKindAny:
		return true
	case ReqKindDev:
		return v.kind == KindDev && v.marker == r.marker
	case ReqKindString:
		return v.kind == KindString && v.literal == r.literal
	case ReqKindSemVer:
		if v.kind != KindSemVer {
			return false
		}
		for _, c := range r.clauses {
			if !clauseMatches(c, v.sv) {
				return false
			}
		}
		return true
	}
	return false
}

// Equal reports structural equality between two requirements, as used by
// the lockfile's sync-spec to decide whether an installed constraint
// still matches a declared one.
func (r Requirement) Equal(other Requirement) bool {
	if r.kind != other.kind {
		return false
	}
	switch r.kind {
	case ReqKindAny:
		return true
	case ReqKindDev:
		return r.marker == other.marker
	case ReqKindString:
		return r.literal == other.literal
	case ReqKindSemVer:
		if len(r.clauses) != len(other.clauses) {
			return false
		}
		for i, c := range r.clauses {
			oc := other.clauses[i]
			if c.Op != oc.Op || c.V.Compare(oc.V) != 0 {
				return false
			}
		}
		return true
	}
	return false
}

func clauseMatches(c Clause, v *semver.Version) bool {
	cmp := v.Compare(c.V)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}
