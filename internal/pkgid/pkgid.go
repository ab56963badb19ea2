// Package pkgid computes the stable, content-addressed LocalPackageId used
// to key every installed package in a tree and lockfile.
package pkgid

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/nvim-neorocks/lux/internal/version"
)

// PinnedState marks packages that never upgrade across a sync.
type PinnedState bool

const (
	Unpinned PinnedState = false
	Pinned   PinnedState = true
)

// OptState marks packages that may be absent without error.
type OptState bool

const (
	Required OptState = false
	Optional OptState = true
)

// New computes the LocalPackageId: the lowercase hex of SHA-256 over the
// ordered concatenation name ∥ version ∥ pinned-bool ∥ opt-bool ∥
// constraint-string (empty string if unconstrained).
//
// This byte layout must not change without also changing every on-disk
// id ever written: two installed packages with identical id must be
// bit-identical.
func New(name string, v version.Version, pinned PinnedState, opt OptState, constraint *version.Requirement) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte(v.String()))
	h.Write(boolByte(bool(pinned)))
	h.Write(boolByte(bool(opt)))
	if constraint != nil {
		h.Write([]byte(constraint.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}
