// Package integrity implements content hashes for rockspec text and source
// archives: algorithm-tagged, SRI-style digests that can carry more than
// one algorithm/value pair and compare equal if any pair coincides.
package integrity

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Algorithm names a supported hash function, following the sha256-<b64>
// SRI convention used by package-lock ecosystems.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
)

// Integrity is an algorithm-tagged content hash. A single Integrity may
// carry several algorithm/value pairs (e.g. recomputed at a stronger
// algorithm later); any coinciding pair makes two Integrity values match.
type Integrity struct {
	pairs map[Algorithm]string // base64-encoded digest, keyed by algorithm
}

// New builds an Integrity from raw bytes, hashed with algo.
func New(algo Algorithm, data []byte) (Integrity, error) {
	h, err := newHash(algo)
	if err != nil {
		return Integrity{}, err
	}
	h.Write(data)
	return Integrity{pairs: map[Algorithm]string{algo: base64.StdEncoding.EncodeToString(h.Sum(nil))}}, nil
}

// FromReader streams r through algo, for hashing archives without holding
// them fully in memory.
func FromReader(algo Algorithm, r io.Reader) (Integrity, error) {
	h, err := newHash(algo)
	if err != nil {
		return Integrity{}, err
	}
	if _, err := io.Copy(h, r); err != nil {
		return Integrity{}, errors.Wrap(err, "hashing stream")
	}
	return Integrity{pairs: map[Algorithm]string{algo: base64.StdEncoding.EncodeToString(h.Sum(nil))}}, nil
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	}
	return nil, errors.Errorf("unsupported integrity algorithm %q", algo)
}

// Parse reads the canonical "<algo>-<base64>" form. Multiple pairs are
// separated by whitespace, mirroring how SRI attributes stack hashes.
func Parse(s string) (Integrity, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Integrity{}, errors.New("empty integrity string")
	}
	in := Integrity{pairs: make(map[Algorithm]string, len(fields))}
	for _, f := range fields {
		idx := strings.IndexByte(f, '-')
		if idx < 0 {
			return Integrity{}, errors.Errorf("malformed integrity field %q", f)
		}
		in.pairs[Algorithm(f[:idx])] = f[idx+1:]
	}
	return in, nil
}

// String renders the canonical form, algorithms sorted for determinism.
func (in Integrity) String() string {
	algos := make([]string, 0, len(in.pairs))
	for a := range in.pairs {
		algos = append(algos, string(a))
	}
	sort.Strings(algos)

	parts := make([]string, 0, len(algos))
	for _, a := range algos {
		parts = append(parts, a+"-"+in.pairs[Algorithm(a)])
	}
	return strings.Join(parts, " ")
}

// IsZero reports whether no algorithm/value pairs are present.
func (in Integrity) IsZero() bool { return len(in.pairs) == 0 }

// Matches reports whether in and other share any algorithm/value pair.
// Field ordering never matters.
func (in Integrity) Matches(other Integrity) bool {
	for algo, val := range in.pairs {
		if ov, ok := other.pairs[algo]; ok && ov == val {
			return true
		}
	}
	return false
}
