package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFidelity(t *testing.T) {
	cases := []string{
		"1.0.0-1",
		"1.0.0.10-1",
		"dev-1",
		"scm-1",
		"99.0.0-1",
	}
	for _, s := range cases {
		v, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, v.String(), "round-trip for %q", s)
	}
}

func TestParseDefaultsSpecrevToOne(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), v.Specrev())
	assert.Equal(t, "1.2.3-1", v.String())
}

func TestParseInvalidSpecrev(t *testing.T) {
	_, err := Parse("1.0.0-abc")
	assert.ErrorIs(t, err, ErrInvalidSpecrev)
}

func TestParseFourthComponentBecomesPrerelease(t *testing.T) {
	v, err := Parse("1.0.0.10-1")
	require.NoError(t, err)
	assert.Equal(t, KindSemVer, v.Kind())
	assert.Equal(t, "1.0.0.10-1", v.String())

	v2, err := Parse("1.0.0.10.0-1")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0.10.0-1", v2.String())
}

func TestParseStringFallback(t *testing.T) {
	v, err := Parse("unstable-banana-1")
	require.NoError(t, err)
	assert.Equal(t, KindString, v.Kind())
}

func TestDevBeatsSemVer(t *testing.T) {
	dev, err := Parse("dev-1")
	require.NoError(t, err)
	sv, err := Parse("99.0.0-1")
	require.NoError(t, err)
	assert.True(t, dev.Compare(sv) > 0, "dev-1 should be greater than 99.0.0-1")
}

func TestStringLessThanSemVerLessThanDev(t *testing.T) {
	sv, _ := Parse("1.0.0-1")
	str, _ := Parse("unstable-1")
	dev, _ := Parse("dev-1")

	assert.True(t, str.Compare(sv) < 0)
	assert.True(t, sv.Compare(dev) < 0)
}

func TestDevOrderingSpecrevFirst(t *testing.T) {
	a, _ := Parse("dev-1")
	b, _ := Parse("scm-2")
	// specrev compares before marker
	assert.True(t, a.Compare(b) < 0)
}

func TestSemVerSpecrevTiebreak(t *testing.T) {
	a, _ := Parse("1.0.0-1")
	b, _ := Parse("1.0.0-2")
	assert.True(t, a.Compare(b) < 0)
	assert.False(t, a.Equal(b))
}

func TestMissingComponentsPadded(t *testing.T) {
	v, err := Parse("1-1")
	require.NoError(t, err)
	assert.Equal(t, "1-1", v.String())

	v2, err := Parse("1.5-1")
	require.NoError(t, err)
	assert.Equal(t, "1.5-1", v2.String())
}

func TestCrossCheckOrderAgreesWithMastermindsForOrdinarySemVer(t *testing.T) {
	cases := [][2]string{
		{"1.0.0-1", "2.0.0-1"},
		{"1.2.3-1", "1.2.4-1"},
		{"1.2.0-1", "1.10.0-1"},
		{"2.0.0-1", "2.0.0-1"},
		{"1.0.0.10-1", "1.0.0.20-1"},
	}
	for _, c := range cases {
		a, err := Parse(c[0])
		require.NoError(t, err)
		b, err := Parse(c[1])
		require.NoError(t, err)

		agree, applicable := CrossCheckOrder(a, b)
		require.True(t, applicable, "%s vs %s should be cross-checkable", c[0], c[1])
		assert.True(t, agree, "%s vs %s: Masterminds/x-mod semver disagreed on ordering", c[0], c[1])
	}
}

func TestCrossCheckOrderNotApplicableAcrossKindsOrSpecrevs(t *testing.T) {
	semv, _ := Parse("1.0.0-1")
	str, _ := Parse("scm-1")
	_, applicable := CrossCheckOrder(semv, str)
	assert.False(t, applicable)

	a, _ := Parse("1.0.0-1")
	b, _ := Parse("1.0.0-2")
	_, applicable = CrossCheckOrder(a, b)
	assert.False(t, applicable, "differing specrev is outside what x/mod/semver models")
}
