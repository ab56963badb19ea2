package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndMatches(t *testing.T) {
	a, err := New(SHA256, []byte("hello"))
	require.NoError(t, err)
	b, err := New(SHA256, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, a.Matches(b))

	c, err := New(SHA256, []byte("world"))
	require.NoError(t, err)
	assert.False(t, a.Matches(c))
}

func TestMatchesIgnoresFieldOrderAndExtraAlgorithms(t *testing.T) {
	a, err := Parse("sha512-abc sha256-def")
	require.NoError(t, err)
	b, err := Parse("sha256-def")
	require.NoError(t, err)
	assert.True(t, a.Matches(b))
	assert.True(t, b.Matches(a))
}

func TestParseRoundTrip(t *testing.T) {
	in, err := Parse("sha256-QUJD")
	require.NoError(t, err)
	assert.Equal(t, "sha256-QUJD", in.String())
}
