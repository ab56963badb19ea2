package lockfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nvim-neorocks/lux/internal/integrity"
)

func parseIntegrityForTest(t *testing.T, s string) (integrity.Integrity, error) {
	t.Helper()
	in, err := integrity.Parse(s)
	require.NoError(t, err)
	return in, nil
}
