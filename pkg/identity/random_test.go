package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomBase64(t *testing.T) {
	t.Run("rejects fewer than the minimum entropy bytes", func(t *testing.T) {
		_, err := RandomBase64(16)
		assert.Error(t, err)
	})

	t.Run("two draws are virtually certain to differ", func(t *testing.T) {
		a, err := RandomBase64(MinRandomBytes)
		require.NoError(t, err)
		b, err := RandomBase64(MinRandomBytes)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("output has no padding characters", func(t *testing.T) {
		s, err := RandomBase64(MinRandomBytes)
		require.NoError(t, err)
		assert.NotContains(t, s, "=")
	})
}
