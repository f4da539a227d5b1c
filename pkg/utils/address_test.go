package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexUint64(t *testing.T) {
	t.Run("plain quantity", func(t *testing.T) {
		v, err := ParseHexUint64("0x1b")
		require.NoError(t, err)
		assert.Equal(t, uint64(27), v)
	})

	t.Run("zero and padded values", func(t *testing.T) {
		v, err := ParseHexUint64("0x0")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), v)

		v, err = ParseHexUint64("0x000a")
		require.NoError(t, err)
		assert.Equal(t, uint64(10), v)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		_, err := ParseHexUint64("27")
		assert.Error(t, err)

		_, err = ParseHexUint64("0xzz")
		assert.Error(t, err)
	})
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsValidAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, IsValidAddress("0xAAA"))
	assert.Equal(t, "0xabc", NormalizeAddress("ABC"))
	assert.Equal(t, "0x10", FormatBlockNumber(16))
}

func TestAppErrorChain(t *testing.T) {
	cause := NewAppError(ErrCodeNotFound, "missing")
	wrapped := WrapAppError(ErrCodeExternal, "fetch failed", cause)

	assert.True(t, HasCode(wrapped, ErrCodeExternal))
	assert.True(t, HasCode(wrapped, ErrCodeNotFound))
	assert.False(t, HasCode(wrapped, ErrCodeDatabase))
	assert.Contains(t, wrapped.Error(), "fetch failed")
}
