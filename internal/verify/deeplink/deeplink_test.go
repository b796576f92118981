package deeplink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "credverify/pkg/domain-errors"
)

func TestBuild(t *testing.T) {
	assert.Equal(t, "https://verify.example.org/verify?tokenId=5", Build("https://verify.example.org/", 5))
	assert.Equal(t, "https://verify.example.org/app/verify?tokenId=18446744073709551615", Build("https://verify.example.org/app", 18446744073709551615))
}

func TestParse(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		raw, err := Parse(Build("https://verify.example.org", 42))
		require.NoError(t, err)
		assert.Equal(t, "42", raw)
	})

	t.Run("value is not validated here", func(t *testing.T) {
		raw, err := Parse("https://verify.example.org/verify?tokenId=-1")
		require.NoError(t, err)
		assert.Equal(t, "-1", raw)
	})

	t.Run("query only", func(t *testing.T) {
		raw, err := Parse("?tokenId=7")
		require.NoError(t, err)
		assert.Equal(t, "7", raw)
	})

	t.Run("missing parameter", func(t *testing.T) {
		_, err := Parse("https://verify.example.org/verify?id=5")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Parse("http://[::1")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}
