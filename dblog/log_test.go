package dblog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestL(t *testing.T) {
	t.Run("returns a usable logger even without an explicit Init call", func(t *testing.T) {
		assert.NotNil(t, L())
	})
}

func TestMaxOr(t *testing.T) {
	t.Run("a non-positive value falls back to the default", func(t *testing.T) {
		assert.Equal(t, 64, maxOr(0, 64))
		assert.Equal(t, 64, maxOr(-1, 64))
	})

	t.Run("a positive value is kept as-is", func(t *testing.T) {
		assert.Equal(t, 10, maxOr(10, 64))
	})
}
