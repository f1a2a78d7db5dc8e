package safe

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUint64ToInt64(t *testing.T) {
	v, clamped := Uint64ToInt64(42)
	assert.Equal(t, int64(42), v)
	assert.False(t, clamped)

	v, clamped = Uint64ToInt64(math.MaxUint64)
	assert.Equal(t, int64(math.MaxInt64), v)
	assert.True(t, clamped)
}

func TestNonNegative(t *testing.T) {
	assert.Equal(t, int64(0), NonNegative(int64(-5)))
	assert.Equal(t, int64(7), NonNegative(int64(7)))
	assert.Equal(t, 0.0, NonNegative(-0.5))
	assert.Equal(t, 3, NonNegative(3))
}
