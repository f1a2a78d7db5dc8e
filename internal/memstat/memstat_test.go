package memstat

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSampler(t *testing.T) {
	s, err := NewProcessSampler(zerolog.Nop())
	require.NoError(t, err)
	assert.Positive(t, s.PeakBytes())
}

func TestRuntimeSampler(t *testing.T) {
	assert.Positive(t, RuntimeSampler{}.PeakBytes())
}

func TestDefault(t *testing.T) {
	assert.Positive(t, Default(zerolog.Nop()).PeakBytes())
}

func TestFunc(t *testing.T) {
	var s Sampler = Func(func() int64 { return 1234 })
	assert.Equal(t, int64(1234), s.PeakBytes())
}
