package bench

import (
	"math/rand/v2"
	"time"
)

// synthClock advances 0 to 12 ms on every reading.
type synthClock struct {
	now time.Time
	rng *rand.Rand
}

func (c *synthClock) Now() time.Time {
	c.now = c.now.Add(time.Duration(c.rng.IntN(13)) * time.Millisecond)
	return c.now
}

// synthMemory grows by up to 64 KiB per reading.
type synthMemory struct {
	rng  *rand.Rand
	base int64
}

func (m *synthMemory) PeakBytes() int64 {
	m.base += m.rng.Int64N(64 << 10)
	return m.base
}
