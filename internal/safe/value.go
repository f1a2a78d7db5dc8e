package safe

import (
	"math"
)

// Uint64ToInt64 converts val, clamping to math.MaxInt64. The boolean reports
// whether clamping happened.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// NonNegative clamps negative readings to zero.
func NonNegative[T ~int | ~int64 | ~float64](v T) T {
	if v < 0 {
		return 0
	}
	return v
}
