package common

import (
	"math/bits"

	"golang.org/x/exp/constraints"
)

// Clamp limits v to the closed range [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CeilPowerOfTwo rounds v up to the next power of two. Zero rounds up to one.
func CeilPowerOfTwo(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << (32 - bits.LeadingZeros32(v-1))
}

// CeilLog2 returns the smallest n such that 1<<n >= v.
func CeilLog2(v uint32) uint32 {
	if v <= 1 {
		return 0
	}
	return uint32(32 - bits.LeadingZeros32(v-1))
}

// DivideAndRoundUp returns ceil(a / b) for unsigned integers.
func DivideAndRoundUp[T constraints.Unsigned](a, b T) T {
	return (a + b - 1) / b
}
